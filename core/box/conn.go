package box

import (
	"bufio"
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kannelgo/bearerbox/core/message"
	"github.com/kannelgo/bearerbox/core/queue"
	"github.com/kannelgo/bearerbox/core/supervisor"
	"github.com/kannelgo/bearerbox/core/wire"
	"github.com/rs/zerolog"
)

// Config configures a Conn.
type Config struct {
	Policy       AllowDenyPolicy
	PollInterval time.Duration // default 200ms; how often ReadAvailable/TryConsume are polled
}

func (c *Config) setDefaults() {
	if c.PollInterval == 0 {
		c.PollInterval = 200 * time.Millisecond
	}
}

// Conn is one accepted SMS-box or WAP-box socket, forking a box-receiver and
// a box-sender goroutine. It tracks the peer's self-reported load and last
// heartbeat time for the watchdog and for Registry.PickSMSBox, and owns a
// private inbox queue that only a Dispatcher produces into: MT delivery to
// a specific connected box is a selection made once, by the dispatcher, not
// a race between every connection's sender over one shared queue.
type Conn struct {
	cfg        Config
	netConn    net.Conn
	br         *bufio.Reader
	remoteAddr string
	sup        *supervisor.Supervisor
	logger     zerolog.Logger

	inbox       *queue.Queue[message.Message] // consumed (box-sender); fed only by Dispatcher
	outgoingSMS *queue.Queue[message.Message] // produced into (box-receiver)
	outgoingWDP *queue.Queue[message.Message]

	mu            sync.Mutex
	lastHeartbeat time.Time
	load          int32

	killed       atomic.Bool
	receiverDone chan struct{}
}

// New returns a Conn ready to Start, wrapping an already-accepted socket.
// outgoingSMS/outgoingWDP are the global MO queues the box-receiver feeds;
// this connection's own inbox (fed by a Dispatcher, see Inbox) is private.
func New(cfg Config, netConn net.Conn, sup *supervisor.Supervisor, outgoingSMS, outgoingWDP *queue.Queue[message.Message], logger zerolog.Logger) *Conn {
	cfg.setDefaults()
	remote := netConn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(remote); err == nil {
		remote = host
	}
	return &Conn{
		cfg:           cfg,
		netConn:       netConn,
		br:            bufio.NewReader(netConn),
		remoteAddr:    remote,
		sup:           sup,
		logger:        logger.With().Str("component", "box_conn").Str("remote_addr", remote).Logger(),
		inbox:         queue.New[message.Message](),
		outgoingSMS:   outgoingSMS,
		outgoingWDP:   outgoingWDP,
		lastHeartbeat: time.Now(),
		receiverDone:  make(chan struct{}),
	}
}

// Inbox returns this connection's private MT queue, fed by the SMS/WDP box
// dispatchers once this connection has been picked as the delivery target.
func (c *Conn) Inbox() *queue.Queue[message.Message] { return c.inbox }

// RemoteAddr returns the peer's IP address (without port).
func (c *Conn) RemoteAddr() string { return c.remoteAddr }

// Load returns the peer's most recently reported load factor.
func (c *Conn) Load() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load
}

// LastHeartbeat returns the time of the most recently received heartbeat
// (or connection creation time, if none has arrived yet).
func (c *Conn) LastHeartbeat() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeartbeat
}

// Killed reports whether this connection has been torn down, either by a
// protocol/IO error or by the heartbeat watchdog.
func (c *Conn) Killed() bool { return c.killed.Load() }

// Kill marks the connection dead and closes the socket, unblocking any
// goroutine currently polling it. Safe to call more than once and from any
// goroutine (the heartbeat watchdog calls this).
func (c *Conn) Kill() {
	if c.killed.CompareAndSwap(false, true) {
		_ = c.netConn.Close()
	}
}

// Start launches the box-receiver and box-sender goroutines. It does not
// block.
func (c *Conn) Start(ctx context.Context) {
	go c.receiveLoop(ctx)
	go c.sendLoop(ctx)
}

func (c *Conn) receiveLoop(ctx context.Context) {
	c.outgoingSMS.AddProducer()
	c.outgoingWDP.AddProducer()
	c.sup.FlowThreads().AddProducer()
	defer func() {
		c.outgoingSMS.RemoveProducer()
		c.outgoingWDP.RemoveProducer()
		c.sup.FlowThreads().RemoveProducer()
		close(c.receiverDone)
	}()

	if !c.cfg.Policy.Allowed(c.remoteAddr) {
		c.logger.Warn().Str("event", "denied_ip").Msg("box connection rejected by IP policy")
		c.Kill()
		return
	}

	for c.sup.ShouldRun() && !c.Killed() {
		n, err := wire.ReadAvailable(c.netConn, c.br, c.cfg.PollInterval)
		if err != nil {
			c.logger.Warn().Err(err).Msg("box receiver: connection error, killing")
			c.Kill()
			return
		}
		if n == 0 {
			continue // nothing yet; loop around to re-check supervisor/killed state
		}

		frame, err := wire.RecvFrame(c.br)
		if err != nil {
			c.logger.Warn().Err(err).Msg("box receiver: frame read error, killing")
			c.Kill()
			return
		}
		msg, err := message.Unpack(frame)
		if err != nil {
			c.logger.Warn().Err(err).Msg("box receiver: malformed message, dropping")
			continue
		}

		if msg.Type == message.TypeHeartbeat {
			c.mu.Lock()
			c.lastHeartbeat = time.Now()
			c.load = msg.Heartbeat.Load
			c.mu.Unlock()
			continue
		}

		switch msg.Type {
		case message.TypeSms:
			c.outgoingSMS.Produce(msg)
		case message.TypeWdpDatagram:
			c.outgoingWDP.Produce(msg)
		default:
			c.logger.Warn().Str("type", msg.Type.String()).Msg("box receiver: dropping unexpected message type")
		}
	}
}

func (c *Conn) sendLoop(ctx context.Context) {
	c.sup.FlowThreads().AddProducer()
	defer c.sup.FlowThreads().RemoveProducer()

	for {
		c.sup.Suspended().Consume()
		if c.sup.State() == supervisor.StateDead || c.Killed() {
			break
		}

		msg, ok := c.inbox.TryConsume()
		if !ok {
			if c.fullyDrained() {
				break
			}
			if c.Killed() {
				break
			}
			time.Sleep(c.cfg.PollInterval)
			continue
		}

		raw, err := msg.Pack()
		if err != nil {
			c.logger.Warn().Err(err).Msg("box sender: failed to encode message, dropping")
			continue
		}
		if err := wire.SendFrame(c.netConn, raw); err != nil {
			c.logger.Warn().Err(err).Msg("box sender: write error, killing")
			c.Kill()
			break
		}
	}

	<-c.receiverDone
	c.Kill()
}

// fullyDrained reports whether this connection's private inbox can ever
// receive another item: it is empty and has no registered producer left
// (both the SMS and WDP dispatchers have deregistered).
func (c *Conn) fullyDrained() bool {
	return c.inbox.ProducerCount() == 0 && c.inbox.Len() == 0
}
