package smsc

import (
	"context"
	"strings"
	"time"

	"github.com/kannelgo/bearerbox/core/driver"
	"github.com/kannelgo/bearerbox/core/message"
	"github.com/kannelgo/bearerbox/core/queue"
	"github.com/kannelgo/bearerbox/core/supervisor"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// PrefixRewrite rewrites an address matching From's prefix to carry To as
// its prefix instead, applied to a received message's Sender before it is
// produced into the incoming queue. Grounded on smsc.c's "dial-prefix"
// rewriting (numhash/white-list prefix munging applied per-SMSC on receipt),
// a feature the distilled spec omitted but the original performs for every
// inbound message.
type PrefixRewrite struct {
	From string
	To   string
}

func rewriteAddress(addr string, rules []PrefixRewrite) string {
	for _, r := range rules {
		if strings.HasPrefix(addr, r.From) {
			return r.To + strings.TrimPrefix(addr, r.From)
		}
	}
	return addr
}

// Config configures a Conn.
type Config struct {
	SMSCID             string
	DialPrefixRewrites []PrefixRewrite
	InitialBackoff     time.Duration // default 1s
	MaxBackoff         time.Duration // default 60s
	ReceiveTimeout     time.Duration // default 50ms; bounds each driver.Receive poll
	// OnSenderExit, if set, is called once the sender goroutine has joined
	// the receiver and closed the driver, so the caller (the SMSC registry)
	// can tombstone this connection's entry.
	OnSenderExit func()
}

func (c *Config) setDefaults() {
	if c.InitialBackoff == 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = 60 * time.Second
	}
	if c.ReceiveTimeout == 0 {
		c.ReceiveTimeout = 50 * time.Millisecond
	}
}

// Conn is one SMSC connection: a Driver plus the receiver/sender goroutine
// pair described in the spec's per-SMSC component, reopening on transient
// failure and draining cleanly on shutdown via the supervisor's gates and
// flow-thread accounting.
type Conn struct {
	cfg    Config
	drv    driver.Driver
	sup    *supervisor.Supervisor
	logger zerolog.Logger

	outgoing    *queue.Queue[message.Message]
	incomingSMS *queue.Queue[message.Message]
	incomingWDP *queue.Queue[message.Message]

	receiverDone chan struct{}
}

// New returns a Conn ready to Start. outgoing is this SMSC's private
// outbound queue (populated by the SMS/WDP router); incomingSMS/incomingWDP
// are the two global inbound queues every SMSC receiver feeds.
func New(cfg Config, drv driver.Driver, sup *supervisor.Supervisor, outgoing, incomingSMS, incomingWDP *queue.Queue[message.Message], logger zerolog.Logger) *Conn {
	cfg.setDefaults()
	return &Conn{
		cfg:          cfg,
		drv:          drv,
		sup:          sup,
		logger:       logger.With().Str("smsc_id", cfg.SMSCID).Logger(),
		outgoing:     outgoing,
		incomingSMS:  incomingSMS,
		incomingWDP:  incomingWDP,
		receiverDone: make(chan struct{}),
	}
}

// Outgoing returns this connection's private outbound queue, for the router
// to produce into.
func (c *Conn) Outgoing() *queue.Queue[message.Message] { return c.outgoing }

// Driver returns the underlying driver, mainly so the registry/router can
// call MatchesReceiver/AcceptsWDP/SMSCID for routing decisions.
func (c *Conn) Driver() driver.Driver { return c.drv }

// Start launches the receiver and sender goroutines. It does not block.
func (c *Conn) Start(ctx context.Context) {
	go c.receiveLoop(ctx)
	go c.sendLoop(ctx)
}

func (c *Conn) receiveLoop(ctx context.Context) {
	c.incomingSMS.AddProducer()
	wdp := c.drv.AcceptsWDP()
	if wdp {
		c.incomingWDP.AddProducer()
	}
	c.sup.FlowThreads().AddProducer()
	defer func() {
		c.incomingSMS.RemoveProducer()
		if wdp {
			c.incomingWDP.RemoveProducer()
		}
		c.sup.FlowThreads().RemoveProducer()
		close(c.receiverDone)
	}()

	b := newBackoff(c.cfg.InitialBackoff, c.cfg.MaxBackoff)

	for c.sup.ShouldRun() {
		c.sup.Isolated().Consume() // blocks while Isolated or Suspended
		if !c.sup.ShouldRun() {
			return
		}

		rctx, cancel := context.WithTimeout(ctx, c.cfg.ReceiveTimeout)
		msg, ok, err := c.drv.Receive(rctx)
		cancel()

		switch {
		case err != nil && errors.Is(err, driver.ErrFatal):
			c.logger.Error().Err(err).Msg("smsc receiver: fatal error, giving up")
			return

		case err != nil:
			c.logger.Warn().Err(err).Msg("smsc receiver: transient error, reopening")
			if reopenErr := c.reopen(ctx, b); reopenErr != nil {
				if errors.Is(reopenErr, driver.ErrFatal) {
					c.logger.Error().Err(reopenErr).Msg("smsc receiver: reopen failed fatally, giving up")
					return
				}
				// Supervisor stopped while we were backing off.
				return
			}

		case ok:
			b.Reset()
			c.deliver(msg)

		default:
			if sleepInterruptible(ctx, c.sup, time.Second) {
				return
			}
		}
	}
}

// deliver normalizes an inbound Sms's sender address through the configured
// dial-prefix rewrites, stamps this connection's SMSCID, and produces it
// into the right global queue.
func (c *Conn) deliver(msg message.Message) {
	switch msg.Type {
	case message.TypeSms:
		msg.Sms.Sender = rewriteAddress(msg.Sms.Sender, c.cfg.DialPrefixRewrites)
		msg.Sms = msg.Sms.WithSMSCID(c.cfg.SMSCID)
		c.incomingSMS.Produce(msg)
	case message.TypeWdpDatagram:
		c.incomingWDP.Produce(msg)
	default:
		c.logger.Warn().Str("type", msg.Type.String()).Msg("smsc receiver: dropping unexpected message type")
	}
}

func (c *Conn) sendLoop(ctx context.Context) {
	c.sup.FlowThreads().AddProducer()
	defer c.sup.FlowThreads().RemoveProducer()

	b := newBackoff(c.cfg.InitialBackoff, c.cfg.MaxBackoff)

	for {
		c.sup.Suspended().Consume() // blocks while Suspended
		if c.sup.State() == supervisor.StateDead {
			break
		}

		msg, ok := c.outgoing.Consume()
		if !ok {
			break // drained: no more producers will feed this SMSC's queue
		}

		for {
			err := c.drv.Submit(ctx, msg)
			if err == nil {
				b.Reset()
				break
			}
			if errors.Is(err, driver.ErrFatal) {
				c.logger.Error().Err(err).Msg("smsc sender: dropping message after fatal submit error")
				break
			}
			c.logger.Warn().Err(err).Msg("smsc sender: transient submit error, reopening")
			if reopenErr := c.reopen(ctx, b); reopenErr != nil {
				c.logger.Error().Err(reopenErr).Msg("smsc sender: giving up on reopen, dropping message")
				break
			}
		}
	}

	<-c.receiverDone
	c.drv.Close()
	if c.cfg.OnSenderExit != nil {
		c.cfg.OnSenderExit()
	}
}

// reopen retries drv.Reopen with capped exponential backoff, returning early
// if the driver reports ErrFatal or the supervisor stops running.
func (c *Conn) reopen(ctx context.Context, b *backoff) error {
	for c.sup.ShouldRun() {
		if sleepInterruptible(ctx, c.sup, b.Next()) {
			return errors.New("smsc: supervisor stopped during reopen backoff")
		}
		err := c.drv.Reopen(ctx)
		if err == nil {
			b.Reset()
			return nil
		}
		if errors.Is(err, driver.ErrFatal) {
			return err
		}
		c.logger.Warn().Err(err).Msg("smsc: reopen attempt failed, will retry")
	}
	return errors.New("smsc: supervisor stopped during reopen backoff")
}
