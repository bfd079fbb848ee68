package router

import (
	"context"
	"net"

	"github.com/kannelgo/bearerbox/core/message"
	"github.com/kannelgo/bearerbox/core/queue"
	"github.com/kannelgo/bearerbox/core/registry"
	"github.com/kannelgo/bearerbox/core/smsc"
	"github.com/kannelgo/bearerbox/core/supervisor"
	"github.com/kannelgo/bearerbox/core/wire"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrNoUDP is returned by UDPSender.Send when no UDP socket is configured.
var ErrNoUDP = errors.New("router: no udp sender configured")

// UDPSender wraps the local UDP socket used to deliver WDP datagrams to the
// WAP stack running on this host, as distinct from handing a datagram to an
// SMSC driver that itself accepts WDP. A nil *UDPSender is valid and always
// returns ErrNoUDP, so a deployment with no [core] udp-port configured
// simply has no local delivery path.
type UDPSender struct {
	conn *net.UDPConn
}

// NewUDPSender wraps an already-bound UDP socket.
func NewUDPSender(conn *net.UDPConn) *UDPSender { return &UDPSender{conn: conn} }

// Send encodes dst's destination address/port and writes its payload.
func (u *UDPSender) Send(dst message.WdpDatagram) error {
	if u == nil || u.conn == nil {
		return ErrNoUDP
	}
	ip := net.ParseIP(dst.DestinationAddress)
	if ip == nil {
		return errors.Wrapf(wire.ErrInvalidAddr, "destination address %q is not a valid IP", dst.DestinationAddress)
	}
	enc, err := wire.EncodeAddr(ip, dst.DestinationPort)
	if err != nil {
		return err
	}
	return wire.UDPSendTo(u.conn, enc, dst.UserData)
}

// Stop closes the underlying socket, unblocking any concurrent receive loop.
func (u *UDPSender) Stop() {
	if u != nil && u.conn != nil {
		_ = u.conn.Close()
	}
}

// WdpRouter is the single goroutine that consumes outgoingWDP and dispatches
// each datagram either to the least-loaded WDP-capable SMSC, or, failing
// that, to the local UDP socket.
type WdpRouter struct {
	registry *SmscRegistry
	incoming *queue.Queue[message.Message]
	udp      *UDPSender
	sup      *supervisor.Supervisor
	logger   zerolog.Logger
}

// NewWdpRouter returns a WdpRouter ready to Start. incoming is the global
// outgoingWDP queue; udp may be nil if no local WAP delivery path is
// configured.
func NewWdpRouter(reg *SmscRegistry, incoming *queue.Queue[message.Message], udp *UDPSender, sup *supervisor.Supervisor, logger zerolog.Logger) *WdpRouter {
	return &WdpRouter{registry: reg, incoming: incoming, udp: udp, sup: sup, logger: logger.With().Str("component", "wdp_router").Logger()}
}

// Start launches the router goroutine. It does not block.
func (r *WdpRouter) Start(ctx context.Context) { go r.run(ctx) }

func (r *WdpRouter) run(ctx context.Context) {
	r.sup.FlowThreads().AddProducer()
	defer r.sup.FlowThreads().RemoveProducer()

	for {
		msg, ok := r.incoming.Consume()
		if !ok {
			break
		}
		r.route(msg)
	}
	r.udp.Stop()
	r.registry.DrainWDP()
}

func (r *WdpRouter) route(msg message.Message) {
	r.registry.Lock()
	var best *smsc.Conn
	r.registry.Each(func(_ registry.ID, c *smsc.Conn) {
		if !c.Driver().AcceptsWDP() {
			return
		}
		if best == nil || c.Outgoing().Len() < best.Outgoing().Len() {
			best = c
		}
	})
	r.registry.Unlock()

	if best != nil {
		best.Outgoing().Produce(msg)
		return
	}
	if err := r.udp.Send(msg.Wdp); err != nil {
		r.logger.Warn().Err(err).Str("event", "no_route").Msg("no route for WDP datagram")
	}
}
