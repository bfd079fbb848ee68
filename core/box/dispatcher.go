package box

import (
	"context"

	"github.com/kannelgo/bearerbox/core/message"
	"github.com/kannelgo/bearerbox/core/queue"
	"github.com/kannelgo/bearerbox/core/supervisor"
	"github.com/rs/zerolog"
)

// dispatcherKind selects which drain hook a Dispatcher calls once its global
// queue has drained, mirroring the SMS/WDP split in core/router.
type dispatcherKind int

const (
	dispatchSMS dispatcherKind = iota
	dispatchWDP
)

// Dispatcher is the single goroutine that consumes one of the global
// incomingSMS/incomingWDP queues and hands each message to the least-loaded
// connected box connection's own inbox, the same selection pattern
// core/router.SmsRouter uses to pick an SMSC: one dispatcher per queue
// decides, rather than every box connection racing to consume the same
// shared queue.
type Dispatcher struct {
	kind     dispatcherKind
	registry *Registry
	incoming *queue.Queue[message.Message]
	sup      *supervisor.Supervisor
	logger   zerolog.Logger
}

// NewSMSDispatcher returns a Dispatcher serving the global incomingSMS
// queue.
func NewSMSDispatcher(reg *Registry, incoming *queue.Queue[message.Message], sup *supervisor.Supervisor, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{kind: dispatchSMS, registry: reg, incoming: incoming, sup: sup, logger: logger.With().Str("component", "sms_box_dispatcher").Logger()}
}

// NewWDPDispatcher returns a Dispatcher serving the global incomingWDP
// queue.
func NewWDPDispatcher(reg *Registry, incoming *queue.Queue[message.Message], sup *supervisor.Supervisor, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{kind: dispatchWDP, registry: reg, incoming: incoming, sup: sup, logger: logger.With().Str("component", "wdp_box_dispatcher").Logger()}
}

// Start launches the dispatcher goroutine. It does not block.
func (d *Dispatcher) Start(ctx context.Context) { go d.run(ctx) }

func (d *Dispatcher) run(ctx context.Context) {
	d.sup.FlowThreads().AddProducer()
	defer d.sup.FlowThreads().RemoveProducer()

	for {
		msg, ok := d.incoming.Consume()
		if !ok {
			break
		}
		d.dispatch(msg)
	}

	switch d.kind {
	case dispatchSMS:
		d.registry.DrainSMS()
	case dispatchWDP:
		d.registry.DrainWDP()
	}
}

func (d *Dispatcher) dispatch(msg message.Message) {
	target := d.registry.PickSMSBox()
	if target == nil {
		d.logger.Warn().Str("event", "no_route").Msg("no connected box can accept this message")
		return
	}
	target.Inbox().Produce(msg)
}
