package router

import (
	"context"

	"github.com/kannelgo/bearerbox/core/driver"
	"github.com/kannelgo/bearerbox/core/message"
	"github.com/kannelgo/bearerbox/core/queue"
	"github.com/kannelgo/bearerbox/core/registry"
	"github.com/kannelgo/bearerbox/core/smsc"
	"github.com/kannelgo/bearerbox/core/supervisor"
	"github.com/rs/zerolog"
)

// Config holds the route-level overrides applied on top of each driver's own
// MatchesReceiver verdict.
type Config struct {
	PreferredSMSCID []string
	DeniedSMSCID    []string
}

func containsID(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// applyOverride upgrades/downgrades a driver's own MatchLevel verdict using
// the route-level preferred/denied SMSC-id lists. A denied id always wins;
// a preferred id upgrades anything that isn't denied to Preferred.
func applyOverride(level driver.MatchLevel, smscID string, preferred, denied []string) driver.MatchLevel {
	if containsID(denied, smscID) {
		return driver.Denied
	}
	if containsID(preferred, smscID) {
		return driver.Preferred
	}
	return level
}

// SmsRouter is the single goroutine that consumes outgoingSMS and dispatches
// each message to the best-matching live SMSC connection.
type SmsRouter struct {
	cfg      Config
	registry *SmscRegistry
	incoming *queue.Queue[message.Message]
	sup      *supervisor.Supervisor
	logger   zerolog.Logger
}

// NewSmsRouter returns an SmsRouter ready to Start. incoming is the global
// outgoingSMS queue.
func NewSmsRouter(cfg Config, reg *SmscRegistry, incoming *queue.Queue[message.Message], sup *supervisor.Supervisor, logger zerolog.Logger) *SmsRouter {
	return &SmsRouter{cfg: cfg, registry: reg, incoming: incoming, sup: sup, logger: logger.With().Str("component", "sms_router").Logger()}
}

// Start launches the router goroutine. It does not block.
func (r *SmsRouter) Start(ctx context.Context) { go r.run(ctx) }

func (r *SmsRouter) run(ctx context.Context) {
	r.sup.FlowThreads().AddProducer()
	defer r.sup.FlowThreads().RemoveProducer()

	for {
		msg, ok := r.incoming.Consume()
		if !ok {
			break
		}
		r.route(msg)
	}
	r.registry.DrainAll()
}

type smscCandidate struct {
	conn *smsc.Conn
}

func pickLowestLoad(cands []smscCandidate) *smsc.Conn {
	if len(cands) == 0 {
		return nil
	}
	best := cands[0].conn
	bestLoad := best.Outgoing().Len()
	for _, c := range cands[1:] {
		if l := c.conn.Outgoing().Len(); l < bestLoad {
			best, bestLoad = c.conn, l
		}
	}
	return best
}

func (r *SmsRouter) route(msg message.Message) {
	r.registry.Lock()
	defer r.registry.Unlock()

	var preferred, allowed []smscCandidate
	r.registry.Each(func(_ registry.ID, c *smsc.Conn) {
		level := c.Driver().MatchesReceiver(msg.Sms.Receiver)
		level = applyOverride(level, c.Driver().SMSCID(), r.cfg.PreferredSMSCID, r.cfg.DeniedSMSCID)
		switch level {
		case driver.Denied:
			return
		case driver.Preferred:
			preferred = append(preferred, smscCandidate{c})
		default: // Allowed or Neutral
			allowed = append(allowed, smscCandidate{c})
		}
	})

	target := pickLowestLoad(preferred)
	if target == nil {
		target = pickLowestLoad(allowed)
	}
	if target == nil {
		r.logger.Warn().Str("event", "no_route").Str("receiver", msg.Sms.Receiver).Msg("no SMSC can accept this message")
		return
	}
	target.Outgoing().Produce(msg)
}
