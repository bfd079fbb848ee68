package box

import (
	"context"
	"time"

	"github.com/kannelgo/bearerbox/core/registry"
	"github.com/kannelgo/bearerbox/core/supervisor"
	"github.com/rs/zerolog"
)

// Watchdog periodically scans a Registry and kills any connection whose
// last heartbeat is older than 2*heartbeatFreq, per the spec's box
// liveness rule. It runs as its own flow-thread so it participates in the
// shutdown drain avalanche like every other worker.
type Watchdog struct {
	registry *Registry
	freq     time.Duration
	sup      *supervisor.Supervisor
	logger   zerolog.Logger
}

// NewWatchdog returns a Watchdog ticking every freq.
func NewWatchdog(reg *Registry, freq time.Duration, sup *supervisor.Supervisor, logger zerolog.Logger) *Watchdog {
	return &Watchdog{registry: reg, freq: freq, sup: sup, logger: logger.With().Str("component", "box_watchdog").Logger()}
}

// Start launches the watchdog goroutine. It does not block.
func (w *Watchdog) Start(ctx context.Context) { go w.run(ctx) }

func (w *Watchdog) run(ctx context.Context) {
	w.sup.FlowThreads().AddProducer()
	defer w.sup.FlowThreads().RemoveProducer()

	ticker := time.NewTicker(w.freq)
	defer ticker.Stop()

	timeout := 2 * w.freq
	for w.sup.ShouldRun() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(timeout)
		}
	}
}

func (w *Watchdog) sweep(timeout time.Duration) {
	now := time.Now()
	w.registry.EachLocked(func(id registry.ID, c *Conn) {
		if c.Killed() {
			return
		}
		if now.Sub(c.LastHeartbeat()) > timeout {
			w.logger.Warn().Str("remote_addr", c.RemoteAddr()).Str("event", "heartbeat_timeout").Msg("box connection missed heartbeat deadline, killing")
			c.Kill()
		}
	})
}
