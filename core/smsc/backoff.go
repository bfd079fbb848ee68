// Package smsc implements the per-SMSC connection: one receiver goroutine
// and one sender goroutine sharing a Driver, each gated by the supervisor
// and reopening the driver with capped exponential backoff on transient
// failure, per the spec's generalization of Kannel's bb_smscconn_*
// reconnection loop (smsc.c: does_reopen, wait_for_startup).
package smsc

import (
	"context"
	"time"

	"github.com/kannelgo/bearerbox/core/supervisor"
)

// backoff produces a capped exponential sequence starting at initial and
// doubling up to max (1,2,4,8,16,32,60,60,... for the default 1s/60s
// configuration), then holds at max. Calling Reset restarts the sequence
// after a successful operation, mirroring Kannel's reset-on-success policy
// so a connection that blips once doesn't carry an inflated delay into its
// next, unrelated failure.
type backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff(initial, max time.Duration) *backoff {
	return &backoff{initial: initial, max: max, current: initial}
}

// Next returns the delay to wait before the next attempt, then advances the
// sequence.
func (b *backoff) Next() time.Duration {
	d := b.current
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

func (b *backoff) Reset() { b.current = b.initial }

// sleepInterruptible sleeps for d in small increments, returning early (with
// woke == true) as soon as sup stops running (Shutdown or Dead), so a worker
// blocked in backoff never delays process shutdown by more than one tick.
func sleepInterruptible(ctx context.Context, sup *supervisor.Supervisor, d time.Duration) (woke bool) {
	const tick = 200 * time.Millisecond
	deadline := time.Now().Add(d)
	for {
		if !sup.ShouldRun() {
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		wait := tick
		if remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return true
		case <-time.After(wait):
		}
	}
}
