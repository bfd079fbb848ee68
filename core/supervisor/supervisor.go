// Package supervisor implements the bearerbox lifecycle state machine:
// Running -> Isolated/Suspended -> Running, and (from any state) -> Shutdown
// -> Dead, together with the three gate-lists (isolated, suspended,
// flowThreads) that propagate those transitions into every worker goroutine
// without a polled "killed" flag. Gate-lists are core/queue.Queue[struct{}]
// instances used purely for their producer-count semantics: nothing is ever
// produced into them, so Consume blocks exactly while the gate is "closed"
// (producerCount > 0) and returns the drained sentinel the instant it opens.
package supervisor

import (
	"sync"
	"sync/atomic"

	"github.com/kannelgo/bearerbox/core/queue"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// State is the process-wide lifecycle state.
type State int32

const (
	StateRunning State = iota
	StateIsolated
	StateSuspended
	StateShutdown
	StateDead
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateIsolated:
		return "isolated"
	case StateSuspended:
		return "suspended"
	case StateShutdown:
		return "shutdown"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// ErrInvalidTransition is returned by Suspend/Isolate/Resume/Shutdown when
// called from a state that does not permit the requested transition.
var ErrInvalidTransition = errors.New("supervisor: invalid state transition")

// Supervisor owns the lifecycle state and the three gate-lists. It holds no
// reference to SMSC connections, box connections, or routers: those
// components hold a reference to the Supervisor instead, consuming its
// gates and polling its State() in their own loops, per the spec's
// generalization of Kannel's bb_status flag into producer-count gates.
type Supervisor struct {
	state atomic.Int32

	mu             sync.Mutex // guards isolatedAdded/suspendedAdded bookkeeping below
	isolatedAdded  bool
	suspendedAdded bool

	isolated    *queue.Queue[struct{}]
	suspended   *queue.Queue[struct{}]
	flowThreads *queue.Queue[struct{}]

	logger zerolog.Logger
}

// New returns a Supervisor in StateRunning.
func New(logger zerolog.Logger) *Supervisor {
	s := &Supervisor{
		isolated:    queue.New[struct{}](),
		suspended:   queue.New[struct{}](),
		flowThreads: queue.New[struct{}](),
		logger:      logger,
	}
	s.state.Store(int32(StateRunning))
	return s
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State { return State(s.state.Load()) }

// Isolated returns the isolation gate: worker goroutines call
// Isolated().Consume() at the top of their loop to block while the
// supervisor is in StateIsolated or StateSuspended.
func (s *Supervisor) Isolated() *queue.Queue[struct{}] { return s.isolated }

// Suspended returns the suspension gate: sender goroutines call
// Suspended().Consume() to block while the supervisor is in StateSuspended.
func (s *Supervisor) Suspended() *queue.Queue[struct{}] { return s.suspended }

// FlowThreads returns the worker-accounting gate-list: every long-lived
// worker goroutine (SMSC receiver/sender, box receiver/sender, routers)
// registers here on start and deregisters on exit. WaitDead blocks until
// this count reaches zero.
func (s *Supervisor) FlowThreads() *queue.Queue[struct{}] { return s.flowThreads }

// ShouldRun reports whether a worker loop should keep iterating: false once
// the supervisor has entered StateShutdown or StateDead.
func (s *Supervisor) ShouldRun() bool {
	switch s.State() {
	case StateShutdown, StateDead:
		return false
	default:
		return true
	}
}

// Suspend transitions Running -> Suspended, gating both sender and receiver
// goroutines.
func (s *Supervisor) Suspend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() != StateRunning {
		return errors.Wrapf(ErrInvalidTransition, "suspend from %s", s.State())
	}
	s.suspended.AddProducer()
	s.suspendedAdded = true
	s.isolated.AddProducer()
	s.isolatedAdded = true
	s.state.Store(int32(StateSuspended))
	s.logger.Info().Str("event", "suspend").Msg("supervisor transitioned to suspended")
	return nil
}

// Isolate transitions Running -> Isolated, gating receiver goroutines only.
func (s *Supervisor) Isolate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() != StateRunning {
		return errors.Wrapf(ErrInvalidTransition, "isolate from %s", s.State())
	}
	s.isolated.AddProducer()
	s.isolatedAdded = true
	s.state.Store(int32(StateIsolated))
	s.logger.Info().Str("event", "isolate").Msg("supervisor transitioned to isolated")
	return nil
}

// Resume transitions Suspended or Isolated back to Running, removing
// whichever gate producers were added by the corresponding Suspend/Isolate
// call.
func (s *Supervisor) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.State() {
	case StateSuspended:
		s.suspended.RemoveProducer()
		s.suspendedAdded = false
		s.isolated.RemoveProducer()
		s.isolatedAdded = false
	case StateIsolated:
		s.isolated.RemoveProducer()
		s.isolatedAdded = false
	default:
		return errors.Wrapf(ErrInvalidTransition, "resume from %s", s.State())
	}
	s.state.Store(int32(StateRunning))
	s.logger.Info().Str("event", "resume").Msg("supervisor transitioned to running")
	return nil
}

// Shutdown transitions any non-terminal state to Shutdown. Worker loops
// observe ShouldRun()==false on their next iteration and begin deregistering
// as producers from whatever queues they feed, which is what actually
// drains the pipeline (the shutdown avalanche) — Shutdown itself does not
// block waiting for that to happen; call WaitDead for that.
func (s *Supervisor) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.State() {
	case StateShutdown, StateDead:
		return errors.Wrapf(ErrInvalidTransition, "shutdown from %s", s.State())
	}
	// Release any gates so blocked goroutines re-check ShouldRun() instead
	// of waiting indefinitely on a gate that will never open otherwise.
	if s.suspendedAdded {
		s.suspended.RemoveProducer()
		s.suspendedAdded = false
	}
	if s.isolatedAdded {
		s.isolated.RemoveProducer()
		s.isolatedAdded = false
	}
	s.state.Store(int32(StateShutdown))
	s.logger.Info().Str("event", "shutdown").Msg("supervisor transitioned to shutdown")
	return nil
}

// WaitDead blocks until every worker goroutine has deregistered from
// FlowThreads (i.e. the shutdown avalanche has fully propagated), then
// transitions to StateDead and returns.
func (s *Supervisor) WaitDead() {
	s.flowThreads.Consume() // blocks until producer count reaches zero
	s.state.Store(int32(StateDead))
	s.logger.Info().Str("event", "dead").Msg("supervisor transitioned to dead; all workers joined")
}
