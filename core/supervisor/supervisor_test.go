package supervisor

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestSupervisor() *Supervisor {
	return New(zerolog.Nop())
}

func TestInitialStateRunning(t *testing.T) {
	s := newTestSupervisor()
	if s.State() != StateRunning {
		t.Fatalf("State() = %v, want Running", s.State())
	}
	if !s.ShouldRun() {
		t.Fatal("ShouldRun() should be true in Running")
	}
}

func TestSuspendGatesBothSenderAndReceiver(t *testing.T) {
	s := newTestSupervisor()
	if err := s.Suspend(); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if s.State() != StateSuspended {
		t.Fatalf("State() = %v, want Suspended", s.State())
	}

	unblocked := make(chan struct{}, 2)
	go func() { s.Suspended().Consume(); unblocked <- struct{}{} }()
	go func() { s.Isolated().Consume(); unblocked <- struct{}{} }()

	select {
	case <-unblocked:
		t.Fatal("gate consumer returned while suspended, want blocked")
	case <-time.After(100 * time.Millisecond):
	}

	if err := s.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	for i := 0; i < 2; i++ {
		select {
		case <-unblocked:
		case <-time.After(2 * time.Second):
			t.Fatal("gate consumer did not unblock after Resume")
		}
	}
}

func TestIsolateGatesOnlyReceiver(t *testing.T) {
	s := newTestSupervisor()
	if err := s.Isolate(); err != nil {
		t.Fatalf("Isolate: %v", err)
	}
	if s.State() != StateIsolated {
		t.Fatalf("State() = %v, want Isolated", s.State())
	}

	// Suspended gate was never gated by Isolate, so it should not block.
	done := make(chan struct{})
	go func() { s.Suspended().Consume(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Suspended gate blocked despite only Isolate having been called")
	}

	if err := s.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if s.State() != StateRunning {
		t.Fatalf("State() = %v, want Running", s.State())
	}
}

func TestInvalidTransitionsRejected(t *testing.T) {
	s := newTestSupervisor()
	if err := s.Resume(); err == nil {
		t.Fatal("Resume from Running should fail")
	}

	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := s.Shutdown(); err == nil {
		t.Fatal("second Shutdown should fail")
	}
	if err := s.Suspend(); err == nil {
		t.Fatal("Suspend after Shutdown should fail")
	}
}

func TestShutdownReleasesGatesAndShouldRunFalse(t *testing.T) {
	s := newTestSupervisor()
	if err := s.Suspend(); err != nil {
		t.Fatalf("Suspend: %v", err)
	}

	done := make(chan struct{})
	go func() { s.Suspended().Consume(); close(done) }()

	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Suspended gate should release on Shutdown")
	}
	if s.ShouldRun() {
		t.Fatal("ShouldRun() should be false after Shutdown")
	}
}

func TestWaitDeadBlocksUntilAllWorkersDeregister(t *testing.T) {
	s := newTestSupervisor()
	s.FlowThreads().AddProducer()
	s.FlowThreads().AddProducer()

	deadCh := make(chan struct{})
	go func() { s.WaitDead(); close(deadCh) }()

	select {
	case <-deadCh:
		t.Fatal("WaitDead returned before any worker deregistered")
	case <-time.After(100 * time.Millisecond):
	}

	s.FlowThreads().RemoveProducer()
	select {
	case <-deadCh:
		t.Fatal("WaitDead returned with one worker still registered")
	case <-time.After(100 * time.Millisecond):
	}

	s.FlowThreads().RemoveProducer()
	select {
	case <-deadCh:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitDead did not return after all workers deregistered")
	}
	if s.State() != StateDead {
		t.Fatalf("State() = %v, want Dead", s.State())
	}
}
