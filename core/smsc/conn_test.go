package smsc

import (
	"context"
	"testing"
	"time"

	"github.com/kannelgo/bearerbox/core/driver"
	"github.com/kannelgo/bearerbox/core/message"
	"github.com/kannelgo/bearerbox/core/queue"
	"github.com/kannelgo/bearerbox/core/supervisor"
	"github.com/rs/zerolog"
)

func newTestConn(t *testing.T, drv driver.Driver, sup *supervisor.Supervisor) (*Conn, *queue.Queue[message.Message], *queue.Queue[message.Message], *queue.Queue[message.Message]) {
	t.Helper()
	outgoing := queue.New[message.Message]()
	incomingSMS := queue.New[message.Message]()
	incomingWDP := queue.New[message.Message]()
	c := New(Config{
		SMSCID:         "S1",
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     40 * time.Millisecond,
		ReceiveTimeout: 10 * time.Millisecond,
	}, drv, sup, outgoing, incomingSMS, incomingWDP, zerolog.Nop())
	return c, outgoing, incomingSMS, incomingWDP
}

func TestReceivedSmsIsStampedAndDelivered(t *testing.T) {
	sup := supervisor.New(zerolog.Nop())
	fd := driver.NewFakeDriver(driver.FakeConfig{SMSCID: "S1"})
	c, _, incomingSMS, _ := newTestConn(t, fd, sup)

	fd.Inject(message.NewSms(message.Sms{Sender: "123456", Receiver: "999", MsgData: []byte("hi")}))

	c.Start(context.Background())

	msg, ok := incomingSMS.Consume()
	if !ok {
		t.Fatal("expected a delivered message")
	}
	if msg.Sms.SMSCID != "S1" || !msg.Sms.HasSMSCID() {
		t.Fatalf("delivered message not stamped with SMSCID: %+v", msg.Sms)
	}

	sup.Shutdown()
	sup.WaitDead()
}

func TestDialPrefixRewriteAppliedOnReceive(t *testing.T) {
	sup := supervisor.New(zerolog.Nop())
	fd := driver.NewFakeDriver(driver.FakeConfig{SMSCID: "S1"})
	outgoing := queue.New[message.Message]()
	incomingSMS := queue.New[message.Message]()
	incomingWDP := queue.New[message.Message]()
	c := New(Config{
		SMSCID:             "S1",
		DialPrefixRewrites: []PrefixRewrite{{From: "0", To: "+1"}},
		InitialBackoff:     10 * time.Millisecond,
		MaxBackoff:         40 * time.Millisecond,
		ReceiveTimeout:     10 * time.Millisecond,
	}, fd, sup, outgoing, incomingSMS, incomingWDP, zerolog.Nop())

	fd.Inject(message.NewSms(message.Sms{Sender: "0123456", Receiver: "999", MsgData: []byte("hi")}))
	c.Start(context.Background())

	msg, ok := incomingSMS.Consume()
	if !ok {
		t.Fatal("expected a delivered message")
	}
	if msg.Sms.Sender != "+1123456" {
		t.Fatalf("Sender = %q, want rewritten +1123456", msg.Sms.Sender)
	}

	sup.Shutdown()
	sup.WaitDead()
}

func TestReopenBackoffCapsAtConfiguredMax(t *testing.T) {
	sup := supervisor.New(zerolog.Nop())
	b := newBackoff(10*time.Millisecond, 40*time.Millisecond)

	got := []time.Duration{b.Next(), b.Next(), b.Next(), b.Next(), b.Next()}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 40 * time.Millisecond, 40 * time.Millisecond}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Next()[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	b.Reset()
	if next := b.Next(); next != 10*time.Millisecond {
		t.Fatalf("Next() after Reset = %v, want 10ms", next)
	}
	_ = sup
}

// TestSenderRecoversWithinBackoffWindow models scenario S3: a transient
// submit failure followed, within a few backoff steps, by successful
// delivery of the pending message.
func TestSenderRecoversWithinBackoffWindow(t *testing.T) {
	sup := supervisor.New(zerolog.Nop())
	fd := driver.NewFakeDriver(driver.FakeConfig{SMSCID: "S1"})
	c, outgoing, _, _ := newTestConn(t, fd, sup)

	fd.FailNextSubmit(errTransient)
	msg := message.NewSms(message.Sms{Sender: "1", Receiver: "2", MsgData: []byte("x")})
	outgoing.Produce(msg)

	c.Start(context.Background())

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(fd.Submitted()) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(fd.Submitted()) != 1 {
		t.Fatalf("Submitted() = %v, want exactly one message delivered after recovery", fd.Submitted())
	}

	sup.Shutdown()
	sup.WaitDead()
}

func TestSenderDrainsOnShutdownAfterPendingItem(t *testing.T) {
	sup := supervisor.New(zerolog.Nop())
	fd := driver.NewFakeDriver(driver.FakeConfig{SMSCID: "S1"})
	c, outgoing, _, _ := newTestConn(t, fd, sup)

	outgoing.Produce(message.NewSms(message.Sms{Sender: "1", Receiver: "2", MsgData: []byte("x")}))
	c.Start(context.Background())

	// Give the sender a moment to pick up the queued item before shutdown.
	// outgoing has no registered producer in this test (the router would
	// normally hold one), so once the single produced item is consumed the
	// queue reports drained on its own.
	time.Sleep(20 * time.Millisecond)
	sup.Shutdown()

	done := make(chan struct{})
	go func() { sup.WaitDead(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitDead did not return after shutdown")
	}

	if len(fd.Submitted()) != 1 {
		t.Fatalf("Submitted() = %v, want the pending item delivered before shutdown completed", fd.Submitted())
	}
	if !fd.Closed() {
		t.Fatal("driver should be Closed once sender/receiver have joined")
	}
}

var errTransient = &transientErr{}

type transientErr struct{}

func (*transientErr) Error() string { return "transient failure" }
