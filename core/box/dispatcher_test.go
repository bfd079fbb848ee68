package box

import (
	"context"
	"testing"
	"time"

	"github.com/kannelgo/bearerbox/core/message"
	"github.com/kannelgo/bearerbox/core/queue"
	"github.com/kannelgo/bearerbox/core/supervisor"
	"github.com/rs/zerolog"
)

func TestDispatcherPicksLeastLoadedBox(t *testing.T) {
	busyFix := newFixture(t)
	idleFix := newFixture(t)

	reg := NewRegistry()
	reg.Register(busyFix.conn)
	reg.Register(idleFix.conn)

	busyFix.conn.mu.Lock()
	busyFix.conn.load = 10
	busyFix.conn.mu.Unlock()
	idleFix.conn.mu.Lock()
	idleFix.conn.load = 1
	idleFix.conn.mu.Unlock()

	busyFix.conn.Start(context.Background())
	idleFix.conn.Start(context.Background())

	incomingSMS := queue.New[message.Message]()
	incomingSMS.AddProducer()
	sup := supervisor.New(zerolog.Nop())
	d := NewSMSDispatcher(reg, incomingSMS, sup, zerolog.Nop())
	d.Start(context.Background())

	incomingSMS.Produce(message.NewSms(message.Sms{Sender: "1", Receiver: "2", MsgData: []byte("mt")}))

	frame := make(chan []byte, 1)
	go func() {
		b, err := readFrame(idleFix.client)
		if err == nil {
			frame <- b
		}
	}()

	select {
	case raw := <-frame:
		msg, err := message.Unpack(raw)
		if err != nil {
			t.Fatalf("Unpack: %v", err)
		}
		if msg.Sms.Receiver != "2" {
			t.Fatalf("Receiver = %q, want 2", msg.Sms.Receiver)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the least-loaded box to receive the message")
	}

	if busyFix.conn.Inbox().Len() != 0 {
		t.Fatal("the busier box should never have received the message")
	}
}
