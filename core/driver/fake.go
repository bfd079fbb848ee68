package driver

import (
	"context"
	"sync"

	"github.com/kannelgo/bearerbox/core/message"
)

// FakeConfig configures FakeDriver.
type FakeConfig struct {
	SMSCID        string
	Echo          bool // if true, Submit loops the message back for the next Receive
	AcceptsWDP    bool
	AddressFilter AddressFilter
}

// FakeDriver is an in-memory Driver used throughout this module's test
// suite and by end-to-end scenario tests, standing in for every real wire
// dialect (CIMD2/EMI/SMPP/AT/...), per the spec's Non-goals. It is grounded
// on Kannel's smsc_fake.c, which implements a trivial text protocol over a
// socket ("sender receiver text\n") rather than a real SMSC dialect; this
// rendering keeps the "trivial stand-in" spirit but drops the socket, since
// tests drive it directly in-process.
type FakeDriver struct {
	cfg FakeConfig

	mu        sync.Mutex
	inbox     []message.Message
	submitted []message.Message
	openErr   error
	recvErr   error
	submitErr error
	closed    bool
}

// NewFakeDriver returns a ready-to-use FakeDriver.
func NewFakeDriver(cfg FakeConfig) *FakeDriver {
	return &FakeDriver{cfg: cfg}
}

// Inject makes msg available to the next Receive call, as though it had
// arrived from the network.
func (f *FakeDriver) Inject(msg message.Message) {
	f.mu.Lock()
	f.inbox = append(f.inbox, msg)
	f.mu.Unlock()
}

// Submitted returns a snapshot of every message passed to Submit so far, in
// order, for test assertions.
func (f *FakeDriver) Submitted() []message.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message.Message(nil), f.submitted...)
}

// FailNextReceive makes the next Receive call return err instead of
// performing its normal behavior; used to exercise the transient/fatal
// error and reopen-backoff paths.
func (f *FakeDriver) FailNextReceive(err error) {
	f.mu.Lock()
	f.recvErr = err
	f.mu.Unlock()
}

// FailNextSubmit is the Submit analogue of FailNextReceive.
func (f *FakeDriver) FailNextSubmit(err error) {
	f.mu.Lock()
	f.submitErr = err
	f.mu.Unlock()
}

// FailOpen makes Open/Reopen return err until cleared (pass nil to clear).
func (f *FakeDriver) FailOpen(err error) {
	f.mu.Lock()
	f.openErr = err
	f.mu.Unlock()
}

func (f *FakeDriver) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openErr
}

func (f *FakeDriver) Reopen(ctx context.Context) error {
	return f.Open(ctx)
}

func (f *FakeDriver) Receive(ctx context.Context) (message.Message, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.recvErr != nil {
		err := f.recvErr
		f.recvErr = nil
		return message.Message{}, false, err
	}
	if len(f.inbox) == 0 {
		return message.Message{}, false, nil
	}
	msg := f.inbox[0]
	f.inbox = f.inbox[1:]
	return msg, true, nil
}

func (f *FakeDriver) Submit(ctx context.Context, msg message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.submitErr != nil {
		err := f.submitErr
		f.submitErr = nil
		return err
	}
	f.submitted = append(f.submitted, msg)
	if f.cfg.Echo {
		f.inbox = append(f.inbox, msg)
	}
	return nil
}

func (f *FakeDriver) Pending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inbox) > 0
}

func (f *FakeDriver) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

// Closed reports whether Close has been called, for test assertions.
func (f *FakeDriver) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeDriver) MatchesReceiver(number string) MatchLevel {
	return f.cfg.AddressFilter.Classify(f.cfg.SMSCID, number)
}

func (f *FakeDriver) AcceptsWDP() bool { return f.cfg.AcceptsWDP }

func (f *FakeDriver) SMSCID() string { return f.cfg.SMSCID }

var _ Driver = (*FakeDriver)(nil)
