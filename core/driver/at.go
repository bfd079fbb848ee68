package driver

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/kannelgo/bearerbox/core/message"
	"github.com/pkg/errors"
)

// ATConfig configures ATDriver.
type ATConfig struct {
	SMSCID        string
	AddressFilter AddressFilter
	// Dial opens (or re-opens) the underlying transport — a serial device
	// or a TCP-connected terminal server in front of one, per Kannel's
	// "device = /dev/xxx" configuration. Kept as a func so tests can
	// substitute an in-memory pipe instead of a real device.
	Dial func(ctx context.Context) (io.ReadWriteCloser, error)
}

// ATDriver is a thin stub over an AT-command modem connection. It
// demonstrates the Driver interface's shape for a request/response dialect
// without implementing GSM 7-bit/UCS2 PDU encoding or any particular
// modem's quirks (explicitly out of scope, see spec Non-goals): outbound
// messages are submitted as a single AT+CMGS-style text line and any
// unsolicited "+CMT:" line is treated as an inbound Sms whose sender is the
// text before the first comma and whose body is the rest. This mirrors the request/response matching
// pattern in the teacher's core/conn.Connector (send a command, wait for
// the matching response or context deadline) applied to line-oriented AT
// dialogue instead of the Pulsar binary protocol.
type ATDriver struct {
	cfg ATConfig

	mu      sync.Mutex
	conn    io.ReadWriteCloser
	br      *bufio.Reader
	pending []message.Message
}

// NewATDriver returns a ready-to-use ATDriver. Open must be called before
// Receive/Submit.
func NewATDriver(cfg ATConfig) *ATDriver {
	return &ATDriver{cfg: cfg}
}

func (d *ATDriver) Open(ctx context.Context) error {
	conn, err := d.cfg.Dial(ctx)
	if err != nil {
		return errors.Wrap(ErrOpenFailed, err.Error())
	}

	d.mu.Lock()
	d.conn = conn
	d.br = bufio.NewReader(conn)
	d.mu.Unlock()

	return d.sendExpectOK(ctx, "AT")
}

func (d *ATDriver) Reopen(ctx context.Context) error {
	d.Close()
	return d.Open(ctx)
}

// sendExpectOK writes cmd terminated by CR and waits for the next non-empty
// line. A line containing "ERROR" is returned as a transient error (modems
// are assumed to recover on their own, so this is never ErrFatal); any other
// line counts as success, whether or not it contains "OK".
func (d *ATDriver) sendExpectOK(ctx context.Context, cmd string) error {
	d.mu.Lock()
	conn, br := d.conn, d.br
	d.mu.Unlock()
	if conn == nil {
		return errors.Wrap(ErrFatal, "at: not open")
	}

	if _, err := io.WriteString(conn, cmd+"\r"); err != nil {
		return errors.Wrap(err, "at: write command")
	}

	type result struct {
		line string
		err  error
	}
	resp := make(chan result, 1)
	go func() {
		for {
			line, err := br.ReadString('\n')
			if err != nil {
				resp <- result{err: err}
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			resp <- result{line: line}
			return
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-resp:
		if r.err != nil {
			return errors.Wrap(r.err, "at: read response")
		}
		if strings.Contains(r.line, "ERROR") {
			return fmt.Errorf("at: modem returned %q", r.line)
		}
		return nil
	}
}

// Submit sends one Sms as a simplified "+CMGS=<receiver>,<text>" command
// line. A real implementation would encode the message as a GSM PDU; that
// is out of scope here.
func (d *ATDriver) Submit(ctx context.Context, msg message.Message) error {
	if msg.Type != message.TypeSms {
		return errors.Wrap(ErrFatal, "at: only Sms messages are supported")
	}
	cmd := fmt.Sprintf("AT+CMGS=%s,%s", msg.Sms.Receiver, string(msg.Sms.MsgData))
	return d.sendExpectOK(ctx, cmd)
}

// Receive looks for a buffered unsolicited "+CMT:" delivery notification.
// Real PDU parsing is out of scope; the stub treats the remainder of the
// line, after a single comma, as sender,text.
func (d *ATDriver) Receive(ctx context.Context) (message.Message, bool, error) {
	d.mu.Lock()
	if len(d.pending) > 0 {
		msg := d.pending[0]
		d.pending = d.pending[1:]
		d.mu.Unlock()
		return msg, true, nil
	}
	br := d.br
	d.mu.Unlock()
	if br == nil {
		return message.Message{}, false, errors.Wrap(ErrFatal, "at: not open")
	}

	if br.Buffered() == 0 {
		return message.Message{}, false, nil
	}
	line, err := br.ReadString('\n')
	if err != nil {
		return message.Message{}, false, err
	}
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "+CMT:") {
		return message.Message{}, false, nil
	}
	parts := strings.SplitN(strings.TrimPrefix(line, "+CMT:"), ",", 2)
	if len(parts) != 2 {
		return message.Message{}, false, errors.Wrap(message.ErrMalformed, "at: malformed +CMT line")
	}
	msg := message.NewSms(message.Sms{
		Sender:  strings.TrimSpace(parts[0]),
		MsgData: []byte(strings.TrimSpace(parts[1])),
	})
	return msg, true, nil
}

func (d *ATDriver) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending) > 0 || (d.br != nil && d.br.Buffered() > 0)
}

func (d *ATDriver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		_ = d.conn.Close()
		d.conn = nil
		d.br = nil
	}
}

func (d *ATDriver) MatchesReceiver(number string) MatchLevel {
	return d.cfg.AddressFilter.Classify(d.cfg.SMSCID, number)
}

func (d *ATDriver) AcceptsWDP() bool { return false }

func (d *ATDriver) SMSCID() string { return d.cfg.SMSCID }

var _ Driver = (*ATDriver)(nil)
