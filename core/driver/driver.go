// Package driver defines the uniform SmscDriver contract that every wire
// dialect (CIMD2, EMI, SMPP, AT, ...) implements, plus the two dialects
// shipped with this core: an in-memory fake used throughout the test suite,
// and a thin AT-command stub demonstrating the interface's shape. Real
// wire-level dialect encodings are out of scope (see spec Non-goals).
package driver

import (
	"context"

	"github.com/kannelgo/bearerbox/core/message"
	"github.com/pkg/errors"
)

// MatchLevel is the verdict a driver returns for a candidate receiver
// number, combined by the router with configured SMSC-id allow/deny lists.
type MatchLevel int

const (
	Neutral MatchLevel = iota
	Allowed
	Preferred
	Denied
)

func (m MatchLevel) String() string {
	switch m {
	case Neutral:
		return "neutral"
	case Allowed:
		return "allowed"
	case Preferred:
		return "preferred"
	case Denied:
		return "denied"
	default:
		return "unknown"
	}
}

var (
	// ErrFatal signals that a connection cannot be used again; the caller
	// (SmscConnection) gives up on it (drops queued messages, does not
	// retry). Returned by Reopen, Receive, Submit.
	ErrFatal = errors.New("driver: fatal error")
	// ErrOpenFailed is returned by Open/Reopen for a failed handshake that
	// is nonetheless worth retrying (network unreachable, auth rejected
	// transiently, etc.) — the caller treats any non-ErrFatal error from
	// Open/Reopen as transient.
	ErrOpenFailed = errors.New("driver: open failed")
)

// Driver is the uniform capability set every SMSC dialect implements.
// An SMSC connection calls Receive and Reopen from its receiver goroutine
// and Submit and Reopen from its sender goroutine, and the two goroutines
// run concurrently, so implementations must be safe for Receive, Submit,
// Reopen and Close to overlap on the same instance.
type Driver interface {
	// Open performs the driver's connect/handshake sequence. Blocking.
	Open(ctx context.Context) error

	// Reopen re-establishes the connection after a failure. Returns nil on
	// success, ErrFatal if the connection should never be retried again
	// (e.g. permanent auth failure), or any other (transient) error if the
	// caller should back off and retry.
	Reopen(ctx context.Context) error

	// Receive polls for one inbound message without blocking beyond ctx's
	// deadline. ok == false with a nil error means "nothing available
	// right now", not an error.
	Receive(ctx context.Context) (msg message.Message, ok bool, err error)

	// Submit sends one outbound message, blocking briefly for the SMSC's
	// acknowledgement (if the dialect has one).
	Submit(ctx context.Context, msg message.Message) error

	// Pending reports whether Receive would currently return a message
	// without blocking network I/O (used for admin/status introspection).
	Pending() bool

	// Close releases the driver's resources. Errors are logged internally
	// and never propagated, per the spec.
	Close()

	// MatchesReceiver classifies number against this driver's own
	// preferred/allowed/denied prefix configuration.
	MatchesReceiver(number string) MatchLevel

	// AcceptsWDP reports whether this driver can carry WDP datagrams
	// (WDP-over-SMSC), consulted by the WDP router.
	AcceptsWDP() bool

	// SMSCID returns this driver's configured identifier, used for
	// queue-produce stamping and for preferred/denied SMSC-id routing.
	SMSCID() string
}

// Dialect names a wire-protocol family. Only "fake" and "at" are
// implemented by this core; everything else is a documented non-goal.
type Dialect string

const (
	DialectFake Dialect = "fake"
	DialectAT   Dialect = "at"
)

// AddressFilter holds the prefix/id-based routing configuration shared by
// every dialect, applied uniformly by MatchesReceiver implementations.
type AddressFilter struct {
	PreferredPrefix string
	AllowedPrefix   string
	DeniedPrefix    string
	DeniedID        []string
}

// Classify applies the standard prefix-filter precedence described in the
// spec: denied-id or denied-prefix forces Denied; preferred-prefix promotes
// to Preferred; allowed-prefix restricts to Allowed; otherwise Neutral.
func (f AddressFilter) Classify(smscID, number string) MatchLevel {
	for _, id := range f.DeniedID {
		if id == smscID {
			return Denied
		}
	}
	if f.DeniedPrefix != "" && hasPrefix(number, f.DeniedPrefix) {
		return Denied
	}
	if f.PreferredPrefix != "" && hasPrefix(number, f.PreferredPrefix) {
		return Preferred
	}
	if f.AllowedPrefix != "" {
		if hasPrefix(number, f.AllowedPrefix) {
			return Allowed
		}
		return Neutral
	}
	return Neutral
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
