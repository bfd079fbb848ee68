// Package message implements the bearerbox Message value type: a tagged
// variant over Sms, WdpDatagram and Heartbeat, together with its
// length-prefixed binary wire framing (Pack/Unpack), as used on the socket
// between bearerbox and its SMS/WAP boxes.
package message

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Type identifies which variant a Message holds.
type Type uint32

const (
	TypeHeartbeat Type = 0
	TypeSms       Type = 1
	TypeWdpDatagram Type = 2
)

func (t Type) String() string {
	switch t {
	case TypeHeartbeat:
		return "Heartbeat"
	case TypeSms:
		return "Sms"
	case TypeWdpDatagram:
		return "WdpDatagram"
	default:
		return "Unknown"
	}
}

// absentLength is the sentinel written in place of a byte-string's length
// when the field is logically absent (Go's rendering of Rust's Option<T>).
const absentLength uint32 = 0xFFFFFFFF

// MaxFieldSize bounds any single decoded byte-string field, guarding against
// a corrupt or hostile length prefix causing an enormous allocation.
const MaxFieldSize = 64 * 1024 * 1024

var (
	// ErrMalformed is returned when a frame is truncated, or its declared
	// length disagrees with the number of bytes actually available.
	ErrMalformed = errors.New("message: malformed frame")
	// ErrUnknownType is returned when a frame's type code doesn't match any
	// known Message variant.
	ErrUnknownType = errors.New("message: unknown frame type")
	// ErrInvalidField is returned when a field-level invariant is violated
	// (a negative/sentinel-abused length, a UDH flag with no UDH bytes, an
	// address containing characters outside the dialect's alphabet).
	ErrInvalidField = errors.New("message: invalid field")
)

// Sms is a mobile-originated or mobile-terminated short message.
type Sms struct {
	Sender   string
	Receiver string
	Flag8Bit bool
	FlagUDH  bool
	UDHData  []byte
	MsgData  []byte
	Time     uint32
	SMSCID   string // empty means "absent"
	hasSMSCID bool
}

// WdpDatagram is a WAP datagram carried over UDP (or over an SMSC capable of
// WDP-over-SMSC).
type WdpDatagram struct {
	SourceAddress      string // dotted-decimal or hostname, dialect-agnostic here
	SourcePort         uint16
	DestinationAddress string
	DestinationPort    uint16
	UserData           []byte
}

// Heartbeat carries a box's self-reported load factor.
type Heartbeat struct {
	Load int32
}

// Message is the tagged variant. Exactly one of Sms, Wdp, Heartbeat is
// meaningful, selected by Type. The zero value is not a valid Message.
type Message struct {
	Type      Type
	Sms       Sms
	Wdp       WdpDatagram
	Heartbeat Heartbeat
}

// NewSms returns a Message wrapping an Sms.
func NewSms(s Sms) Message { return Message{Type: TypeSms, Sms: s} }

// NewWdp returns a Message wrapping a WdpDatagram.
func NewWdp(w WdpDatagram) Message { return Message{Type: TypeWdpDatagram, Wdp: w} }

// NewHeartbeat returns a Message wrapping a Heartbeat.
func NewHeartbeat(load int32) Message {
	return Message{Type: TypeHeartbeat, Heartbeat: Heartbeat{Load: load}}
}

// WithSMSCID returns a copy of s with its SMSCID field set to id. Used by the
// SMSC receiver to stamp an incoming message before it is produced into the
// incoming queue.
func (s Sms) WithSMSCID(id string) Sms {
	s.SMSCID = id
	s.hasSMSCID = true
	return s
}

// HasSMSCID reports whether SMSCID was explicitly set (as opposed to the
// zero value, which is indistinguishable from an empty string otherwise).
func (s Sms) HasSMSCID() bool { return s.hasSMSCID }

// isAddressAlphabet reports whether every byte in s is a digit, '+' or '-',
// per the dialect address-constraint invariant in the data model.
func isAddressAlphabet(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9') && c != '+' && c != '-' {
			return false
		}
	}
	return true
}

// Validate checks the field-level invariants from the data model: address
// alphabet, and the UDH-flag/UDH-length relationship.
func (s Sms) Validate() error {
	if s.Sender != "" && !isAddressAlphabet(s.Sender) {
		return errors.Wrapf(ErrInvalidField, "sender %q contains characters outside [0-9+-]", s.Sender)
	}
	if s.Receiver != "" && !isAddressAlphabet(s.Receiver) {
		return errors.Wrapf(ErrInvalidField, "receiver %q contains characters outside [0-9+-]", s.Receiver)
	}
	if s.FlagUDH && len(s.UDHData) == 0 {
		return errors.Wrap(ErrInvalidField, "flag_udh is set but udh_data is empty")
	}
	return nil
}

// --- framing ---

func putLengthPrefixed(buf *bytes.Buffer, b []byte, absent bool) {
	var lenBuf [4]byte
	if absent {
		binary.BigEndian.PutUint32(lenBuf[:], absentLength)
		buf.Write(lenBuf[:])
		return
	}
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf.Write(lenBuf[:])
	buf.Write(b)
}

func putString(buf *bytes.Buffer, s string, absent bool) {
	putLengthPrefixed(buf, []byte(s), absent)
}

func putU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func putBool(buf *bytes.Buffer, v bool) {
	if v {
		putU32(buf, 1)
	} else {
		putU32(buf, 0)
	}
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, errors.Wrap(ErrMalformed, "short read of u32 field")
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readBool(r *bytes.Reader) (bool, error) {
	v, err := readU32(r)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// readLengthPrefixed reads a <u32 length; absentLength means absent><bytes>
// field. It returns ok == false when the field is absent.
func readLengthPrefixed(r *bytes.Reader) (b []byte, ok bool, err error) {
	n, err := readU32(r)
	if err != nil {
		return nil, false, err
	}
	if n == absentLength {
		return nil, false, nil
	}
	if n > MaxFieldSize {
		return nil, false, errors.Wrapf(ErrInvalidField, "field length %d exceeds max %d", n, MaxFieldSize)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, false, errors.Wrap(ErrMalformed, "short read of length-prefixed field")
	}
	return buf, true, nil
}

func readString(r *bytes.Reader) (s string, ok bool, err error) {
	b, ok, err := readLengthPrefixed(r)
	if err != nil || !ok {
		return "", ok, err
	}
	return string(b), true, nil
}

// packBody encodes just the variant-specific body (without the outer
// <length><type> frame header).
func (m Message) packBody() ([]byte, error) {
	var buf bytes.Buffer
	switch m.Type {
	case TypeHeartbeat:
		putU32(&buf, uint32(m.Heartbeat.Load))

	case TypeSms:
		if err := m.Sms.Validate(); err != nil {
			return nil, err
		}
		putString(&buf, m.Sms.Sender, false)
		putString(&buf, m.Sms.Receiver, false)
		putBool(&buf, m.Sms.Flag8Bit)
		putBool(&buf, m.Sms.FlagUDH)
		putLengthPrefixed(&buf, m.Sms.UDHData, false)
		putLengthPrefixed(&buf, m.Sms.MsgData, false)
		putU32(&buf, m.Sms.Time)
		putString(&buf, m.Sms.SMSCID, !m.Sms.hasSMSCID)

	case TypeWdpDatagram:
		putString(&buf, m.Wdp.SourceAddress, false)
		putU32(&buf, uint32(m.Wdp.SourcePort))
		putString(&buf, m.Wdp.DestinationAddress, false)
		putU32(&buf, uint32(m.Wdp.DestinationPort))
		putLengthPrefixed(&buf, m.Wdp.UserData, false)

	default:
		return nil, errors.Wrapf(ErrUnknownType, "type code %d", m.Type)
	}
	return buf.Bytes(), nil
}

// Pack encodes m as a complete wire frame: <u32 length><u32 type><body>.
func (m Message) Pack() ([]byte, error) {
	body, err := m.packBody()
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	out.Grow(8 + len(body))
	putU32(&out, uint32(len(body)))
	putU32(&out, uint32(m.Type))
	out.Write(body)
	return out.Bytes(), nil
}

// Unpack decodes a complete wire frame (as produced by Pack; on a box
// connection, the body returned by wire.RecvFrame is such a frame) into a
// Message. frame must
// contain exactly <u32 length><u32 type><body>; Unpack rejects any frame
// whose declared length disagrees with the length of body actually present.
func Unpack(frame []byte) (Message, error) {
	r := bytes.NewReader(frame)

	declaredLen, err := readU32(r)
	if err != nil {
		return Message{}, err
	}
	typeCode, err := readU32(r)
	if err != nil {
		return Message{}, err
	}
	if int(declaredLen) != r.Len() {
		return Message{}, errors.Wrapf(ErrMalformed, "declared body length %d does not match available %d bytes", declaredLen, r.Len())
	}

	m := Message{Type: Type(typeCode)}
	switch m.Type {
	case TypeHeartbeat:
		load, err := readU32(r)
		if err != nil {
			return Message{}, err
		}
		m.Heartbeat.Load = int32(load)

	case TypeSms:
		sender, _, err := readString(r)
		if err != nil {
			return Message{}, err
		}
		receiver, _, err := readString(r)
		if err != nil {
			return Message{}, err
		}
		flag8, err := readBool(r)
		if err != nil {
			return Message{}, err
		}
		flagUDH, err := readBool(r)
		if err != nil {
			return Message{}, err
		}
		udh, _, err := readLengthPrefixed(r)
		if err != nil {
			return Message{}, err
		}
		data, _, err := readLengthPrefixed(r)
		if err != nil {
			return Message{}, err
		}
		tstamp, err := readU32(r)
		if err != nil {
			return Message{}, err
		}
		smscID, hasID, err := readString(r)
		if err != nil {
			return Message{}, err
		}
		if flagUDH && len(udh) == 0 {
			return Message{}, errors.Wrap(ErrInvalidField, "flag_udh is set but udh_data is empty")
		}
		m.Sms = Sms{
			Sender: sender, Receiver: receiver,
			Flag8Bit: flag8, FlagUDH: flagUDH,
			UDHData: udh, MsgData: data, Time: tstamp,
			SMSCID: smscID, hasSMSCID: hasID,
		}
		if err := m.Sms.Validate(); err != nil {
			return Message{}, err
		}

	case TypeWdpDatagram:
		srcAddr, _, err := readString(r)
		if err != nil {
			return Message{}, err
		}
		srcPort, err := readU32(r)
		if err != nil {
			return Message{}, err
		}
		dstAddr, _, err := readString(r)
		if err != nil {
			return Message{}, err
		}
		dstPort, err := readU32(r)
		if err != nil {
			return Message{}, err
		}
		data, _, err := readLengthPrefixed(r)
		if err != nil {
			return Message{}, err
		}
		if srcPort > 0xFFFF || dstPort > 0xFFFF {
			return Message{}, errors.Wrap(ErrInvalidField, "port out of range")
		}
		m.Wdp = WdpDatagram{
			SourceAddress: srcAddr, SourcePort: uint16(srcPort),
			DestinationAddress: dstAddr, DestinationPort: uint16(dstPort),
			UserData: data,
		}

	default:
		return Message{}, errors.Wrapf(ErrUnknownType, "type code %d", typeCode)
	}

	if r.Len() != 0 {
		return Message{}, errors.Wrap(ErrMalformed, "trailing bytes after decoding body")
	}
	return m, nil
}
