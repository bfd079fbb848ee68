// Package wire implements the connection primitives shared by every socket
// in bearerbox: length-prefixed frame reads/writes, and the UDP
// send/receive helpers used by the WDP datagram path. It generalizes the
// read/write loop from the teacher's core/conn.Conn into a pair of free
// functions usable by both the box-connection and (indirectly, through the
// SMSC driver boundary) dialect code.
package wire

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
)

// MaxFrameLength bounds a frame's declared body length, guarding against a
// corrupt or hostile peer driving an unbounded allocation.
const MaxFrameLength = 16 * 1024 * 1024

// ErrClosed is returned by RecvFrame when the peer closed the connection
// cleanly before sending a length prefix.
var ErrClosed = errors.New("wire: connection closed by peer")

// ErrMalformed is returned by RecvFrame when a length prefix is followed by
// fewer bytes than declared (a genuine short read, not a clean close), or
// when the declared length exceeds MaxFrameLength.
var ErrMalformed = errors.New("wire: malformed frame")

// RecvFrame reads one length-prefixed frame from r: a 4-byte big-endian
// length, followed by exactly that many bytes. Partial reads are retried
// internally via io.ReadFull. A frame with a zero-length body is valid and
// returns an empty, non-nil slice.
func RecvFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return nil, ErrClosed
		}
		if err == io.ErrUnexpectedEOF {
			return nil, errors.Wrap(ErrMalformed, "short read of length prefix")
		}
		return nil, err
	}

	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameLength {
		return nil, errors.Wrapf(ErrMalformed, "declared frame length %d exceeds max %d", n, MaxFrameLength)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, errors.Wrap(ErrMalformed, "short read of frame body")
		}
		return nil, err
	}
	return body, nil
}

// SendFrame writes body as a length-prefixed frame to w: a 4-byte
// big-endian length followed by body itself. net.Conn.Write (and io.Writer
// generally) is required to either write all of p or return an error, so no
// manual partial-write retry loop is necessary here.
func SendFrame(w io.Writer, body []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	_, err := w.Write(body)
	return err
}

// ReadAvailable reports whether br has data ready to read from conn without
// blocking indefinitely: it returns 1 if a read would succeed immediately, 0
// on timeout, and -1 (with the error) on any other failure. br must be a
// buffered reader wrapping conn so that the probe byte, once peeked, is not
// lost to a subsequent RecvFrame call. Used by polling loops that must not
// block forever inside a single iteration (e.g. while the supervisor state
// is being re-checked).
func ReadAvailable(conn net.Conn, br *bufio.Reader, timeout time.Duration) (int, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return -1, err
	}
	defer conn.SetReadDeadline(time.Time{})

	_, err := br.Peek(1)
	if err == nil {
		return 1, nil
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return 0, nil
	}
	if err == io.EOF {
		return -1, ErrClosed
	}
	return -1, err
}
