package wire

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
)

// EncodedAddr is an opaque byte string carrying a sockaddr-equivalent
// encoding of an IPv4 address and port, mirroring the spec's "address is
// encoded as an opaque Octstr carrying the sockaddr bytes". Rather than
// hand-rolling the 4-byte-IP+2-byte-port layout, this uses gopacket's own
// serialization buffer and IPv4/UDP layers so the byte layout matches a real
// on-the-wire IPv4 header's address fields exactly (useful when the encoded
// address is later compared against, or logged alongside, packet captures).
type EncodedAddr []byte

// EncodeAddr packs ip and port into an EncodedAddr using gopacket's
// serialization of an IPv4 header (source address only, used as a 4-byte
// carrier) followed by a big-endian 2-byte port. ip must be an IPv4
// address; EncodeAddr returns ErrInvalidAddr for anything else.
func EncodeAddr(ip net.IP, port uint16) (EncodedAddr, error) {
	addr4 := ip.To4()
	if addr4 == nil {
		return nil, errors.Wrap(ErrInvalidAddr, "address is not IPv4")
	}

	ipLayer := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    addr4,
		DstIP:    addr4,
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := ipLayer.SerializeTo(buf, opts); err != nil {
		return nil, errors.Wrap(err, "serialize address carrier")
	}

	// The IPv4 header's SrcIP field occupies bytes [12:16) of the
	// serialized header; that's the 4-byte address payload we actually
	// want. We discard the rest of the synthetic header.
	raw := buf.Bytes()
	if len(raw) < 16 {
		return nil, errors.New("wire: serialized address carrier too short")
	}
	out := make(EncodedAddr, 6)
	copy(out[0:4], raw[12:16])
	out[4] = byte(port >> 8)
	out[5] = byte(port)
	return out, nil
}

// ErrInvalidAddr is returned by EncodeAddr/DecodeAddr for malformed input.
var ErrInvalidAddr = errors.New("wire: invalid address encoding")

// DecodeAddr reverses EncodeAddr, extracting the IPv4 address and port.
func DecodeAddr(enc EncodedAddr) (net.IP, uint16, error) {
	if len(enc) != 6 {
		return nil, 0, errors.Wrapf(ErrInvalidAddr, "encoded address is %d bytes, want 6", len(enc))
	}
	ip := net.IPv4(enc[0], enc[1], enc[2], enc[3])
	port := uint16(enc[4])<<8 | uint16(enc[5])
	return ip, port, nil
}

// UDPSendTo sends payload to the address encoded in dst over conn.
func UDPSendTo(conn *net.UDPConn, dst EncodedAddr, payload []byte) error {
	ip, port, err := DecodeAddr(dst)
	if err != nil {
		return err
	}
	_, err = conn.WriteToUDP(payload, &net.UDPAddr{IP: ip, Port: int(port)})
	return err
}

// UDPRecvFrom reads one datagram from conn, returning the payload and the
// sender's address encoded as an EncodedAddr.
func UDPRecvFrom(conn *net.UDPConn, buf []byte) (payload []byte, src EncodedAddr, err error) {
	n, addr, err := conn.ReadFromUDP(buf)
	if err != nil {
		return nil, nil, err
	}
	enc, err := EncodeAddr(addr.IP, uint16(addr.Port))
	if err != nil {
		return nil, nil, err
	}
	out := make([]byte, n)
	copy(out, buf[:n])
	return out, enc, nil
}
