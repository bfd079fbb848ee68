package router

import (
	"net"
	"testing"
	"time"

	"github.com/kannelgo/bearerbox/core/driver"
	"github.com/kannelgo/bearerbox/core/message"
	"github.com/kannelgo/bearerbox/core/queue"
	"github.com/kannelgo/bearerbox/core/supervisor"
	"github.com/rs/zerolog"
)

func TestWdpRouterPrefersWdpCapableSmsc(t *testing.T) {
	reg := NewSmscRegistry()
	wdpCapable := newTestSmscConn(t, "W", driver.AddressFilter{}, true)
	reg.RegisterSmsc(wdpCapable)

	incoming := queue.New[message.Message]()
	sup := supervisor.New(zerolog.Nop())
	r := NewWdpRouter(reg, incoming, nil, sup, zerolog.Nop())

	msg := message.NewWdp(message.WdpDatagram{
		DestinationAddress: "10.0.0.1", DestinationPort: 9200, UserData: []byte("wsp"),
	})
	r.route(msg)

	if wdpCapable.Outgoing().Len() != 1 {
		t.Fatalf("wdp-capable SMSC outgoing len = %d, want 1", wdpCapable.Outgoing().Len())
	}
}

func TestWdpRouterFallsBackToUDPWhenNoSmscAccepts(t *testing.T) {
	reg := NewSmscRegistry()
	smsOnly := newTestSmscConn(t, "S", driver.AddressFilter{}, false)
	reg.RegisterSmsc(smsOnly)

	serverConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP (server): %v", err)
	}
	defer serverConn.Close()

	clientConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP (client): %v", err)
	}
	defer clientConn.Close()

	incoming := queue.New[message.Message]()
	sup := supervisor.New(zerolog.Nop())
	r := NewWdpRouter(reg, incoming, NewUDPSender(clientConn), sup, zerolog.Nop())

	serverAddr := serverConn.LocalAddr().(*net.UDPAddr)
	msg := message.NewWdp(message.WdpDatagram{
		DestinationAddress: serverAddr.IP.String(), DestinationPort: uint16(serverAddr.Port),
		UserData: []byte("wsp-payload"),
	})
	r.route(msg)

	if smsOnly.Outgoing().Len() != 0 {
		t.Fatalf("sms-only SMSC should not have received the WDP datagram, got len %d", smsOnly.Outgoing().Len())
	}

	buf := make([]byte, 64)
	serverConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := serverConn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP: %v", err)
	}
	if string(buf[:n]) != "wsp-payload" {
		t.Fatalf("received %q, want wsp-payload", buf[:n])
	}
}

func TestUDPSenderNilReturnsErrNoUDP(t *testing.T) {
	var u *UDPSender
	err := u.Send(message.WdpDatagram{DestinationAddress: "127.0.0.1", DestinationPort: 1})
	if err != ErrNoUDP {
		t.Fatalf("Send on nil UDPSender = %v, want ErrNoUDP", err)
	}
}
