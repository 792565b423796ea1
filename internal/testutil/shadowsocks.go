package testutil

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"

	"github.com/shadowsocks/go-shadowsocks2/core"
	"github.com/shadowsocks/go-shadowsocks2/socks"
)

// ShadowsocksServer is a test Shadowsocks server listening for TCP and UDP on
// the same loopback port.
type ShadowsocksServer struct {
	TCP net.Listener
	UDP net.PacketConn
}

// Port is the shared TCP and UDP port.
func (s *ShadowsocksServer) Port() int {
	return s.TCP.Addr().(*net.TCPAddr).Port
}

// StartShadowsocksServer serves method/password on 127.0.0.1. Every TCP
// connection's target is read and handed with the decrypted stream to
// tcpHandler. Every UDP packet is decrypted, passed to udpHandler with its
// source as ATYP ADDR PORT DATA, and a non-nil result is encrypted back to the sender.
// Either handler may be nil to ignore that protocol.
func StartShadowsocksServer(t *testing.T, ctx context.Context, method, password string, tcpHandler func(socks.Addr, net.Conn), udpHandler func(net.Addr, []byte) []byte) *ShadowsocksServer {
	t.Helper()

	ciph, err := core.PickCipher(method, nil, password)
	if err != nil {
		t.Fatal(err)
	}

	lc := net.ListenConfig{}
	var s *ShadowsocksServer
	for range 10 {
		ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		port := strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)
		pc, err := lc.ListenPacket(ctx, "udp", net.JoinHostPort("127.0.0.1", port))
		if err != nil {
			_ = ln.Close()
			continue
		}
		s = &ShadowsocksServer{TCP: ln, UDP: pc}
		break
	}
	if s == nil {
		t.Fatal("no free port for both tcp and udp")
	}
	t.Cleanup(func() {
		_ = s.TCP.Close()
		_ = s.UDP.Close()
	})

	go func() {
		for {
			c, err := s.TCP.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				sc := ciph.StreamConn(c)
				addr, err := socks.ReadAddr(sc)
				if err != nil || tcpHandler == nil {
					return
				}
				tcpHandler(addr, sc)
			}()
		}
	}()

	go func() {
		pc := ciph.PacketConn(s.UDP)
		buf := make([]byte, 64*1024)
		for {
			n, from, err := pc.ReadFrom(buf)
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				continue
			}
			if udpHandler == nil {
				continue
			}
			if resp := udpHandler(from, buf[:n]); resp != nil {
				_, _ = pc.WriteTo(resp, from)
			}
		}
	}()

	return s
}
