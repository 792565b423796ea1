package relay

import (
	"net"
	"net/netip"
	"sync"

	"go.uber.org/zap"

	"github.com/die-net/sslocal/internal/buffer"
)

// udpSession relays datagrams for one client source address through its own
// socket to the server.
type udpSession struct {
	key    string
	client netip.AddrPort
	conn   *net.UDPConn
	buf    *buffer.Buffer
	logger *zap.Logger

	closeOnce sync.Once
}

func (s *udpSession) close() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
}
