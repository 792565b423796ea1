package relay

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/die-net/sslocal/internal/buffer"
	"github.com/die-net/sslocal/internal/sockopt"
	"github.com/die-net/sslocal/internal/socks5"
)

// udpRelay translates between SOCKS5 UDP requests from local clients and
// Shadowsocks UDP packets to the server.
type udpRelay struct {
	relay   *Relay
	conn    *net.UDPConn
	remote  *net.UDPAddr
	network string
	bufSize int
	logger  *zap.Logger

	// mu serializes every lookup, refresh, and eviction so a session is
	// never refreshed after it was evicted.
	mu       sync.Mutex
	sessions *cache.Cache
	closed   bool
}

func newUDPRelay(r *Relay, addr string) (*udpRelay, error) {
	conn, err := sockopt.ListenUDP(r.ctx, "udp", addr, sockopt.Options{ReuseAddr: true})
	if err != nil {
		return nil, err
	}

	network := "udp4"
	if r.remote.Addr().Is6() {
		network = "udp6"
	}

	u := &udpRelay{
		relay:   r,
		conn:    conn,
		remote:  net.UDPAddrFromAddrPort(r.remote),
		network: network,
		bufSize: 2 * r.profile.PacketSize(),
		logger:  r.logger.Named("udp"),
		// Expired sessions are swept from the relay's control loop.
		sessions: cache.New(r.profile.Timeout, 0),
	}
	u.sessions.OnEvicted(func(_ string, v any) {
		v.(*udpSession).close()
	})
	return u, nil
}

// serve reads client datagrams until the socket is closed.
func (u *udpRelay) serve() {
	pkt := make([]byte, u.bufSize)
	out := buffer.NewSize(u.bufSize)
	for {
		n, src, err := u.conn.ReadFromUDPAddrPort(pkt)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			u.logger.Debug("read", zap.Error(err))
			continue
		}
		src = netip.AddrPortFrom(src.Addr().Unmap(), src.Port())
		key := src.String()

		dst, payload, err := socks5.SplitDatagram(pkt[:n])
		if err != nil {
			if ce := u.logger.Check(zap.DebugLevel, "drop datagram"); ce != nil {
				ce.Write(zap.String("client", key), zap.Error(err))
			}
			u.evictKey(key)
			continue
		}

		s, err := u.session(key, src)
		if err != nil {
			u.logger.Warn("new session", zap.String("client", key), zap.Error(err))
			continue
		}

		out.AssignFromStart(payload)
		if err := out.EncryptAll(u.relay.env, u.bufSize); err != nil {
			if ce := s.logger.Check(zap.DebugLevel, "encrypt"); ce != nil {
				ce.Write(zap.Stringer("target", dst), zap.Error(err))
			}
			u.evict(s)
			continue
		}
		wn, err := s.conn.WriteToUDP(out.Bytes(), u.remote)
		u.relay.stats.addTx(wn)
		if err != nil {
			if ce := s.logger.Check(zap.DebugLevel, "write remote"); ce != nil {
				ce.Write(zap.Error(err))
			}
		}
	}
}

// session returns the live session for key, refreshing its deadline, or
// creates one.
func (u *udpRelay) session(key string, src netip.AddrPort) (*udpSession, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return nil, net.ErrClosed
	}
	if v, ok := u.sessions.Get(key); ok {
		s := v.(*udpSession)
		u.sessions.SetDefault(key, s)
		return s, nil
	}

	// An expired entry the sweep has not reached yet still owns a socket.
	u.sessions.Delete(key)

	conn, err := sockopt.ListenUDP(u.relay.ctx, u.network, ":0", sockopt.Options{TOS: sockopt.TOSExpedited})
	if err != nil {
		return nil, fmt.Errorf("session socket: %w", err)
	}

	s := &udpSession{
		key:    key,
		client: src,
		conn:   conn,
		buf:    buffer.NewSize(u.bufSize),
		logger: u.logger.With(zap.String("client", key)),
	}
	u.sessions.SetDefault(key, s)
	u.relay.goHandle(func() { u.readSession(s) })

	s.logger.Debug("session opened", zap.Stringer("local", conn.LocalAddr()))
	return s, nil
}

// readSession relays server replies back to the session's client until the
// session is closed or a reply fails to decrypt.
func (u *udpRelay) readSession(s *udpSession) {
	for {
		s.buf.Clear()
		s.buf.Reserve(u.bufSize)
		n, err := s.buf.Fill(s.conn)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("read remote", zap.Error(err))
				u.evict(s)
			}
			return
		}
		u.relay.stats.addRx(n)

		if err := s.buf.DecryptAll(u.relay.env, u.bufSize); err != nil {
			s.logger.Debug("decrypt", zap.Error(err))
			u.evict(s)
			return
		}

		resp, err := socks5.ResponseDatagram(s.buf.Bytes())
		if err != nil {
			s.logger.Debug("bad reply header", zap.Error(err))
			u.evict(s)
			return
		}

		if _, err := u.conn.WriteToUDPAddrPort(resp, s.client); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Debug("write client", zap.Error(err))
		}
		u.touch(s)
	}
}

// touch refreshes s's deadline if it is still the session for its key.
func (u *udpRelay) touch(s *udpSession) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if v, ok := u.sessions.Get(s.key); ok && v.(*udpSession) == s {
		u.sessions.SetDefault(s.key, s)
	}
}

// evict removes s and closes its socket.
func (u *udpRelay) evict(s *udpSession) {
	u.mu.Lock()
	if v, ok := u.sessions.Get(s.key); ok && v.(*udpSession) == s {
		u.sessions.Delete(s.key)
	}
	u.mu.Unlock()
	s.close()
}

// evictKey tears down whatever session key currently maps to.
func (u *udpRelay) evictKey(key string) {
	u.mu.Lock()
	u.sessions.Delete(key)
	u.mu.Unlock()
}

// sweep closes sessions idle for longer than the timeout.
func (u *udpRelay) sweep() {
	u.mu.Lock()
	u.sessions.DeleteExpired()
	u.mu.Unlock()
}

func (u *udpRelay) sessionCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.sessions.ItemCount()
}

// lookup returns the live session for key, if any.
func (u *udpRelay) lookup(key string) (*udpSession, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	v, ok := u.sessions.Get(key)
	if !ok {
		return nil, false
	}
	return v.(*udpSession), true
}

// close shuts the client-facing socket and every session.
func (u *udpRelay) close() {
	_ = u.conn.Close()

	u.mu.Lock()
	defer u.mu.Unlock()
	u.closed = true
	u.sessions.DeleteExpired()
	for key := range u.sessions.Items() {
		u.sessions.Delete(key)
	}
}
