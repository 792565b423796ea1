package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/die-net/sslocal/internal/buffer"
	"github.com/die-net/sslocal/internal/config"
	"github.com/die-net/sslocal/internal/dialer"
	"github.com/die-net/sslocal/internal/plugin"
	"github.com/die-net/sslocal/internal/sockopt"
	"github.com/die-net/sslocal/internal/sscipher"
)

var ErrStarted = errors.New("relay already started")

// Relay is one local SOCKS5 endpoint forwarding to one Shadowsocks server.
// Instances share nothing; several may run in one process.
type Relay struct {
	profile   *config.Profile
	env       *sscipher.Env
	dialer    dialer.Dialer
	keepAlive net.KeepAliveConfig
	logger    *zap.Logger

	started  atomic.Bool
	stopping atomic.Bool
	handles  atomic.Int64
	ready    chan struct{}

	// Set by Start before ready is closed.
	ctx    context.Context
	cancel context.CancelFunc
	remote netip.AddrPort
	target string
	ln     net.Listener
	udp    *udpRelay
	plugin *plugin.Plugin

	mu     sync.Mutex
	conns  map[net.Conn]*connContext
	closed bool

	bufs  *bufferPool
	stats counters
}

// New validates profile and prepares the cipher. Nothing is bound until
// Start.
func New(profile *config.Profile, logger *zap.Logger) (*Relay, error) {
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}

	env, err := sscipher.New(profile.Password, profile.Method, profile.Key)
	if err != nil {
		return nil, err
	}

	ka, err := config.ParseTCPKeepAlive(profile.TCPKeepAlive)
	if err != nil {
		return nil, fmt.Errorf("invalid tcp keepalive: %w", err)
	}

	r := &Relay{
		profile:   profile,
		env:       env,
		keepAlive: ka,
		dialer: dialer.NewDirectDialer(dialer.Config{
			DialTimeout: profile.DialTimeout,
			KeepAlive:   ka,
			IPv6First:   profile.IPv6First,
		}),
		logger: logger.With(zap.String("relay", uuid.NewString())),
		ready:  make(chan struct{}),
		conns:  make(map[net.Conn]*connContext),
		bufs:   newBufferPool(buffer.DefaultCapacity),
	}
	return r, nil
}

// Start resolves the server, launches the plugin if one is configured, binds
// the listeners, and serves until Stop is called or ctx is done. Errors before
// the listeners are up are returned; a clean stop returns nil.
func (r *Relay) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrStarted
	}

	if err := r.setup(ctx); err != nil {
		r.logger.Error("startup failed", zap.Error(err))
		return err
	}
	close(r.ready)

	r.goHandle(r.serve)
	if r.udp != nil {
		r.goHandle(r.udp.serve)
	}

	return r.control(ctx)
}

func (r *Relay) setup(ctx context.Context) error {
	p := r.profile

	remote, err := dialer.Resolve(ctx, nil, p.RemoteHost, uint16(p.RemotePort), p.IPv6First)
	if err != nil {
		return fmt.Errorf("resolve server: %w", err)
	}
	r.remote = remote
	r.target = remote.String()

	r.ctx, r.cancel = context.WithCancel(ctx)

	if p.Plugin != "" {
		pl, err := plugin.Start(r.ctx, plugin.Config{
			Path:       p.Plugin,
			Options:    p.PluginOpts,
			RemoteHost: p.RemoteHost,
			RemotePort: p.RemotePort,
			LocalHost:  p.LocalAddr,
		}, r.logger.Named("plugin"))
		if err != nil {
			r.cancel()
			return fmt.Errorf("plugin: %w", err)
		}
		r.plugin = pl
		r.target = pl.Endpoint()
	}

	ln, err := ListenTCP(r.ctx, "tcp", p.LocalEndpoint(), r.keepAlive)
	if err != nil {
		r.abort()
		return err
	}
	r.ln = ln

	if p.UDP {
		port := ln.Addr().(*net.TCPAddr).Port
		u, err := newUDPRelay(r, net.JoinHostPort(p.LocalAddr, strconv.Itoa(port)))
		if err != nil {
			_ = ln.Close()
			r.abort()
			return err
		}
		r.udp = u
	}

	r.logger.Info("listening",
		zap.Stringer("addr", ln.Addr()),
		zap.String("server", remote.String()),
		zap.String("method", r.env.Method()),
		zap.Bool("udp", p.UDP),
		zap.Bool("dscp", p.UDP && sockopt.IsSupported),
	)
	return nil
}

func (r *Relay) abort() {
	if r.plugin != nil {
		r.plugin.Stop()
	}
	r.cancel()
}

// Stop asks a running relay to shut down. It never blocks and may be called
// any number of times from any goroutine, including before Start.
func (r *Relay) Stop() {
	r.stopping.Store(true)
}

// Ready is closed once the listeners are bound.
func (r *Relay) Ready() <-chan struct{} { return r.ready }

// Addr is the SOCKS5 listener address. Only valid after Ready.
func (r *Relay) Addr() net.Addr { return r.ln.Addr() }

// UDPAddr is the UDP relay address, or nil when UDP is disabled. Only valid
// after Ready.
func (r *Relay) UDPAddr() net.Addr {
	if r.udp == nil {
		return nil
	}
	return r.udp.conn.LocalAddr()
}

func (r *Relay) Stats() Stats {
	s := Stats{
		TxBytes: r.stats.tx.Load(),
		RxBytes: r.stats.rx.Load(),
	}
	r.mu.Lock()
	s.Conns = len(r.conns)
	r.mu.Unlock()
	if r.udp != nil {
		s.Sessions = r.udp.sessionCount()
	}
	return s
}

// control runs on the caller's goroutine until shutdown has finished.
func (r *Relay) control(ctx context.Context) error {
	ticker := time.NewTicker(controlInterval)
	defer ticker.Stop()

	done := ctx.Done()
	var pluginDone <-chan struct{}
	if r.plugin != nil {
		pluginDone = r.plugin.Done()
	}

	shuttingDown := false
	var ticks int
	var last Stats
	for {
		select {
		case <-done:
			done = nil
		case <-pluginDone:
			pluginDone = nil
			r.logger.Warn("plugin exited", zap.Error(r.plugin.Err()))
		case <-ticker.C:
		}

		if !shuttingDown && (r.stopping.Load() || ctx.Err() != nil) {
			shuttingDown = true
			done = nil
			r.shutdown()
		}

		if shuttingDown {
			if n := r.handles.Load(); n == 0 {
				r.logger.Info("stopped")
				return nil
			}
			continue
		}

		if r.udp != nil {
			r.udp.sweep()
		}

		ticks++
		if ticks%statsEvery == 0 {
			if s := r.Stats(); s != last {
				last = s
				r.logger.Debug("traffic",
					zap.Int64("tx", s.TxBytes),
					zap.Int64("rx", s.RxBytes),
					zap.Int("conns", s.Conns),
					zap.Int("sessions", s.Sessions),
				)
			}
		}
	}
}

// shutdown closes every socket the relay owns. Goroutines blocked on them
// return on their own; control waits for them through handles.
func (r *Relay) shutdown() {
	r.logger.Info("stopping")

	_ = r.ln.Close()
	if r.udp != nil {
		r.udp.close()
	}

	r.mu.Lock()
	r.closed = true
	conns := make([]*connContext, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.teardown()
	}

	if r.plugin != nil {
		r.plugin.Stop()
	}
	r.cancel()
}

// goHandle runs f on a new goroutine counted against shutdown.
func (r *Relay) goHandle(f func()) {
	r.handles.Add(1)
	go func() {
		defer r.handles.Add(-1)
		f()
	}()
}

func (r *Relay) serve() {
	for {
		c, err := r.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || r.stopping.Load() {
				return
			}
			r.logger.Warn("accept", zap.Error(err))
			time.Sleep(10 * time.Millisecond)
			continue
		}
		r.goHandle(func() { r.handleConn(c) })
	}
}

// track registers c. It reports false once shutdown has started.
func (r *Relay) track(c *connContext) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.conns[c.client] = c
	return true
}

func (r *Relay) forget(c *connContext) {
	r.mu.Lock()
	delete(r.conns, c.client)
	r.mu.Unlock()
}
