package relay

import (
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/die-net/sslocal/internal/buffer"
	"github.com/die-net/sslocal/internal/sscipher"
)

// connContext is the state of one accepted SOCKS5 client. clientBuf holds
// bytes read from the client and remoteBuf bytes read from the server. Both
// buffers and both cipher contexts belong to the goroutines running this
// connection; only teardown may be called from elsewhere.
type connContext struct {
	relay  *Relay
	client net.Conn
	logger *zap.Logger
	state  state

	clientBuf *buffer.Buffer
	remoteBuf *buffer.Buffer

	enc sscipher.Context
	dec sscipher.Context

	mu        sync.Mutex
	remote    net.Conn
	closed    bool
	closeOnce sync.Once
}

func (r *Relay) newConnContext(client net.Conn) *connContext {
	return &connContext{
		relay:     r,
		client:    client,
		logger:    r.logger.Named("tcp").With(zap.Stringer("client", client.RemoteAddr())),
		clientBuf: r.bufs.Get(),
		remoteBuf: r.bufs.Get(),
	}
}

// newCiphers creates the per-direction contexts once the destination is
// known.
func (c *connContext) newCiphers() {
	c.enc, c.dec = c.relay.env.NewContextPair()
}

// setRemote attaches the server connection. It reports false, and closes rc,
// if the connection was torn down while dialing.
func (c *connContext) setRemote(rc net.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = rc.Close()
		return false
	}
	c.remote = rc
	return true
}

// teardown removes the connection from the relay and closes both sockets. It
// is safe to call more than once and from any goroutine.
func (c *connContext) teardown() {
	c.closeOnce.Do(func() {
		c.relay.forget(c)

		c.mu.Lock()
		c.closed = true
		remote := c.remote
		c.mu.Unlock()

		_ = c.client.Close()
		if remote != nil {
			_ = remote.Close()
		}
	})
}

// release returns the buffers and cipher contexts. Only the goroutine that
// ran the connection may call it, after every pump has exited.
func (c *connContext) release() {
	if c.enc != nil {
		c.enc.Release()
	}
	if c.dec != nil {
		c.dec.Release()
	}
	c.relay.bufs.Put(c.clientBuf)
	c.relay.bufs.Put(c.remoteBuf)
	c.clientBuf, c.remoteBuf = nil, nil
}
