package relay

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/sslocal/internal/buffer"
	"github.com/die-net/sslocal/internal/socks5"
	"github.com/die-net/sslocal/internal/sscipher"
)

type state int

const (
	stateHandshake state = iota
	stateRequest
	stateConnecting
	stateStreaming
	stateUDPAssoc
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateHandshake:
		return "handshake"
	case stateRequest:
		return "request"
	case stateConnecting:
		return "connecting"
	case stateStreaming:
		return "streaming"
	case stateUDPAssoc:
		return "udp-assoc"
	case stateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	errGreeting = errors.New("invalid greeting")
	errCommand  = errors.New("unsupported command")
	errState    = errors.New("unexpected negotiation state")
)

// step is what the caller must do after feeding bytes to a negotiator.
type step struct {
	next state

	// greet asks for the no-auth method reply. unsupported asks for the
	// command-not-supported reply. Both are written before acting on next.
	greet       bool
	unsupported bool

	cmd  byte
	addr socks5.Addr
}

// negotiator parses the SOCKS5 greeting and request from bytes as they
// arrive, however the client splits them. It performs no I/O.
type negotiator struct {
	state state
	skip  int // greeting method bytes not yet received
	buf   *buffer.Buffer
}

func newNegotiator(buf *buffer.Buffer) *negotiator {
	return &negotiator{state: stateHandshake, buf: buf}
}

// feed consumes one read. When it returns stateConnecting the buffer holds
// ATYP ADDR PORT followed by any payload the client sent early.
func (n *negotiator) feed(p []byte) (step, error) {
	switch n.state {
	case stateHandshake:
		return n.greeting(p)
	case stateRequest:
		return n.request(p)
	default:
		return step{next: n.state}, fmt.Errorf("%w: %s", errState, n.state)
	}
}

func (n *negotiator) greeting(p []byte) (step, error) {
	if len(p) < 2 || p[0] != socks5.Ver {
		n.state = stateClosed
		return step{next: stateClosed, greet: len(p) > 1}, errGreeting
	}

	end := 2 + int(p[1])
	if end > len(p) {
		n.skip = end - len(p)
		end = len(p)
	}
	n.state = stateRequest

	s, err := n.request(p[end:])
	s.greet = true
	return s, err
}

func (n *negotiator) request(p []byte) (step, error) {
	if n.skip > 0 {
		k := min(n.skip, len(p))
		n.skip -= k
		p = p[k:]
	}
	n.buf.Append(p)

	// VER CMD RSV ATYP ADDR PORT
	b := n.buf.Bytes()
	if len(b) < 5 {
		return step{next: stateRequest}, nil
	}

	cmd := b[1]
	if cmd != socks5.CmdConnect && cmd != socks5.CmdUDP {
		n.state = stateClosed
		return step{next: stateClosed, cmd: cmd, unsupported: true}, fmt.Errorf("%w: %#x", errCommand, cmd)
	}

	addr, err := socks5.ParseAddr(b[3:])
	if errors.Is(err, socks5.ErrShortAddr) {
		return step{next: stateRequest, cmd: cmd}, nil
	}
	if err != nil {
		n.state = stateClosed
		return step{next: stateClosed, cmd: cmd}, err
	}
	addr = socks5.Addr(bytes.Clone(addr))

	if cmd == socks5.CmdUDP {
		n.state = stateUDPAssoc
		return step{next: stateUDPAssoc, cmd: cmd, addr: addr}, nil
	}

	n.buf.DropFront(3)
	n.state = stateConnecting
	return step{next: stateConnecting, cmd: cmd, addr: addr}, nil
}

func (r *Relay) handleConn(client net.Conn) {
	c := r.newConnContext(client)
	defer c.release()
	if !r.track(c) {
		_ = client.Close()
		return
	}
	defer c.teardown()

	err := c.run()
	if err != nil && !isClosed(err) {
		if ce := c.logger.Check(zap.DebugLevel, "connection closed"); ce != nil {
			ce.Write(zap.Stringer("state", c.state), zap.Error(err))
		}
	}
}

func (c *connContext) run() error {
	if d := c.relay.profile.NegotiationTimeout; d > 0 {
		_ = c.client.SetDeadline(time.Now().Add(d))
	}

	st, err := c.negotiate()
	c.state = st.next
	if err != nil {
		return err
	}
	_ = c.client.SetDeadline(time.Time{})

	switch st.next {
	case stateUDPAssoc:
		return c.holdUDP()
	case stateConnecting:
		c.logger = c.logger.With(zap.Stringer("target", st.addr))
		c.newCiphers()
		if err := c.connect(); err != nil {
			return err
		}
		c.state = stateStreaming
		return c.stream()
	default:
		return fmt.Errorf("%w: %s", errState, st.next)
	}
}

// negotiate reads until the negotiator leaves the request state, writing the
// replies it asks for along the way. remoteBuf is idle until streaming and
// serves as the read buffer.
func (c *connContext) negotiate() (step, error) {
	neg := newNegotiator(c.clientBuf)
	for {
		c.remoteBuf.Clear()
		c.remoteBuf.Reserve(buffer.DefaultCapacity)
		n, rerr := c.remoteBuf.Fill(c.client)
		if n > 0 {
			st, err := neg.feed(c.remoteBuf.Bytes())
			if st.greet {
				if werr := socks5.WriteMethodReply(c.client); werr != nil {
					return st, werr
				}
			}
			if st.unsupported {
				socks5.WriteCommandNotSupportedReply(c.client)
			}
			if err != nil {
				return st, err
			}
			if st.next != stateRequest {
				return st, nil
			}
		}
		if rerr != nil {
			return step{next: stateClosed}, fmt.Errorf("negotiation read: %w", rerr)
		}
	}
}

// holdUDP answers UDP ASSOCIATE and keeps the connection open until the
// client closes it. Nothing read here is relayed.
func (c *connContext) holdUDP() error {
	u := c.relay.udp
	if u == nil {
		socks5.WriteCommandNotSupportedReply(c.client)
		return fmt.Errorf("%w: udp relay disabled", errCommand)
	}

	ua := u.conn.LocalAddr().(*net.UDPAddr)
	if err := socks5.WriteUDPAssociateReply(c.client, ua.IP, ua.Port); err != nil {
		return err
	}
	c.logger.Debug("udp associate", zap.Stringer("relay", ua))

	_, err := io.Copy(io.Discard, c.client)
	return err
}

// connect dials the server, or the plugin in front of it, replies to the
// client, and sends the encrypted address header with any early payload.
func (c *connContext) connect() error {
	r := c.relay
	rc, err := r.dialer.DialContext(r.ctx, "tcp", r.target)
	if err != nil {
		socks5.WriteConnectionRefusedReply(c.client)
		return err
	}
	if !c.setRemote(rc) {
		return net.ErrClosed
	}

	if err := socks5.WriteConnectSuccessReply(c.client); err != nil {
		return err
	}

	if err := c.clientBuf.Encrypt(c.enc, buffer.DefaultCapacity); err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}
	n, err := rc.Write(c.clientBuf.Bytes())
	r.stats.addTx(n)
	if err != nil {
		return fmt.Errorf("write remote: %w", err)
	}
	c.clientBuf.Clear()
	return nil
}

// stream pumps both directions until either side fails or closes.
func (c *connContext) stream() error {
	g := errgroup.Group{}
	g.Go(func() error {
		defer c.teardown()
		return c.pumpToRemote()
	})
	g.Go(func() error {
		defer c.teardown()
		return c.pumpToClient()
	})
	return g.Wait()
}

func (c *connContext) pumpToRemote() error {
	for {
		c.clientBuf.Clear()
		c.clientBuf.Reserve(buffer.DefaultCapacity)
		_, rerr := c.clientBuf.Fill(c.client)
		if c.clientBuf.Len() > 0 {
			if err := c.clientBuf.Encrypt(c.enc, buffer.DefaultCapacity); err != nil {
				return fmt.Errorf("encrypt: %w", err)
			}
			n, err := c.remote.Write(c.clientBuf.Bytes())
			c.relay.stats.addTx(n)
			if err != nil {
				return fmt.Errorf("write remote: %w", err)
			}
		}
		if rerr != nil {
			return rerr
		}
	}
}

func (c *connContext) pumpToClient() error {
	for {
		c.remoteBuf.Clear()
		c.remoteBuf.Reserve(buffer.DefaultCapacity)
		n, rerr := c.remoteBuf.Fill(c.remote)
		c.relay.stats.addRx(n)
		if n > 0 {
			err := c.remoteBuf.Decrypt(c.dec, buffer.DefaultCapacity)
			switch {
			case errors.Is(err, sscipher.ErrNeedMore):
			case err != nil:
				return fmt.Errorf("decrypt: %w", err)
			default:
				if _, err := c.client.Write(c.remoteBuf.Bytes()); err != nil {
					return fmt.Errorf("write client: %w", err)
				}
			}
		}
		if rerr != nil {
			return rerr
		}
	}
}

// isClosed reports errors that only mean a peer or the relay hung up.
func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
