package relay

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/shadowsocks/go-shadowsocks2/socks"
	txsocks5 "github.com/txthinking/socks5"
	"go.uber.org/zap/zaptest"

	"github.com/die-net/sslocal/internal/config"
	"github.com/die-net/sslocal/internal/socks5"
	"github.com/die-net/sslocal/internal/testutil"
)

const (
	testMethod   = "chacha20-ietf-poly1305"
	testPassword = "correct horse battery staple"
)

func TestMain(m *testing.M) {
	// The fake server runs in this process and would see every client salt
	// as a replay.
	os.Setenv("SHADOWSOCKS_SF_CAPACITY", "-1")
	os.Exit(m.Run())
}

var connectSuccess = []byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0}

func testProfile(serverPort int) *config.Profile {
	p := config.Default()
	p.RemoteHost = "127.0.0.1"
	p.RemotePort = serverPort
	p.LocalAddr = "127.0.0.1"
	p.Password = testPassword
	p.Method = testMethod
	p.UDP = true
	p.NegotiationTimeout = 2 * time.Second
	return p
}

// echoServer starts a Shadowsocks server that echoes TCP streams and UDP
// packets and reports each TCP target on the returned channel.
func echoServer(t *testing.T, ctx context.Context) (*testutil.ShadowsocksServer, <-chan string) {
	t.Helper()

	targets := make(chan string, 16)
	srv := testutil.StartShadowsocksServer(t, ctx, testMethod, testPassword,
		func(addr socks.Addr, c net.Conn) {
			targets <- addr.String()
			_, _ = io.Copy(c, c)
		},
		func(_ net.Addr, pkt []byte) []byte {
			return bytes.Clone(pkt)
		},
	)
	return srv, targets
}

// startRelay runs r until the test ends and fails the test if it does not
// stop cleanly.
func startRelay(t *testing.T, p *config.Profile) *Relay {
	t.Helper()

	r, err := New(p, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}

	errc := make(chan error, 1)
	go func() { errc <- r.Start(context.Background()) }()

	select {
	case <-r.Ready():
	case err := <-errc:
		t.Fatalf("start: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not become ready")
	}

	t.Cleanup(func() {
		r.Stop()
		select {
		case err := <-errc:
			if err != nil {
				t.Errorf("stop: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("relay did not stop")
		}
	})
	return r
}

func dialRelay(t *testing.T, r *Relay) net.Conn {
	t.Helper()

	c, err := net.DialTimeout("tcp", r.Addr().String(), 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	_ = c.SetDeadline(time.Now().Add(5 * time.Second))
	return c
}

func readExactly(t *testing.T, r io.Reader, n int) []byte {
	t.Helper()

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		t.Fatal(err)
	}
	return buf
}

func expectTarget(t *testing.T, targets <-chan string, want string) {
	t.Helper()

	select {
	case got := <-targets:
		if got != want {
			t.Fatalf("target %q want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server saw no connection")
	}
}

func TestRelayConnect(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv, targets := echoServer(t, ctx)
	r := startRelay(t, testProfile(srv.Port()))

	c := dialRelay(t, r)
	if _, err := c.Write(greeting); err != nil {
		t.Fatal(err)
	}
	if got := readExactly(t, c, 2); !bytes.Equal(got, []byte{0x05, 0x00}) {
		t.Fatalf("method reply %x", got)
	}
	if _, err := c.Write(connectRequest); err != nil {
		t.Fatal(err)
	}
	if got := readExactly(t, c, len(connectSuccess)); !bytes.Equal(got, connectSuccess) {
		t.Fatalf("connect reply %x", got)
	}

	testutil.AssertEcho(t, c, c, []byte("hello"))
	expectTarget(t, targets, "1.2.3.4:80")

	// Larger than one AEAD chunk in each direction.
	testutil.AssertEcho(t, c, c, bytes.Repeat([]byte("0123456789abcdef"), 4096))

	if s := r.Stats(); s.Conns != 1 || s.TxBytes == 0 || s.RxBytes == 0 {
		t.Fatalf("stats %+v", s)
	}
}

func TestRelayConnectPipelined(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv, targets := echoServer(t, ctx)
	r := startRelay(t, testProfile(srv.Port()))

	c := dialRelay(t, r)
	if _, err := c.Write(join(greeting, connectRequest, []byte("early"))); err != nil {
		t.Fatal(err)
	}
	want := join([]byte{0x05, 0x00}, connectSuccess, []byte("early"))
	if got := readExactly(t, c, len(want)); !bytes.Equal(got, want) {
		t.Fatalf("got %x want %x", got, want)
	}
	expectTarget(t, targets, "1.2.3.4:80")
}

func TestRelayConnectDomain(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv, targets := echoServer(t, ctx)
	r := startRelay(t, testProfile(srv.Port()))

	client, err := txsocks5.NewClient(r.Addr().String(), "", "", 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	c, err := client.Dial("tcp", "example.com:443")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	testutil.AssertEcho(t, c, c, []byte("over a domain target"))
	expectTarget(t, targets, "example.com:443")
}

func TestRelayConnectRefused(t *testing.T) {
	// Reserve a port with nothing listening on it.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	p := testProfile(port)
	p.UDP = false
	r := startRelay(t, p)

	c := dialRelay(t, r)
	if err := socks5.ClientNegotiate(c); err != nil {
		t.Fatal(err)
	}
	err = socks5.ClientConnect(c, "1.2.3.4:80")
	if err == nil {
		t.Fatal("expected connect failure")
	}

	if _, err := c.Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestRelayUnsupportedCommand(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv, _ := echoServer(t, ctx)
	r := startRelay(t, testProfile(srv.Port()))

	c := dialRelay(t, r)
	if _, err := c.Write(join(greeting, []byte{0x05, 0x02, 0x00, 0x01, 1, 2, 3, 4, 0, 80})); err != nil {
		t.Fatal(err)
	}
	want := []byte{0x05, 0x00, 0x05, 0x07, 0x00, 0x01, 0, 0, 0, 0, 0, 0}
	if got := readExactly(t, c, len(want)); !bytes.Equal(got, want) {
		t.Fatalf("got %x want %x", got, want)
	}
	if _, err := c.Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestRelayBadGreeting(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv, _ := echoServer(t, ctx)
	r := startRelay(t, testProfile(srv.Port()))

	c := dialRelay(t, r)
	if _, err := c.Write([]byte{0x04, 0x01, 0x00}); err != nil {
		t.Fatal(err)
	}
	if got := readExactly(t, c, 2); !bytes.Equal(got, []byte{0x05, 0x00}) {
		t.Fatalf("got %x", got)
	}
	if _, err := c.Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestRelayNegotiationTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv, _ := echoServer(t, ctx)
	p := testProfile(srv.Port())
	p.NegotiationTimeout = 200 * time.Millisecond
	r := startRelay(t, p)

	c := dialRelay(t, r)
	if _, err := c.Write(greeting); err != nil {
		t.Fatal(err)
	}
	readExactly(t, c, 2)

	start := time.Now()
	if _, err := c.Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatal("negotiation deadline not applied")
	}
}

func TestRelayStopClosesConnections(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv, _ := echoServer(t, ctx)

	r, err := New(testProfile(srv.Port()), zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	errc := make(chan error, 1)
	go func() { errc <- r.Start(ctx) }()
	<-r.Ready()

	c, err := net.Dial("tcp", r.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	_ = c.SetDeadline(time.Now().Add(5 * time.Second))
	if err := socks5.ClientDial(c, "1.2.3.4:80"); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEcho(t, c, c, []byte("ping"))

	r.Stop()
	r.Stop()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop")
	}

	if _, err := c.Read(make([]byte, 1)); err == nil {
		t.Fatal("connection still open after stop")
	}
	if s := r.Stats(); s.Conns != 0 || s.Sessions != 0 {
		t.Fatalf("stats after stop %+v", s)
	}
	if err := r.Start(ctx); err != ErrStarted {
		t.Fatalf("restart: %v", err)
	}
}

func TestRelayContextCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv, _ := echoServer(t, ctx)

	r, err := New(testProfile(srv.Port()), zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	rctx, rcancel := context.WithCancel(ctx)
	errc := make(chan error, 1)
	go func() { errc <- r.Start(rctx) }()
	<-r.Ready()

	rcancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestRelayInstancesAreIndependent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv, targets := echoServer(t, ctx)
	a := startRelay(t, testProfile(srv.Port()))
	b := startRelay(t, testProfile(srv.Port()))

	if a.Addr().String() == b.Addr().String() {
		t.Fatal("instances share a listener")
	}

	ca := dialRelay(t, a)
	if err := socks5.ClientDial(ca, "10.0.0.1:1"); err != nil {
		t.Fatal(err)
	}
	cb := dialRelay(t, b)
	if err := socks5.ClientDial(cb, "10.0.0.1:1"); err != nil {
		t.Fatal(err)
	}

	testutil.AssertEcho(t, ca, ca, []byte("from a"))
	testutil.AssertEcho(t, cb, cb, []byte("from b"))
	expectTarget(t, targets, "10.0.0.1:1")
	expectTarget(t, targets, "10.0.0.1:1")

	b.Stop()
	testutil.AssertEcho(t, ca, ca, []byte("a survives b"))
}

func TestNewRejectsBadProfile(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Profile)
	}{
		{"no server", func(p *config.Profile) { p.RemoteHost = "" }},
		{"no secret", func(p *config.Profile) { p.Password = "" }},
		{"bad method", func(p *config.Profile) { p.Method = "rot13" }},
		{"bad keepalive", func(p *config.Profile) { p.TCPKeepAlive = "sometimes" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testProfile(8388)
			tt.mutate(p)
			if _, err := New(p, zaptest.NewLogger(t)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestStartFailsOnBusyPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	p := testProfile(8388)
	p.LocalPort = ln.Addr().(*net.TCPAddr).Port

	r, err := New(p, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Start(context.Background()); err == nil {
		t.Fatal("expected bind error")
	}
}
