package testutil

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
)

// StartEchoTCPServer serves loopback connections that echo everything they
// receive until the peer closes.
func StartEchoTCPServer(t *testing.T, ctx context.Context) net.Listener {
	t.Helper()

	return StartTCPServer(t, ctx, func(c net.Conn) {
		_, _ = io.Copy(c, c)
	})
}

// AssertEcho writes msg to w while reading the same number of bytes back from
// r, and fails the test unless they match. Writing concurrently keeps large
// messages from filling both directions' socket buffers.
func AssertEcho(t *testing.T, w io.Writer, r io.Reader, msg []byte) {
	t.Helper()

	werr := make(chan error, 1)
	go func() {
		_, err := w.Write(msg)
		werr <- err
	}()

	got := make([]byte, len(msg))
	if _, err := io.ReadFull(r, got); err != nil {
		t.Fatal(err)
	}
	if err := <-werr; err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, msg) {
		if len(msg) > 64 {
			t.Fatalf("echo of %d bytes does not match", len(msg))
		}
		t.Fatalf("expected %q got %q", msg, got)
	}
}
