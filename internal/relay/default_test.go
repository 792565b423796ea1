package relay

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func defaultRunning() *Relay {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultRelay
}

func TestDefaultRelay(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv, targets := echoServer(t, ctx)
	logger := zaptest.NewLogger(t)

	// Stopping with nothing running is a no-op.
	StopDefault()

	status := make(chan int, 1)
	go func() { status <- StartDefault(testProfile(srv.Port()), logger) }()

	var r *Relay
	waitFor(t, "default relay", func() bool {
		r = defaultRunning()
		return r != nil
	})
	<-r.Ready()

	c := dialRelay(t, r)
	if _, err := c.Write(greeting); err != nil {
		t.Fatal(err)
	}
	readExactly(t, c, 2)
	if _, err := c.Write(connectRequest); err != nil {
		t.Fatal(err)
	}
	readExactly(t, c, len(connectSuccess))
	expectTarget(t, targets, "1.2.3.4:80")

	if got := StartDefault(testProfile(srv.Port()), logger); got != -1 {
		t.Fatalf("second default start returned %d", got)
	}

	StopDefault()
	select {
	case got := <-status:
		if got != 0 {
			t.Fatalf("status %d", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("default relay did not stop")
	}
	if defaultRunning() != nil {
		t.Fatal("default relay still registered")
	}
}

func TestDefaultRelayStartFailure(t *testing.T) {
	p := testProfile(8388)
	p.RemoteHost = ""
	if got := StartDefault(p, zaptest.NewLogger(t)); got != -1 {
		t.Fatalf("status %d", got)
	}
}
