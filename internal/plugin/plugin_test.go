//go:build unix

package plugin

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fake-plugin")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestStartEnvironment(t *testing.T) {
	out := filepath.Join(t.TempDir(), "env")
	bin := writeScript(t, "env > \"$SS_PLUGIN_OPTIONS.tmp\"\nmv \"$SS_PLUGIN_OPTIONS.tmp\" \"$SS_PLUGIN_OPTIONS\"\nexec sleep 30\n")

	p, err := Start(context.Background(), Config{
		Path:       bin,
		Options:    out,
		RemoteHost: "ss.example.com",
		RemotePort: 8388,
		LocalHost:  "127.0.0.1",
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}

	var env []byte
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if env, err = os.ReadFile(out); err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		p.Stop()
		t.Fatalf("plugin never wrote its environment: %v", err)
	}

	want := []string{
		"SS_REMOTE_HOST=ss.example.com",
		"SS_REMOTE_PORT=8388",
		"SS_LOCAL_HOST=127.0.0.1",
		"SS_PLUGIN_OPTIONS=" + out,
	}
	for _, w := range want {
		if !strings.Contains(string(env), w+"\n") {
			t.Errorf("missing %q in plugin environment", w)
		}
	}
	if p.Port() <= 0 {
		t.Fatalf("unexpected plugin port %d", p.Port())
	}
	if !strings.HasPrefix(p.Endpoint(), "127.0.0.1:") {
		t.Fatalf("unexpected endpoint %s", p.Endpoint())
	}

	start := time.Now()
	p.Stop()
	select {
	case <-p.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
	if d := time.Since(start); d > StopTimeout+time.Second {
		t.Fatalf("stop took %s", d)
	}
}

func TestStartContextCancel(t *testing.T) {
	bin := writeScript(t, "exec sleep 30\n")

	ctx, cancel := context.WithCancel(context.Background())
	p, err := Start(ctx, Config{Path: bin, LocalHost: "127.0.0.1"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}

	cancel()
	select {
	case <-p.Done():
	case <-time.After(StopTimeout + 2*time.Second):
		t.Fatal("plugin still running after context cancel")
	}
}

func TestStartMissing(t *testing.T) {
	_, err := Start(context.Background(), Config{Path: "no-such-plugin-binary", LocalHost: "127.0.0.1"}, zaptest.NewLogger(t))
	if !errors.Is(err, exec.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDialHost(t *testing.T) {
	tests := map[string]string{
		"":          "127.0.0.1",
		"0.0.0.0":   "127.0.0.1",
		"::":        "::1",
		"127.0.0.1": "127.0.0.1",
		"localhost": "localhost",
	}
	for in, want := range tests {
		if got := dialHost(in); got != want {
			t.Errorf("dialHost(%q) = %q, want %q", in, got, want)
		}
	}
}
