package relay

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/die-net/sslocal/internal/config"
)

var (
	defaultMu    sync.Mutex
	defaultRelay *Relay
)

// StartDefault runs profile as the process-wide default relay and blocks until
// StopDefault is called. It returns 0 after a clean stop and -1 if the relay
// could not start or another default relay is already running.
func StartDefault(profile *config.Profile, logger *zap.Logger) int {
	r, err := New(profile, logger)
	if err != nil {
		logger.Error("default relay", zap.Error(err))
		return -1
	}

	defaultMu.Lock()
	if defaultRelay != nil {
		defaultMu.Unlock()
		logger.Error("default relay already running")
		return -1
	}
	defaultRelay = r
	defaultMu.Unlock()

	defer func() {
		defaultMu.Lock()
		defaultRelay = nil
		defaultMu.Unlock()
	}()

	if err := r.Start(context.Background()); err != nil {
		return -1
	}
	return 0
}

// StopDefault asks the default relay, if any, to stop. Like Stop it never
// blocks and is safe to call from a signal handler.
func StopDefault() {
	defaultMu.Lock()
	r := defaultRelay
	defaultMu.Unlock()

	if r != nil {
		r.Stop()
	}
}
