package dialer

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

type directDialer struct {
	cfg Config
	nd  net.Dialer
}

// NewDirectDialer returns a Dialer that connects straight to its target,
// resolving host names with the configured family preference.
func NewDirectDialer(cfg Config) Dialer {
	return &directDialer{
		cfg: cfg,
		nd:  net.Dialer{Timeout: cfg.DialTimeout, KeepAliveConfig: cfg.KeepAlive},
	}
}

func (d *directDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: bad port: %w", network, address, err)
	}

	if d.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.DialTimeout)
		defer cancel()
	}

	ap, err := Resolve(ctx, d.cfg.Resolver, host, uint16(port), d.cfg.IPv6First)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}

	conn, err := d.nd.DialContext(ctx, network, ap.String())
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	return conn, nil
}
