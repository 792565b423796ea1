package dialer

import (
	"context"
	"net"
	"time"
)

// Dialer opens outbound connections to the server or the plugin in front of
// it. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Config tunes outbound TCP connections.
type Config struct {
	DialTimeout time.Duration
	KeepAlive   net.KeepAliveConfig

	// IPv6First picks an IPv6 address over IPv4 when a host name resolves
	// to both.
	IPv6First bool

	// Resolver looks up host names. Nil uses net.DefaultResolver.
	Resolver *net.Resolver
}
