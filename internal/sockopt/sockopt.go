package sockopt

import (
	"context"
	"fmt"
	"net"
)

// TOSExpedited is DSCP EF (46) shifted into the TOS byte.
const TOSExpedited = 46 << 2

// Options are applied to a socket before bind.
type Options struct {
	ReuseAddr bool

	// TOS is written to IP_TOS, or IPV6_TCLASS for IPv6 sockets. Zero leaves
	// the system default.
	TOS int
}

// ListenUDP opens a UDP socket on address with o applied.
func ListenUDP(ctx context.Context, network, address string, o Options) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: o.control}

	pc, err := lc.ListenPacket(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("listen %s %s: %w", network, address, err)
	}

	uc, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return nil, fmt.Errorf("listen %s %s: not a UDP socket", network, address)
	}
	return uc, nil
}
