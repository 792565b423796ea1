package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
)

var ErrNoAddress = errors.New("no address found")

// Resolve returns a socket address for host and port. Literal IPs are returned
// as is; names are looked up and the first address of the preferred family
// wins, falling back to the other family.
func Resolve(ctx context.Context, r *net.Resolver, host string, port uint16, ipv6First bool) (netip.AddrPort, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		return netip.AddrPortFrom(ip.Unmap(), port), nil
	}

	if r == nil {
		r = net.DefaultResolver
	}
	ips, err := r.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("resolve %s: %w", host, err)
	}

	ip, ok := pick(ips, ipv6First)
	if !ok {
		return netip.AddrPort{}, fmt.Errorf("resolve %s: %w", host, ErrNoAddress)
	}
	return netip.AddrPortFrom(ip, port), nil
}

func pick(ips []netip.Addr, ipv6First bool) (netip.Addr, bool) {
	var fallback netip.Addr
	for _, ip := range ips {
		ip = ip.Unmap()
		if ip.Is6() == ipv6First {
			return ip, true
		}
		if !fallback.IsValid() {
			fallback = ip
		}
	}
	return fallback, fallback.IsValid()
}
