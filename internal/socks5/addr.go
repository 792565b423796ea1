package socks5

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"

	txsocks5 "github.com/txthinking/socks5"
)

const (
	Ver = txsocks5.Ver

	CmdConnect = txsocks5.CmdConnect
	CmdBind    = txsocks5.CmdBind
	CmdUDP     = txsocks5.CmdUDP

	ATYPIPv4   = txsocks5.ATYPIPv4
	ATYPDomain = txsocks5.ATYPDomain
	ATYPIPv6   = txsocks5.ATYPIPv6
)

var (
	// ErrShortAddr means more bytes are needed to complete the address.
	ErrShortAddr = errors.New("short address")

	ErrAddrType = errors.New("unknown address type")
)

// Addr is a SOCKS5 address in wire form: ATYP | ADDR | PORT.
type Addr []byte

// ParseAddr returns the address at the start of b. The result aliases b.
func ParseAddr(b []byte) (Addr, error) {
	if len(b) < 1 {
		return nil, ErrShortAddr
	}

	var n int
	switch b[0] {
	case ATYPIPv4:
		n = 1 + net.IPv4len + 2
	case ATYPIPv6:
		n = 1 + net.IPv6len + 2
	case ATYPDomain:
		if len(b) < 2 {
			return nil, ErrShortAddr
		}
		n = 1 + 1 + int(b[1]) + 2
	default:
		return nil, fmt.Errorf("%w: %d", ErrAddrType, b[0])
	}

	if len(b) < n {
		return nil, ErrShortAddr
	}
	return Addr(b[:n:n]), nil
}

// AddrFromString encodes a host:port string.
func AddrFromString(s string) (Addr, error) {
	atyp, host, port, err := txsocks5.ParseAddress(s)
	if err != nil {
		return nil, fmt.Errorf("parse address %q: %w", s, err)
	}
	a := make(Addr, 0, 1+len(host)+len(port))
	a = append(a, atyp)
	a = append(a, host...)
	a = append(a, port...)
	return a, nil
}

func (a Addr) Type() byte { return a[0] }

// Host returns the raw IP bytes, or the name without its length prefix.
func (a Addr) Host() []byte {
	if a.Type() == ATYPDomain {
		return a[2 : len(a)-2]
	}
	return a[1 : len(a)-2]
}

// PortBytes returns the big-endian port.
func (a Addr) PortBytes() []byte { return a[len(a)-2:] }

func (a Addr) Port() uint16 { return binary.BigEndian.Uint16(a.PortBytes()) }

func (a Addr) String() string {
	var host string
	if a.Type() == ATYPDomain {
		host = string(a.Host())
	} else {
		host = net.IP(a.Host()).String()
	}
	return net.JoinHostPort(host, strconv.Itoa(int(a.Port())))
}
