//go:build linux || darwin || freebsd || netbsd || openbsd

package sockopt

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

// IsSupported is true where socket options are applied.
const IsSupported = true

func (o Options) control(network, _ string, c syscall.RawConn) error {
	var ctrlErr error
	err := c.Control(func(fd uintptr) {
		if o.ReuseAddr {
			if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
				ctrlErr = err
				return
			}
		}
		if o.TOS != 0 {
			ctrlErr = setTOS(int(fd), network, o.TOS)
		}
	})
	if err != nil {
		return err
	}
	return ctrlErr
}

func setTOS(fd int, network string, tos int) error {
	var err error
	if network == "udp6" || network == "tcp6" {
		err = unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)
	} else {
		err = unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TOS, tos)
	}
	// Some kernels refuse the option on some socket types.
	if errors.Is(err, unix.ENOPROTOOPT) {
		return nil
	}
	return err
}
