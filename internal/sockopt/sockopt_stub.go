//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package sockopt

import (
	"syscall"
)

const IsSupported = false

func (Options) control(string, string, syscall.RawConn) error {
	return nil
}
