//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package transport

import "syscall"

// controlReuseAddrPort is a no-op on platforms without SO_REUSEPORT
// (e.g. Windows); Go's listener already does the platform-appropriate
// SO_REUSEADDR-equivalent setup for those.
func controlReuseAddrPort(_, _ string, _ syscall.RawConn) error {
	return nil
}
