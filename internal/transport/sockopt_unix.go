//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// controlReuseAddrPort is the net.ListenConfig.Control callback used on
// unix-like platforms: it sets SO_REUSEADDR unconditionally and attempts
// SO_REUSEPORT, ignoring failure since not every unix kernel in this build
// set actually implements it (e.g. older Darwin).
func controlReuseAddrPort(_, _ string, c syscall.RawConn) error {
	var setErr error
	err := c.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			setErr = err
			return
		}
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return setErr
}
