// File: transport/sockopt_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

//go:build linux

package transport

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// tuneDatagramSocket enlarges the kernel send/receive buffers on a
// datagram socket. Errors are ignored: the socket works either way, just
// with less burst headroom.
func tuneDatagramSocket(uc *net.UDPConn) {
	raw, err := uc.SyscallConn()
	if err != nil {
		return
	}
	_ = raw.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, datagramSocketBuffer)
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, datagramSocketBuffer)
	})
}

// ListenConfig returns a stream listener config with SO_REUSEADDR set so
// restarted listeners rebind without waiting out TIME_WAIT.
func ListenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var opErr error
			err := c.Control(func(fd uintptr) {
				opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return opErr
		},
	}
}
