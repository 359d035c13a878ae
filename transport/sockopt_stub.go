// File: transport/sockopt_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

//go:build !linux

package transport

import "net"

func tuneDatagramSocket(_ *net.UDPConn) {}

// ListenConfig returns the default stream listener config on platforms
// without socket option tuning.
func ListenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
