// File: transport/udpconn.go
// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package transport

import (
	"net"

	"github.com/momentics/hioload-remote/api"
)

// datagramSocketBuffer is the requested kernel buffer size for shared
// datagram sockets. Many virtual sessions funnel through one socket, so
// the default buffers are too small under burst load.
const datagramSocketBuffer = 4 * 1024 * 1024

// UDPConn adapts a *net.UDPConn to the api.PacketConn capability.
type UDPConn struct {
	pc *net.UDPConn
}

var _ api.PacketConn = (*UDPConn)(nil)

// ListenPacket binds a shared datagram socket on addr and applies
// platform socket tuning.
func ListenPacket(addr string) (*UDPConn, error) {
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	pc, err := net.ListenUDP("udp", ua)
	if err != nil {
		return nil, err
	}
	tuneDatagramSocket(pc)
	return &UDPConn{pc: pc}, nil
}

// RecvFrom reads one datagram into a preallocated buffer.
func (u *UDPConn) RecvFrom(p []byte) (int, net.Addr, error) {
	n, addr, err := u.pc.ReadFromUDP(p)
	if addr == nil {
		return n, nil, err
	}
	return n, addr, err
}

// SendTo sends one datagram to addr.
func (u *UDPConn) SendTo(p []byte, addr net.Addr) error {
	_, err := u.pc.WriteTo(p, addr)
	return err
}

// Close shuts the socket down.
func (u *UDPConn) Close() error {
	return u.pc.Close()
}

func (u *UDPConn) LocalAddr() net.Addr { return u.pc.LocalAddr() }

// DialUDP opens a connected datagram socket to addr for a client-side
// session.
func DialUDP(addr string) (*net.UDPConn, error) {
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	uc, err := net.DialUDP("udp", nil, ua)
	if err != nil {
		return nil, err
	}
	tuneDatagramSocket(uc)
	return uc, nil
}
