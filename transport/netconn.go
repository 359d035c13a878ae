// File: transport/netconn.go
// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package transport

import (
	"net"
	"time"

	"github.com/momentics/hioload-remote/api"
)

// DialTimeout bounds stream connection attempts.
const DialTimeout = 5 * time.Second

// NetConn adapts a net.Conn to the api.Conn capability.
type NetConn struct {
	conn net.Conn
}

var _ api.Conn = (*NetConn)(nil)

// NewNetConn wraps an established connection.
func NewNetConn(conn net.Conn) *NetConn {
	return &NetConn{conn: conn}
}

// Read fills a preallocated buffer.
func (n *NetConn) Read(p []byte) (int, error) {
	return n.conn.Read(p)
}

// WriteAll writes the whole slice, looping over short writes.
func (n *NetConn) WriteAll(p []byte) error {
	for len(p) > 0 {
		w, err := n.conn.Write(p)
		if err != nil {
			return err
		}
		p = p[w:]
	}
	return nil
}

// Close shuts down the connection.
func (n *NetConn) Close() error {
	return n.conn.Close()
}

func (n *NetConn) LocalAddr() net.Addr  { return n.conn.LocalAddr() }
func (n *NetConn) RemoteAddr() net.Addr { return n.conn.RemoteAddr() }

// Dial connects a stream transport to addr.
func Dial(addr string) (*NetConn, error) {
	conn, err := net.DialTimeout("tcp", addr, DialTimeout)
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return NewNetConn(conn), nil
}
