// File: remote/stream.go
// Package remote implements reliable-stream sessions.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package remote

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/momentics/hioload-remote/api"
	"github.com/momentics/hioload-remote/protocol"
	"github.com/momentics/hioload-remote/transport"
)

const (
	reconnectBackoffBase = 100 * time.Millisecond
	reconnectBackoffMax  = 2 * time.Second
)

// Dial connects a reliable-stream session to addr. The returned session
// is not started: set the receiver, then call Start (or let the first
// Send/RPCSend start it).
func Dial(addr string, opts ...Option) (*Session, error) {
	o := applyOptions(opts)
	if err := o.validate(); err != nil {
		return nil, err
	}
	conn, err := transport.Dial(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", api.ErrConnectFailed, err)
	}
	s := newStreamSession(conn, o)
	s.dialTarget = addr
	return s, nil
}

func newStreamSession(conn api.Conn, o *Options) *Session {
	s := newSession(o)
	s.conn = conn
	s.remoteAddr = conn.RemoteAddr()
	s.localAddr = conn.LocalAddr()
	s.valid.Store(true)
	s.writePacket = s.writeStream
	s.startRead = func() { go s.readLoopStream(s.currentConn()) }
	return s
}

func (s *Session) writeStream(p []byte) error {
	conn := s.currentConn()
	if conn == nil {
		return api.ErrDisconnected
	}
	return conn.WriteAll(p)
}

// readLoopStream reassembles packets from the byte stream with a sliding
// read buffer, advancing by each header's declared size. The loop exits
// on transport error (routed to the reconnect supervisor or teardown) or
// on a framing violation (fatal for the session).
func (s *Session) readLoopStream(conn api.Conn) {
	if conn == nil {
		return
	}
	buf := make([]byte, 2*s.opts.MaxPacketSize)
	filled := 0
	for {
		n, err := conn.Read(buf[filled:])
		if err != nil {
			if s.isClosed() {
				return
			}
			s.onIOError(err)
			return
		}
		filled += n

		consumed := 0
		for {
			h, body, adv, perr := protocol.NextPacket(buf[consumed:filled], s.opts.MaxPacketSize)
			if perr != nil {
				s.fatalFraming(perr)
				return
			}
			if adv == 0 {
				break
			}
			s.handlePacket(h, body)
			consumed += adv
		}
		if consumed > 0 {
			copy(buf, buf[consumed:filled])
			filled -= consumed
		}
	}
}

// runReconnect is the reconnect supervisor: redial with exponential
// backoff until success or the window elapses. Pending RPC entries are
// left in place; if the peer lost session state they time out naturally.
func (s *Session) runReconnect(cause error) {
	s.events.firePreReconnect()
	s.log.Info("reconnect supervisor engaged", "target", s.dialTarget, "cause", cause)

	deadline := time.Now().Add(s.opts.ReconnectWindow)
	backoff := reconnectBackoffBase
	for {
		conn, err := transport.Dial(s.dialTarget)
		if err == nil {
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				_ = conn.Close()
				return
			}
			s.conn = conn
			s.remoteAddr = conn.RemoteAddr()
			s.localAddr = conn.LocalAddr()
			s.reconnecting = false
			s.mu.Unlock()
			go s.readLoopStream(conn)
			s.events.fireReconnectSuccess()
			s.log.Info("session reconnected", "target", s.dialTarget)
			return
		}
		if time.Now().Add(backoff).After(deadline) {
			s.mu.Lock()
			s.reconnecting = false
			s.mu.Unlock()
			s.log.Warn("reconnect window exhausted", "target", s.dialTarget)
			s.teardown(cause, true)
			return
		}
		select {
		case <-time.After(backoff):
		case <-s.done:
			return
		}
		backoff *= 2
		if backoff > reconnectBackoffMax {
			backoff = reconnectBackoffMax
		}
	}
}

// TCPListener accepts reliable-stream sessions, one per accepted
// connection.
type TCPListener struct {
	ln   net.Listener
	opts *Options
}

// Listen binds a stream listener on addr.
func Listen(addr string, opts ...Option) (*TCPListener, error) {
	o := applyOptions(opts)
	if err := o.validate(); err != nil {
		return nil, err
	}
	lc := transport.ListenConfig()
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, err
	}
	return &TCPListener{ln: ln, opts: o}, nil
}

// Accept waits for one peer and wraps it in a fresh, not-yet-started
// session. Set the receiver before calling Start. Concurrent Accept
// calls are allowed.
func (l *TCPListener) Accept() (*Session, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return newStreamSession(transport.NewNetConn(conn), l.opts.clone()), nil
}

// Close stops accepting. Established sessions are unaffected.
func (l *TCPListener) Close() error { return l.ln.Close() }

// Addr returns the bound listener address.
func (l *TCPListener) Addr() net.Addr { return l.ln.Addr() }
