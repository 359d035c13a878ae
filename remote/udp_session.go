// File: remote/udp_session.go
// Package remote implements the client side of datagram sessions.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package remote

import (
	"fmt"
	"net"
	"time"

	"github.com/momentics/hioload-remote/api"
	"github.com/momentics/hioload-remote/protocol"
	"github.com/momentics/hioload-remote/transport"
)

// DialUDP establishes a connection-emulated datagram session with the
// listener at addr: the handshake SYN is retransmitted until the ack
// arrives or the accept deadline elapses. The returned session is not
// started; set the receiver, then Start.
func DialUDP(addr string, opts ...Option) (*Session, error) {
	o := applyOptions(opts)
	if err := o.validate(); err != nil {
		return nil, err
	}
	uc, err := transport.DialUDP(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", api.ErrConnectFailed, err)
	}
	if err := udpHandshake(uc, o); err != nil {
		_ = uc.Close()
		return nil, err
	}

	s := newSession(o)
	s.remoteAddr = uc.RemoteAddr()
	s.localAddr = uc.LocalAddr()
	s.valid.Store(true)
	s.writePacket = func(p []byte) error {
		_, werr := uc.Write(p)
		return werr
	}
	s.closeConn = uc.Close
	s.startRead = func() { go s.readLoopDatagram(uc) }
	return s, nil
}

// udpHandshake runs the client half of the SYN/ACK/confirm exchange.
func udpHandshake(uc *net.UDPConn, o *Options) error {
	syn := handshakePacket(protocol.HandshakeSyn)
	buf := make([]byte, o.MaxPacketSize)
	deadline := time.Now().Add(protocol.UDPAcceptTimeout)

	for time.Now().Before(deadline) {
		if _, err := uc.Write(syn); err != nil {
			return fmt.Errorf("%w: %v", api.ErrConnectFailed, err)
		}
		_ = uc.SetReadDeadline(time.Now().Add(protocol.UDPSynRetransmit))
		n, err := uc.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return fmt.Errorf("%w: %v", api.ErrConnectFailed, err)
		}
		h, _, perr := protocol.ParseDatagram(buf[:n], o.MaxPacketSize)
		if perr != nil {
			continue
		}
		if h.MessageID == protocol.UDPConnectMessageID && h.RPCID == protocol.HandshakeAck {
			if _, err := uc.Write(handshakePacket(protocol.HandshakeConfirm)); err != nil {
				return fmt.Errorf("%w: %v", api.ErrConnectFailed, err)
			}
			_ = uc.SetReadDeadline(time.Time{})
			return nil
		}
	}
	return fmt.Errorf("%w: handshake timeout", api.ErrConnectFailed)
}

// readLoopDatagram receives one packet per datagram. Malformed datagrams
// are dropped; duplicate handshake acks are ignored.
func (s *Session) readLoopDatagram(uc *net.UDPConn) {
	buf := s.pool.Acquire()
	defer s.pool.Release(buf)
	for {
		n, err := uc.Read(buf)
		if err != nil {
			if s.isClosed() {
				return
			}
			s.onIOError(err)
			return
		}
		h, body, perr := protocol.ParseDatagram(buf[:n], s.opts.MaxPacketSize)
		if perr != nil {
			s.log.Debug("datagram dropped", "err", perr)
			continue
		}
		if h.MessageID == protocol.UDPConnectMessageID {
			continue
		}
		s.handlePacket(h, body)
	}
}
