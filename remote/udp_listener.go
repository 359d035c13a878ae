// File: remote/udp_listener.go
// Package remote implements the datagram session emulator.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// One shared datagram socket carries many virtual sessions, demultiplexed
// by peer address. A datagram carrying the reserved handshake message id
// opens a three-step exchange (SYN, ACK, confirm) reusing the header's
// rpc id sign convention. Entries in the connecting table are removed
// when the accept completes — success, failure, or timeout.

package remote

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-remote/api"
	"github.com/momentics/hioload-remote/protocol"
	"github.com/momentics/hioload-remote/transport"
)

// pendingAccept tracks one in-progress handshake. Follow-up datagrams
// from the same peer are joined to it through inbox instead of spawning
// another session.
type pendingAccept struct {
	sess  *Session
	inbox chan []byte
}

// UDPListener demultiplexes virtual sessions on a single shared socket.
type UDPListener struct {
	pc   api.PacketConn
	opts *Options
	log  *slog.Logger

	mu         sync.Mutex
	connecting map[string]*pendingAccept
	sessions   map[string]*Session
	backlog    *queue.Queue  // accepted sessions with no waiter
	waiter     chan *Session // at most one pending Accept
	closed     bool

	done chan struct{}
}

// ListenUDP binds the shared datagram socket on addr and starts the
// demultiplexing read loop.
func ListenUDP(addr string, opts ...Option) (*UDPListener, error) {
	o := applyOptions(opts)
	if err := o.validate(); err != nil {
		return nil, err
	}
	pc, err := transport.ListenPacket(addr)
	if err != nil {
		return nil, err
	}
	l := &UDPListener{
		pc:         pc,
		opts:       o,
		log:        o.Logger.With("listener", pc.LocalAddr().String()),
		connecting: make(map[string]*pendingAccept),
		sessions:   make(map[string]*Session),
		backlog:    queue.New(),
		done:       make(chan struct{}),
	}
	go l.readLoop()
	return l, nil
}

// Accept returns the next established virtual session, from the backlog
// or by waiting. At most one waiter may exist; a concurrent second
// Accept fails with api.ErrAcceptInProgress.
func (l *UDPListener) Accept(ctx context.Context) (*Session, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, api.ErrListenerClosed
	}
	if l.backlog.Length() > 0 {
		s := l.backlog.Remove().(*Session)
		l.mu.Unlock()
		return s, nil
	}
	if l.waiter != nil {
		l.mu.Unlock()
		return nil, api.ErrAcceptInProgress
	}
	w := make(chan *Session, 1)
	l.waiter = w
	l.mu.Unlock()

	select {
	case s := <-w:
		return s, nil
	case <-ctx.Done():
		l.mu.Lock()
		if l.waiter == w {
			l.waiter = nil
			l.mu.Unlock()
		} else {
			// deliver already handed a session into w; keep it.
			l.mu.Unlock()
			s := <-w
			l.mu.Lock()
			l.backlog.Add(s)
			l.mu.Unlock()
		}
		return nil, ctx.Err()
	case <-l.done:
		return nil, api.ErrListenerClosed
	}
}

// AcceptWith accepts the next session with its receiver pre-installed:
// the receiver is set before the session starts, for both the backlog
// and the waiter path, so no message is dispatched receiverless.
func (l *UDPListener) AcceptWith(ctx context.Context, r api.Receiver) (*Session, error) {
	s, err := l.Accept(ctx)
	if err != nil {
		return nil, err
	}
	s.SetReceiver(r)
	s.Start()
	return s, nil
}

// Close shuts the shared socket down and disconnects every virtual
// session.
func (l *UDPListener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	sessions := make([]*Session, 0, len(l.sessions))
	for _, s := range l.sessions {
		sessions = append(sessions, s)
	}
	l.mu.Unlock()

	close(l.done)
	err := l.pc.Close()
	for _, s := range sessions {
		_ = s.Disconnect()
	}
	return err
}

// Addr returns the bound socket address.
func (l *UDPListener) Addr() net.Addr { return l.pc.LocalAddr() }

func (l *UDPListener) readLoop() {
	buf := l.opts.Pool.Acquire()
	defer l.opts.Pool.Release(buf)
	for {
		n, addr, err := l.pc.RecvFrom(buf)
		if err != nil {
			select {
			case <-l.done:
			default:
				l.log.Warn("datagram socket read failed", "err", err)
			}
			return
		}
		l.route(buf[:n], addr)
	}
}

// route hands one received datagram to its virtual session, joins it to
// an in-progress accept, or opens a new handshake. Datagrams from
// unknown peers are dropped.
func (l *UDPListener) route(pkt []byte, addr net.Addr) {
	h, body, err := protocol.ParseDatagram(pkt, l.opts.MaxPacketSize)
	if err != nil {
		l.log.Debug("malformed datagram dropped", "addr", addr.String(), "err", err)
		return
	}
	key := addr.String()

	l.mu.Lock()
	if s, ok := l.sessions[key]; ok {
		l.mu.Unlock()
		if h.MessageID == protocol.UDPConnectMessageID {
			// Peer missed the ack or confirm; answer SYNs again.
			if h.RPCID == protocol.HandshakeSyn {
				_ = l.sendHandshake(addr, protocol.HandshakeAck)
			}
			return
		}
		s.handlePacket(h, body)
		return
	}
	if p, ok := l.connecting[key]; ok {
		l.mu.Unlock()
		joined := make([]byte, len(pkt))
		copy(joined, pkt)
		select {
		case p.inbox <- joined:
		default:
		}
		return
	}
	if l.closed || h.MessageID != protocol.UDPConnectMessageID || h.RPCID != protocol.HandshakeSyn {
		l.mu.Unlock()
		l.log.Debug("datagram from unknown peer dropped", "addr", key)
		return
	}
	p := &pendingAccept{
		sess:  l.newVirtualSession(addr),
		inbox: make(chan []byte, 4),
	}
	l.connecting[key] = p
	l.mu.Unlock()
	go l.runAccept(p, addr, key)
}

// runAccept drives one handshake to completion within the accept
// deadline: ack the SYN, then wait for the peer's confirm (or its first
// data datagram, which doubles as one when the confirm is lost).
func (l *UDPListener) runAccept(p *pendingAccept, addr net.Addr, key string) {
	established := false
	var firstData []byte

	if err := l.sendHandshake(addr, protocol.HandshakeAck); err != nil {
		l.log.Warn("handshake ack failed", "addr", key, "err", err)
	} else {
		deadline := time.NewTimer(protocol.UDPAcceptTimeout)
		defer deadline.Stop()
	wait:
		for {
			select {
			case raw := <-p.inbox:
				h, _, err := protocol.ParseDatagram(raw, l.opts.MaxPacketSize)
				if err != nil {
					continue
				}
				if h.MessageID == protocol.UDPConnectMessageID {
					if h.RPCID == protocol.HandshakeSyn {
						// Duplicate SYN joined to this accept.
						_ = l.sendHandshake(addr, protocol.HandshakeAck)
						continue
					}
					established = true
					break wait
				}
				firstData = raw
				established = true
				break wait
			case <-deadline.C:
				l.log.Debug("handshake timed out", "addr", key)
				break wait
			case <-l.done:
				break wait
			}
		}
	}

	l.mu.Lock()
	delete(l.connecting, key)
	if established && !l.closed {
		l.sessions[key] = p.sess
	} else {
		established = false
	}
	l.mu.Unlock()

	if !established {
		_ = p.sess.Disconnect()
		return
	}
	l.deliver(p.sess)
	if firstData != nil {
		if h, body, err := protocol.ParseDatagram(firstData, l.opts.MaxPacketSize); err == nil {
			p.sess.handlePacket(h, body)
		}
	}
}

// deliver hands an established session to the waiter, or parks it in the
// backlog. The send happens under the lock; the waiter channel has
// capacity one, so it never blocks.
func (l *UDPListener) deliver(s *Session) {
	l.mu.Lock()
	if l.waiter != nil {
		w := l.waiter
		l.waiter = nil
		w <- s
		l.mu.Unlock()
		return
	}
	l.backlog.Add(s)
	l.mu.Unlock()
}

func (l *UDPListener) newVirtualSession(addr net.Addr) *Session {
	o := l.opts.clone()
	s := newSession(o)
	s.remoteAddr = addr
	s.localAddr = l.pc.LocalAddr()
	s.valid.Store(true)
	s.writePacket = func(p []byte) error { return l.pc.SendTo(p, addr) }
	key := addr.String()
	s.onTeardown = func() { l.dropSession(key) }
	return s
}

func (l *UDPListener) dropSession(key string) {
	l.mu.Lock()
	delete(l.sessions, key)
	l.mu.Unlock()
}

func (l *UDPListener) sendHandshake(addr net.Addr, rpcID int16) error {
	return l.pc.SendTo(handshakePacket(rpcID), addr)
}

// handshakePacket builds a header-only packet carrying the reserved
// handshake message id.
func handshakePacket(rpcID int16) []byte {
	b := make([]byte, protocol.HeaderSize)
	protocol.PutHeader(b, protocol.Header{
		Size:      protocol.HeaderSize,
		MessageID: protocol.UDPConnectMessageID,
		RPCID:     rpcID,
	})
	return b
}
