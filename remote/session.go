// File: remote/session.go
// Package remote implements the per-peer session core.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A Session owns its socket exclusively; the socket's lifetime equals
// the session's. The send path serializes synchronously on the caller's
// goroutine into pooled buffers and offloads the socket write to a
// dedicated writer, so write order is FIFO per session. The receive
// path decodes on the reader goroutine and crosses to the application
// context through the transducer, except RPC responses, which complete
// their pending entry directly.

package remote

import (
	"fmt"
	"log/slog"
	"net"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-remote/api"
	"github.com/momentics/hioload-remote/pool"
	"github.com/momentics/hioload-remote/protocol"
)

// sessionIDCounter is the process-wide monotonic identity source.
var sessionIDCounter atomic.Uint32

// Session is a logical bidirectional message channel with one peer.
type Session struct {
	id   uint32
	opts *Options
	log  *slog.Logger

	mu           sync.Mutex
	conn         api.Conn // stream transport; nil for datagram sessions
	token        any
	receiver     api.Receiver
	closed       bool
	reconnecting bool

	valid    atomic.Bool
	lastRecv atomic.Int64 // unix nanos of the last parsed inbound packet
	started  atomic.Bool

	rpc   *rpcPool
	trans *Transducer
	pool  *pool.BufPool
	lut   *protocol.LUT

	sendCh chan []byte // framed packets owned by the pool
	done   chan struct{}

	events eventHub

	// Transport specialization hooks.
	writePacket func(p []byte) error
	startRead   func()       // spawns the reader; nil for virtual sessions
	closeConn   func() error // extra close hook for non-stream transports
	onTeardown  func()       // listener unhook for virtual sessions

	remoteAddr net.Addr
	localAddr  net.Addr

	// dialTarget is set for dialed stream sessions; the reconnect
	// supervisor redials it.
	dialTarget string
}

var _ api.Session = (*Session)(nil)

func newSession(o *Options) *Session {
	s := &Session{
		id:     sessionIDCounter.Add(1),
		opts:   o,
		log:    o.Logger,
		token:  o.Token,
		rpc:    newRPCPool(o.RPCTimeout),
		trans:  o.Transducer,
		pool:   o.Pool,
		lut:    o.LUT,
		sendCh: make(chan []byte, o.SendQueueCap),
		done:   make(chan struct{}),
	}
	s.log = s.log.With("session", s.id)
	return s
}

// ID returns the process-unique session identity.
func (s *Session) ID() uint32 { return s.id }

// Token returns the user-assigned token.
func (s *Session) Token() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// SetToken assigns the user token.
func (s *Session) SetToken(token any) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Valid reports whether the session is between connect/accept and
// disconnect.
func (s *Session) Valid() bool { return s.valid.Load() }

// LastRecvTime returns the time of the last parsed inbound packet. It is
// stamped before decoding, so a packet that then fails to decode still
// updates it.
func (s *Session) LastRecvTime() time.Time {
	return time.Unix(0, s.lastRecv.Load())
}

// PendingRPCs returns the number of in-flight RPC entries.
func (s *Session) PendingRPCs() int { return s.rpc.pending() }

func (s *Session) RemoteAddr() net.Addr { return s.remoteAddr }
func (s *Session) LocalAddr() net.Addr  { return s.localAddr }

// SetReceiver installs the application handler. Set it before Start so
// no message is dispatched without a receiver.
func (s *Session) SetReceiver(r api.Receiver) {
	s.mu.Lock()
	s.receiver = r
	s.mu.Unlock()
}

// OnDisconnect registers a sink for unsolicited disconnects. A
// user-initiated Disconnect does not fire it.
func (s *Session) OnDisconnect(f func(error)) { s.events.addDisconnect(f) }

// OnPreReconnect registers a sink fired before reconnect attempts begin.
func (s *Session) OnPreReconnect(f func()) { s.events.addPreReconnect(f) }

// OnReconnectSuccess registers a sink fired after a successful reconnect.
func (s *Session) OnReconnectSuccess(f func()) { s.events.addReconnectSuccess(f) }

// Start launches the session's writer, sweeper, and reader. Idempotent;
// Send and RPCSend call it implicitly.
func (s *Session) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go s.writeLoop()
	go s.sweepLoop()
	if s.startRead != nil {
		s.startRead()
	}
}

// Send ships one typed message to the peer. Serialization completes
// before Send returns, so the caller may mutate msg afterwards; the
// socket write is offloaded to the session writer.
func (s *Session) Send(msg any) error {
	return s.sendPacket(msg, 0)
}

// RPCSend registers an RPC entry, ships msg with the assigned
// correlation id, and returns the awaitable. resultProto is a value of
// the expected result type (nil accepts any); a reply of a different
// runtime type resolves the future with api.ErrTypeMismatch. A
// synchronous send failure resolves the returned future immediately.
func (s *Session) RPCSend(msg any, resultProto any) *Future {
	if !s.valid.Load() {
		return failedFuture(api.ErrDisconnected)
	}
	s.Start()
	id, fut, err := s.rpc.register(reflect.TypeOf(resultProto))
	if err != nil {
		return failedFuture(err)
	}
	if err := s.sendPacket(msg, id); err != nil {
		s.rpc.tryFail(id, err)
	}
	return fut
}

// LazyRPCSend is the cancellable-without-exception RPC form: onResult
// runs only when a matching reply arrives; on any failure (synchronous
// send error, timeout, disconnect, type mismatch) onResult never runs
// and onErr is invoked instead. Both callbacks run on whichever
// goroutine completes the entry.
func (s *Session) LazyRPCSend(msg any, resultProto any, onResult func(any), onErr func(error)) {
	if !s.valid.Load() {
		if onErr != nil {
			onErr(api.ErrDisconnected)
		}
		return
	}
	s.Start()
	id, err := s.rpc.registerLazy(reflect.TypeOf(resultProto), onResult, onErr)
	if err != nil {
		if onErr != nil {
			onErr(err)
		}
		return
	}
	if err := s.sendPacket(msg, id); err != nil {
		s.rpc.tryFail(id, err)
	}
}

// sendPacket serializes and frames msg with the given rpc id, then hands
// the framed packet to the writer.
func (s *Session) sendPacket(msg any, rpcID int16) error {
	if !s.valid.Load() {
		return api.ErrDisconnected
	}
	s.Start()
	frame, err := s.encodeFrame(msg, rpcID)
	if err != nil {
		return err
	}
	select {
	case s.sendCh <- frame:
		return nil
	case <-s.done:
		s.pool.Release(frame)
		return api.ErrDisconnected
	}
}

// encodeFrame serializes msg into a scratch buffer and frames it into a
// second pooled buffer. The scratch buffer is released on every exit
// path, including an encoder panic.
func (s *Session) encodeFrame(msg any, rpcID int16) (frame []byte, err error) {
	scratch := s.pool.Acquire()
	defer s.pool.Release(scratch)

	id, n, err := s.lut.EncodeByType(msg, scratch)
	if err != nil {
		return nil, err
	}
	if protocol.HeaderSize+n > s.opts.MaxPacketSize {
		return nil, fmt.Errorf("%w: %d-byte payload exceeds packet cap %d",
			api.ErrFraming, n, s.opts.MaxPacketSize)
	}
	out := s.pool.Acquire()
	total, err := protocol.Frame(out, id, rpcID, scratch[:n])
	if err != nil {
		s.pool.Release(out)
		return nil, err
	}
	return out[:total], nil
}

// writeLoop drains the send queue in FIFO order onto the transport.
func (s *Session) writeLoop() {
	for {
		select {
		case p := <-s.sendCh:
			err := s.writePacket(p)
			s.pool.Release(p)
			if err != nil {
				s.onIOError(err)
			}
		case <-s.done:
			for {
				select {
				case p := <-s.sendCh:
					s.pool.Release(p)
				default:
					return
				}
			}
		}
	}
}

// sweepLoop drives RPC timeout expiry.
func (s *Session) sweepLoop() {
	interval := s.opts.RPCTimeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	if interval > time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case now := <-t.C:
			if n := s.rpc.sweep(now); n > 0 {
				s.log.Debug("rpc entries timed out", "count", n)
			}
		case <-s.done:
			return
		}
	}
}

// handlePacket runs the shared receive path for one complete packet:
// update lastRecvTime, decode, then either complete a pending RPC entry
// or enqueue for application-context dispatch. The decoded value owns no
// reference to body.
func (s *Session) handlePacket(h protocol.Header, body []byte) {
	s.lastRecv.Store(time.Now().UnixNano())
	msg, err := s.lut.Decode(h.MessageID, body)
	if err != nil {
		s.log.Warn("inbound frame dropped", "messageID", h.MessageID, "err", err)
		return
	}
	if h.RPCID < 0 {
		if !s.rpc.tryComplete(-h.RPCID, msg) {
			s.log.Debug("late rpc response discarded", "rpcID", -h.RPCID)
		}
		return
	}
	s.trans.enqueue(inboundItem{sess: s, rpcID: h.RPCID, msg: msg})
}

// dispatch runs on the application context via the transducer.
func (s *Session) dispatch(rpcID int16, msg any) {
	s.mu.Lock()
	r := s.receiver
	s.mu.Unlock()
	if r == nil {
		s.log.Warn("message dropped: no receiver", "messageType", fmt.Sprintf("%T", msg))
		return
	}
	reply, err := r.DealMessage(s, msg)
	if err != nil {
		s.log.Warn("receiver error", "err", err)
	}
	if rpcID > 0 && reply != nil {
		if err := s.sendPacket(reply, -rpcID); err != nil {
			s.log.Warn("rpc reply send failed", "rpcID", rpcID, "err", err)
		}
	}
}

// Disconnect closes the session on the user's initiative: pending RPC
// entries fail with api.ErrDisconnected and the onDisconnect event does
// NOT fire.
func (s *Session) Disconnect() error {
	s.teardown(nil, false)
	return nil
}

// teardown is the single shutdown path. fireEvent distinguishes
// transport-initiated failures from user-initiated disconnects.
func (s *Session) teardown(reason error, fireEvent bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	cc := s.closeConn
	s.mu.Unlock()

	s.valid.Store(false)
	close(s.done)
	if conn != nil {
		_ = conn.Close()
	}
	if cc != nil {
		_ = cc()
	}
	s.rpc.failAll(api.ErrDisconnected)
	if s.onTeardown != nil {
		s.onTeardown()
	}
	if fireEvent {
		s.events.fireDisconnect(reason)
	}
}

// onIOError routes transport failures: to the reconnect supervisor when
// enabled on a dialed stream session, otherwise to teardown with the
// onDisconnect event.
func (s *Session) onIOError(err error) {
	s.mu.Lock()
	if s.closed || s.reconnecting {
		s.mu.Unlock()
		return
	}
	if s.opts.Reconnect && s.dialTarget != "" {
		s.reconnecting = true
		old := s.conn
		s.mu.Unlock()
		if old != nil {
			_ = old.Close()
		}
		go s.runReconnect(err)
		return
	}
	s.mu.Unlock()
	s.teardown(err, true)
}

// fatalFraming handles a stream framing violation: the byte stream is
// unrecoverable, so the session closes with the onDisconnect event and
// no reconnect attempt.
func (s *Session) fatalFraming(err error) {
	s.log.Warn("stream framing error, closing session", "err", err)
	s.teardown(err, true)
}

func (s *Session) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// currentConn returns the live stream transport.
func (s *Session) currentConn() api.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}
