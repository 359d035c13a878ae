// File: remote/transducer.go
// Package remote implements the thread transducer.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The transducer is the single bridge between I/O goroutines and the
// application's tick context. Enqueue runs on reader goroutines and is
// non-blocking: the lock-free ring takes the fast path, and a mutex-
// guarded overflow FIFO absorbs bursts so no message is ever dropped.
// Drain runs on the application context and dispatches in enqueue order
// per session.

package remote

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-remote/core/concurrency"
)

const defaultTransducerCapacity = 8192

type inboundItem struct {
	sess  *Session
	rpcID int16
	msg   any
}

// Transducer hands decoded messages from I/O goroutines to the
// application context's drain tick.
type Transducer struct {
	ring *concurrency.LockFreeQueue[inboundItem]

	// spilled routes producers to the overflow queue until a drain
	// empties it. A session's reader is a single goroutine, so routing
	// every post-spill item through the overflow preserves per-session
	// FIFO across the ring/overflow boundary.
	spilled  atomic.Bool
	mu       sync.Mutex // guards overflow and the spilled transition
	overflow *queue.Queue

	log *slog.Logger
}

// NewTransducer builds a transducer with the given ring capacity.
// Zero or negative capacity selects the default.
func NewTransducer(capacity int) *Transducer {
	if capacity <= 0 {
		capacity = defaultTransducerCapacity
	}
	return &Transducer{
		ring:     concurrency.NewLockFreeQueue[inboundItem](capacity),
		overflow: queue.New(),
		log:      slog.Default(),
	}
}

// enqueue adds one decoded message. Never blocks, never drops.
func (t *Transducer) enqueue(it inboundItem) {
	if !t.spilled.Load() && t.ring.Enqueue(it) {
		return
	}
	t.mu.Lock()
	t.spilled.Store(true)
	t.overflow.Add(it)
	t.mu.Unlock()
}

// Drain dequeues up to max items (max <= 0 drains everything queued) and
// dispatches each through its session's receive path. Call it from the
// application context's tick; handlers run on the caller's goroutine.
func (t *Transducer) Drain(max int) int {
	n := 0
	for max <= 0 || n < max {
		it, ok := t.ring.Dequeue()
		if !ok {
			break
		}
		t.dispatch(it)
		n++
	}
	for max <= 0 || n < max {
		t.mu.Lock()
		if t.overflow.Length() == 0 {
			t.spilled.Store(false)
			t.mu.Unlock()
			break
		}
		it := t.overflow.Remove().(inboundItem)
		t.mu.Unlock()
		t.dispatch(it)
		n++
	}
	return n
}

func (t *Transducer) dispatch(it inboundItem) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("receiver panic recovered",
				"session", it.sess.ID(), "panic", r)
		}
	}()
	it.sess.dispatch(it.rpcID, it.msg)
}

// defaultTransducer is the process-wide instance used when no dedicated
// transducer is configured.
var defaultTransducer = NewTransducer(defaultTransducerCapacity)

// Drain services the process-wide transducer. See Transducer.Drain.
func Drain(max int) int { return defaultTransducer.Drain(max) }
