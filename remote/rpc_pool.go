// File: remote/rpc_pool.go
// Package remote implements the per-session RPC callback pool.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The pool owns the correlation id space [1, 32767]. An entry owns its
// id from registration until completion and fires its continuation at
// most once: removal under the lock is the gate, firing happens outside
// it. Ids are allocated monotonically modulo MaxRPCID, skipping ids
// still in flight.

package remote

import (
	"reflect"
	"sync"
	"time"

	"github.com/momentics/hioload-remote/api"
	"github.com/momentics/hioload-remote/protocol"
)

type rpcEntry struct {
	id     int16
	start  time.Time
	expect reflect.Type // nil accepts any result type

	// Exactly one delivery form is set: fut for RPCSend, the callback
	// pair for LazyRPCSend. In the lazy form onResult never runs on
	// failure; onErr is invoked instead.
	fut      *Future
	onResult func(any)
	onErr    func(error)
}

func (e *rpcEntry) fire(v any, err error) {
	if e.fut != nil {
		e.fut.complete(v, err)
		return
	}
	if err != nil {
		if e.onErr != nil {
			e.onErr(err)
		}
		return
	}
	if e.onResult != nil {
		e.onResult(v)
	}
}

type rpcPool struct {
	mu      sync.Mutex
	entries map[int16]*rpcEntry
	nextID  int16
	timeout time.Duration
}

func newRPCPool(timeout time.Duration) *rpcPool {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &rpcPool{
		entries: make(map[int16]*rpcEntry),
		timeout: timeout,
	}
}

// allocID picks the next free correlation id. Caller holds p.mu.
func (p *rpcPool) allocID() (int16, error) {
	if len(p.entries) >= protocol.MaxRPCID {
		return 0, api.ErrRPCPoolExhausted
	}
	for {
		if p.nextID >= protocol.MaxRPCID {
			p.nextID = 1
		} else {
			p.nextID++
		}
		if _, live := p.entries[p.nextID]; !live {
			return p.nextID, nil
		}
	}
}

// register allocates an id and returns the awaitable handle.
func (p *rpcPool) register(expect reflect.Type) (int16, *Future, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, err := p.allocID()
	if err != nil {
		return 0, nil, err
	}
	e := &rpcEntry{id: id, start: time.Now(), expect: expect, fut: newFuture()}
	p.entries[id] = e
	return id, e.fut, nil
}

// registerLazy allocates an id in the cancellable-without-exception
// form: on failure the downstream continuation never runs.
func (p *rpcPool) registerLazy(expect reflect.Type, onResult func(any), onErr func(error)) (int16, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, err := p.allocID()
	if err != nil {
		return 0, err
	}
	p.entries[id] = &rpcEntry{
		id:       id,
		start:    time.Now(),
		expect:   expect,
		onResult: onResult,
		onErr:    onErr,
	}
	return id, nil
}

// take atomically removes and returns the entry for id, or nil.
func (p *rpcPool) take(id int16) *rpcEntry {
	p.mu.Lock()
	e := p.entries[id]
	if e != nil {
		delete(p.entries, id)
	}
	p.mu.Unlock()
	return e
}

// tryComplete removes and fires the entry for id with the decoded
// message. A result whose runtime type is not assignable to the expected
// type completes the entry with a type mismatch. Returns false when no
// entry matches: a late or duplicate response, discarded by the caller.
func (p *rpcPool) tryComplete(id int16, msg any) bool {
	e := p.take(id)
	if e == nil {
		return false
	}
	if e.expect != nil {
		t := reflect.TypeOf(msg)
		if t == nil || !t.AssignableTo(e.expect) {
			e.fire(nil, api.ErrTypeMismatch)
			return true
		}
	}
	e.fire(msg, nil)
	return true
}

// tryFail removes and fires the entry for id with err.
func (p *rpcPool) tryFail(id int16, err error) bool {
	e := p.take(id)
	if e == nil {
		return false
	}
	e.fire(nil, err)
	return true
}

// sweep expires entries older than the pool timeout, firing each with
// api.ErrTimeout. Returns the number of expired entries.
func (p *rpcPool) sweep(now time.Time) int {
	var expired []*rpcEntry
	p.mu.Lock()
	for id, e := range p.entries {
		if now.Sub(e.start) > p.timeout {
			delete(p.entries, id)
			expired = append(expired, e)
		}
	}
	p.mu.Unlock()
	for _, e := range expired {
		e.fire(nil, api.ErrTimeout)
	}
	return len(expired)
}

// failAll drains the pool, firing every pending entry with err. Used on
// disconnect.
func (p *rpcPool) failAll(err error) {
	p.mu.Lock()
	drained := make([]*rpcEntry, 0, len(p.entries))
	for id, e := range p.entries {
		delete(p.entries, id)
		drained = append(drained, e)
	}
	p.mu.Unlock()
	for _, e := range drained {
		e.fire(nil, err)
	}
}

// pending returns the number of in-flight entries.
func (p *rpcPool) pending() int {
	p.mu.Lock()
	n := len(p.entries)
	p.mu.Unlock()
	return n
}
