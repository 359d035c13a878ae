// File: remote/events.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package remote

import "sync"

// eventHub fans session lifecycle notifications out to registered sinks.
// Sinks run outside the lock; a panicking sink must not prevent
// disconnect cleanup, so panics are swallowed per sink.
type eventHub struct {
	mu                 sync.Mutex
	onDisconnect       []func(error)
	onPreReconnect     []func()
	onReconnectSuccess []func()
}

func (h *eventHub) addDisconnect(f func(error)) {
	h.mu.Lock()
	h.onDisconnect = append(h.onDisconnect, f)
	h.mu.Unlock()
}

func (h *eventHub) addPreReconnect(f func()) {
	h.mu.Lock()
	h.onPreReconnect = append(h.onPreReconnect, f)
	h.mu.Unlock()
}

func (h *eventHub) addReconnectSuccess(f func()) {
	h.mu.Lock()
	h.onReconnectSuccess = append(h.onReconnectSuccess, f)
	h.mu.Unlock()
}

func (h *eventHub) fireDisconnect(reason error) {
	h.mu.Lock()
	sinks := append(([]func(error))(nil), h.onDisconnect...)
	h.mu.Unlock()
	for _, f := range sinks {
		invoke(func() { f(reason) })
	}
}

func (h *eventHub) firePreReconnect() {
	h.mu.Lock()
	sinks := append(([]func())(nil), h.onPreReconnect...)
	h.mu.Unlock()
	for _, f := range sinks {
		invoke(f)
	}
}

func (h *eventHub) fireReconnectSuccess() {
	h.mu.Lock()
	sinks := append(([]func())(nil), h.onReconnectSuccess...)
	h.mu.Unlock()
	for _, f := range sinks {
		invoke(f)
	}
}

func invoke(f func()) {
	defer func() { _ = recover() }()
	f()
}
