// File: api/receiver.go
// Author: momentics <momentics@gmail.com>

package api

import "net"

// Session is the view of a remote session exposed to receivers.
type Session interface {
	// ID is the process-unique session identity.
	ID() uint32

	// Token returns the user-assigned token, opaque to the core.
	Token() any

	// Send ships one typed message to the peer. Serialization completes
	// before Send returns; the socket write is offloaded.
	Send(msg any) error

	// Valid reports whether the session is between connect/accept and
	// disconnect.
	Valid() bool

	RemoteAddr() net.Addr
	LocalAddr() net.Addr
}

// Receiver handles decoded inbound messages on the application context.
//
// DealMessage is invoked once per decoded message, in wire arrival order
// per session. When the peer sent the message as an RPC request, a
// non-nil reply is shipped back as the response; returning nil lets the
// peer's call time out. The returned error is logged, never propagated.
type Receiver interface {
	DealMessage(sess Session, msg any) (reply any, err error)
}

// ReceiverFunc adapts a function to the Receiver interface.
type ReceiverFunc func(sess Session, msg any) (any, error)

func (f ReceiverFunc) DealMessage(sess Session, msg any) (any, error) {
	return f(sess, msg)
}
