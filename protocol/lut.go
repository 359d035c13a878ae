// File: protocol/lut.go
// Package protocol implements the message lookup table.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The LUT is the bidirectional mapping between 32-bit message ids and
// (encoder, decoder) pairs. Registration runs at startup before any
// session starts and is not synchronized; lookups afterwards are
// read-only and need no locks.

package protocol

import (
	"fmt"
	"reflect"

	"github.com/momentics/hioload-remote/api"
)

// Encoder serializes msg into dst and returns the written length.
type Encoder func(msg any, dst []byte) (int, error)

// Decoder deserializes a payload back into a message value.
type Decoder func(body []byte) (any, error)

type lutEntry struct {
	id  int32
	typ reflect.Type
	enc Encoder
	dec Decoder
}

// LUT maps message ids to codec pairs and runtime types to ids.
type LUT struct {
	byID   map[int32]*lutEntry
	byType map[reflect.Type]*lutEntry
}

// NewLUT creates an empty message table.
func NewLUT() *LUT {
	return &LUT{
		byID:   make(map[int32]*lutEntry),
		byType: make(map[reflect.Type]*lutEntry),
	}
}

// Register binds id to the codec pair for prototype's runtime type.
// Duplicate ids or types, and the reserved handshake id, are rejected.
func (l *LUT) Register(id int32, prototype any, enc Encoder, dec Decoder) error {
	if id == UDPConnectMessageID {
		return fmt.Errorf("message id %d is reserved for the datagram handshake", id)
	}
	typ := reflect.TypeOf(prototype)
	if typ == nil {
		return fmt.Errorf("nil prototype for message id %d", id)
	}
	if _, ok := l.byID[id]; ok {
		return fmt.Errorf("message id %d already registered", id)
	}
	if _, ok := l.byType[typ]; ok {
		return fmt.Errorf("message type %s already registered", typ)
	}
	e := &lutEntry{id: id, typ: typ, enc: enc, dec: dec}
	l.byID[id] = e
	l.byType[typ] = e
	return nil
}

// EncodeByType serializes msg into dst using the codec registered for
// its runtime type, returning the message id and written length.
func (l *LUT) EncodeByType(msg any, dst []byte) (int32, int, error) {
	e, ok := l.byType[reflect.TypeOf(msg)]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %T", api.ErrUnknownMessageType, msg)
	}
	n, err := e.enc(msg, dst)
	if err != nil {
		return 0, 0, fmt.Errorf("encode %T: %w", msg, err)
	}
	return e.id, n, nil
}

// Decode deserializes a payload for the given message id.
func (l *LUT) Decode(id int32, body []byte) (any, error) {
	e, ok := l.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", api.ErrUnknownMessageID, id)
	}
	msg, err := e.dec(body)
	if err != nil {
		return nil, fmt.Errorf("%w: message id %d: %v", api.ErrDecode, id, err)
	}
	return msg, nil
}

// TypeOf returns the runtime type registered for id, or nil.
func (l *LUT) TypeOf(id int32) reflect.Type {
	if e, ok := l.byID[id]; ok {
		return e.typ
	}
	return nil
}

// RegisterMessage registers a typed codec pair on l.
func RegisterMessage[T any](l *LUT, id int32, enc func(*T, []byte) (int, error), dec func([]byte) (*T, error)) error {
	var proto *T
	return l.Register(id, proto,
		func(msg any, dst []byte) (int, error) {
			return enc(msg.(*T), dst)
		},
		func(body []byte) (any, error) {
			return dec(body)
		})
}

// Default is the process-wide message table used when no dedicated LUT
// is configured.
var Default = NewLUT()
