// File: remote/options.go
// Package remote defines functional options for sessions and listeners.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package remote

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/momentics/hioload-remote/pool"
	"github.com/momentics/hioload-remote/protocol"
)

// Options holds all configurable parameters for sessions and listeners.
type Options struct {
	RPCTimeout      time.Duration // per-session RPC deadline
	Reconnect       bool          // enables the reconnect supervisor
	ReconnectWindow time.Duration // supervisor deadline
	MaxPacketSize   int           // header-enforced cap, header included
	SendQueueCap    int           // per-session outbound queue capacity
	Token           any           // user token, opaque to the core

	LUT        *protocol.LUT
	Pool       *pool.BufPool
	Transducer *Transducer
	Logger     *slog.Logger
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() *Options {
	return &Options{
		RPCTimeout:      30 * time.Second,
		Reconnect:       false,
		ReconnectWindow: 10 * time.Second,
		MaxPacketSize:   protocol.DefaultMaxPacketSize,
		SendQueueCap:    1024,
		LUT:             protocol.Default,
		Pool:            pool.Default,
		Transducer:      defaultTransducer,
		Logger:          slog.Default(),
	}
}

func (o *Options) clone() *Options {
	c := *o
	return &c
}

func (o *Options) validate() error {
	if o.Pool.ChunkSize() < o.MaxPacketSize {
		return fmt.Errorf("buffer pool chunk size %d below max packet size %d",
			o.Pool.ChunkSize(), o.MaxPacketSize)
	}
	if o.MaxPacketSize < protocol.HeaderSize {
		return fmt.Errorf("max packet size %d below header size", o.MaxPacketSize)
	}
	return nil
}

func applyOptions(opts []Option) *Options {
	o := DefaultOptions()
	for _, fn := range opts {
		fn(o)
	}
	return o
}

// Option customizes session or listener initialization.
type Option func(*Options)

// WithRPCTimeout overrides the default 30 s RPC deadline.
func WithRPCTimeout(d time.Duration) Option {
	return func(o *Options) { o.RPCTimeout = d }
}

// WithReconnect enables the reconnect supervisor with the given window.
func WithReconnect(window time.Duration) Option {
	return func(o *Options) {
		o.Reconnect = true
		if window > 0 {
			o.ReconnectWindow = window
		}
	}
}

// WithMaxPacketSize overrides the header-enforced packet cap.
func WithMaxPacketSize(n int) Option {
	return func(o *Options) { o.MaxPacketSize = n }
}

// WithChunkSize gives the session a dedicated buffer pool with the given
// chunk size. The chunk size must stay at or above the max packet size.
func WithChunkSize(n int) Option {
	return func(o *Options) { o.Pool = pool.NewBufPool(n, 0) }
}

// WithBufPool shares an existing buffer pool.
func WithBufPool(p *pool.BufPool) Option {
	return func(o *Options) { o.Pool = p }
}

// WithLUT selects a dedicated message table instead of protocol.Default.
func WithLUT(l *protocol.LUT) Option {
	return func(o *Options) { o.LUT = l }
}

// WithTransducer routes inbound messages through a dedicated transducer
// instead of the process-wide default.
func WithTransducer(t *Transducer) Option {
	return func(o *Options) { o.Transducer = t }
}

// WithSendQueueCap overrides the outbound queue capacity.
func WithSendQueueCap(n int) Option {
	return func(o *Options) { o.SendQueueCap = n }
}

// WithToken assigns the user token carried by the session.
func WithToken(token any) Option {
	return func(o *Options) { o.Token = token }
}

// WithLogger overrides the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}
