// File: pool/bufpool.go
// Package pool implements fixed-chunk buffer pooling over a lock-free
// free list.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"fmt"
	"sync/atomic"

	"github.com/momentics/hioload-remote/core/concurrency"
)

// DefaultChunkSize is the default capacity of a pooled buffer. It must
// stay at or above the configured max packet size so one buffer always
// holds one framed packet.
const DefaultChunkSize = 64 * 1024

const defaultFreeListCapacity = 4096

// BufPool maintains a bounded free list of reclaimed fixed-size chunks.
// All methods are safe for concurrent use.
type BufPool struct {
	chunkSize int
	freeList  *concurrency.LockFreeQueue[[]byte]

	totalAlloc atomic.Int64
	totalFree  atomic.Int64
	inUse      atomic.Int64
}

// Stats aggregates buffer allocation/reuse counters.
type Stats struct {
	TotalAlloc int64
	TotalFree  int64
	InUse      int64
}

// NewBufPool builds a pool of chunkSize-byte buffers with the given free
// list capacity. Zero or negative arguments select the defaults.
func NewBufPool(chunkSize, capacity int) *BufPool {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if capacity <= 0 {
		capacity = defaultFreeListCapacity
	}
	return &BufPool{
		chunkSize: chunkSize,
		freeList:  concurrency.NewLockFreeQueue[[]byte](capacity),
	}
}

// ChunkSize returns the fixed capacity of buffers handed out by Acquire.
func (p *BufPool) ChunkSize() int { return p.chunkSize }

// Acquire returns a chunkSize-length buffer. On free-list exhaustion a
// fresh chunk is allocated; Acquire never blocks.
func (p *BufPool) Acquire() []byte {
	p.inUse.Add(1)
	if buf, ok := p.freeList.Dequeue(); ok {
		return buf[:p.chunkSize]
	}
	p.totalAlloc.Add(1)
	return make([]byte, p.chunkSize)
}

// Release returns a buffer obtained from Acquire. The caller must not
// touch buf afterwards. Releasing a slice that was not produced by this
// pool is a program error.
func (p *BufPool) Release(buf []byte) {
	if cap(buf) < p.chunkSize {
		panic(fmt.Sprintf("pool: release of foreign buffer (cap %d, chunk %d)", cap(buf), p.chunkSize))
	}
	p.inUse.Add(-1)
	if p.freeList.Enqueue(buf[:p.chunkSize]) {
		p.totalFree.Add(1)
		return
	}
	// Free list full, let GC take it.
}

// Stats exposes allocation counters for observability.
func (p *BufPool) Stats() Stats {
	return Stats{
		TotalAlloc: p.totalAlloc.Load(),
		TotalFree:  p.totalFree.Load(),
		InUse:      p.inUse.Load(),
	}
}

// Default is the process-wide pool used when no dedicated pool is
// configured.
var Default = NewBufPool(DefaultChunkSize, defaultFreeListCapacity)
