// Package pool
// Author: momentics <momentics@gmail.com>
//
// Fixed-chunk buffer pooling for serialization and send framing.
// A BufPool hands out fixed-size byte regions (64 KiB by default) backed
// by a lock-free free list; exhaustion degrades to plain allocation and never blocks.
package pool
