// Package arena provides the per-request bump allocator used for every
// buffer that crosses the host/module boundary. An arena is owned by
// exactly one request and released as a unit when the response has been
// written, so individual allocations carry no bookkeeping.
package arena

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// chunkSize is the granularity the allocator requests from the pool.
// Most requests fit in a single chunk.
const chunkSize = 64 * 1024

var chunkPool = sync.Pool{
	New: func() any {
		b := make([]byte, chunkSize)
		return &b
	},
}

// Arena is a bump allocator over pooled chunks. It is not safe for
// concurrent use; each request task owns its arena exclusively.
type Arena struct {
	chunks [][]byte
	// offset into the last chunk
	off int

	allocated atomic.Uint64
}

// New returns an empty arena. The first allocation pulls a chunk from
// the pool.
func New() *Arena {
	return &Arena{}
}

// AllocBytes returns a slice of length n backed by arena memory.
// Allocations larger than the chunk size get a dedicated chunk.
func (a *Arena) AllocBytes(n int) []byte {
	a.allocated.Add(uint64(n))

	if n > chunkSize {
		buf := make([]byte, n)
		// The bump chunk, when present, stays last so the offset keeps
		// pointing into pooled memory.
		if len(a.chunks) == 0 {
			a.chunks = append(a.chunks, buf)
			a.off = chunkSize
		} else {
			last := len(a.chunks) - 1
			a.chunks = append(a.chunks, a.chunks[last])
			a.chunks[last] = buf
		}
		return buf
	}

	if len(a.chunks) == 0 || a.off+n > chunkSize {
		a.chunks = append(a.chunks, *chunkPool.Get().(*[]byte))
		a.off = 0
	}

	last := a.chunks[len(a.chunks)-1]
	buf := last[a.off : a.off+n : a.off+n]
	a.off += n
	return buf
}

// Copy copies b into arena memory and returns the arena-backed slice.
func (a *Arena) Copy(b []byte) []byte {
	buf := a.AllocBytes(len(b))
	copy(buf, b)
	return buf
}

// AllocString copies s into arena memory. The returned string aliases
// arena storage and must not outlive the request.
func (a *Arena) AllocString(s string) string {
	buf := a.AllocBytes(len(s))
	copy(buf, s)
	return unsafeString(buf)
}

// Allocated reports the total bytes handed out since the last Release.
func (a *Arena) Allocated() uint64 {
	return a.allocated.Load()
}

// Release returns every pooled chunk and resets the arena. O(1) per
// chunk, no per-allocation work. The arena may be reused afterwards.
func (a *Arena) Release() {
	for _, c := range a.chunks {
		if cap(c) == chunkSize {
			c := c[:chunkSize]
			chunkPool.Put(&c)
		}
		// oversized chunks are left to the GC
	}
	a.chunks = nil
	a.off = 0
	a.allocated.Store(0)
}

// unsafeString views b as a string without copying. Valid because the
// arena never writes to handed-out regions.
func unsafeString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}
