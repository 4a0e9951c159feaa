// Package pool provides memory management optimizations.
// This includes reuse of part-sized staging buffers so concurrent
// downloads do not allocate a fresh buffer per part.
package pool

import (
	"sync"
)

// PartBufferPool manages reusable buffers of one fixed capacity, sized
// for the part layout of a transfer. Workers stage downloaded part
// bytes in a pooled buffer; the aggregator returns it after writing.
type PartBufferPool struct {
	capacity int64
	pool     *sync.Pool
}

// NewPartBufferPool creates a pool handing out buffers of the given
// capacity.
func NewPartBufferPool(capacity int64) *PartBufferPool {
	if capacity <= 0 {
		capacity = 64 * 1024
	}
	return &PartBufferPool{
		capacity: capacity,
		pool: &sync.Pool{
			New: func() interface{} {
				buf := make([]byte, capacity)
				return &buf
			},
		},
	}
}

// Get returns a buffer truncated to length. Lengths beyond the pool
// capacity allocate a one-off buffer that will not be pooled on return.
func (p *PartBufferPool) Get(length int64) []byte {
	if length > p.capacity {
		return make([]byte, length)
	}
	bufPtr := p.pool.Get().(*[]byte)
	return (*bufPtr)[:length]
}

// Put returns a buffer to the pool. The buffer must not be used after
// calling Put.
func (p *PartBufferPool) Put(buf []byte) {
	if int64(cap(buf)) != p.capacity {
		return
	}
	full := buf[:cap(buf)]
	p.pool.Put(&full)
}

// Capacity returns the fixed buffer capacity of the pool.
func (p *PartBufferPool) Capacity() int64 {
	return p.capacity
}
