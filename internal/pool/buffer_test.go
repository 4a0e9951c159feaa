package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPartBufferPool_GetAndPut(t *testing.T) {
	p := NewPartBufferPool(1024)

	buf := p.Get(512)
	assert.Len(t, buf, 512)
	assert.Equal(t, 1024, cap(buf))

	p.Put(buf)

	again := p.Get(1024)
	assert.Len(t, again, 1024)
}

func TestPartBufferPool_OversizedRequests(t *testing.T) {
	p := NewPartBufferPool(1024)

	big := p.Get(4096)
	assert.Len(t, big, 4096)

	// Oversized buffers never enter the pool.
	p.Put(big)
	assert.Equal(t, int64(1024), p.Capacity())
}

func TestPartBufferPool_DefaultCapacity(t *testing.T) {
	p := NewPartBufferPool(0)
	assert.Equal(t, int64(64*1024), p.Capacity())
}
