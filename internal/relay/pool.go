package relay

import (
	"sync"

	"github.com/die-net/sslocal/internal/buffer"
)

// maxPooledCapacity keeps buffers that grew under a burst from being recycled
// forever.
const maxPooledCapacity = 4 * buffer.DefaultCapacity

type bufferPool struct {
	pool sync.Pool
}

func newBufferPool(size int) *bufferPool {
	bp := &bufferPool{}
	bp.pool.New = func() any {
		return buffer.NewSize(size)
	}

	return bp
}

func (p *bufferPool) Get() *buffer.Buffer {
	return p.pool.Get().(*buffer.Buffer)
}

func (p *bufferPool) Put(b *buffer.Buffer) {
	if b == nil || b.Cap() > maxPooledCapacity {
		return
	}
	b.Clear()
	p.pool.Put(b)
}
