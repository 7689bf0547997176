package go_xmppgate

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// maxPooledBuffer bounds the capacity of buffers returned to the pool, so a
// single oversized stanza does not pin memory.
const maxPooledBuffer = 64 * 1024

// bufferPool reuses encode buffers for outbound stanzas.
type bufferPool struct {
	pool      sync.Pool
	gets      uint64
	discarded uint64
}

var globalBufferPool = &bufferPool{
	pool: sync.Pool{
		New: func() interface{} {
			return bytes.NewBuffer(make([]byte, 0, 1024))
		},
	},
}

func (p *bufferPool) get() *bytes.Buffer {
	atomic.AddUint64(&p.gets, 1)
	buf := p.pool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func (p *bufferPool) put(buf *bytes.Buffer) {
	if buf.Cap() > maxPooledBuffer {
		atomic.AddUint64(&p.discarded, 1)
		return
	}
	p.pool.Put(buf)
}

// BufferPoolStats returns how many encode buffers were taken from the pool
// and how many were too large to return to it.
func BufferPoolStats() (gets, discarded uint64) {
	return atomic.LoadUint64(&globalBufferPool.gets), atomic.LoadUint64(&globalBufferPool.discarded)
}
