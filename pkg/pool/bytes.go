package pool

import (
	"sync"
)

type BytesPool struct {
	pool       sync.Pool
	BufferSize int
}

func NewBytesPool(bufferSize int) *BytesPool {
	bp := &BytesPool{BufferSize: bufferSize}
	bp.pool.New = func() any {
		buf := make([]byte, bufferSize)
		return &buf
	}
	return bp
}

func (p *BytesPool) GetBytes() []byte {
	return *p.GetBytesPtr()
}

// PutBytes only accepts slices that came from this pool.
func (p *BytesPool) PutBytes(buf []byte) {
	if cap(buf) != p.BufferSize {
		return
	}
	p.PutBytesPtr(&buf)
}

func (p *BytesPool) GetBytesPtr() *[]byte {
	return p.pool.Get().(*[]byte)
}

func (p *BytesPool) PutBytesPtr(buf *[]byte) {
	*buf = (*buf)[:cap(*buf)]
	p.pool.Put(buf)
}
