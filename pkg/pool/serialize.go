package pool

import (
	"bytes"
	"encoding/gob"
	"sync"
)

// encode buffers that grew past this are dropped instead of pooled
const maxPooledBuffer = 64 * 1024

// Serializer gob-encodes values with pooled encode buffers.
type Serializer struct {
	encPool sync.Pool
}

func NewSerializer() *Serializer {
	return &Serializer{
		encPool: sync.Pool{
			New: func() any {
				return bytes.NewBuffer(make([]byte, 0, 1024))
			},
		},
	}
}

func (s *Serializer) Serialize(v any) ([]byte, error) {
	buf := s.encPool.Get().(*bytes.Buffer)
	defer func() {
		if buf.Cap() <= maxPooledBuffer {
			buf.Reset()
			s.encPool.Put(buf)
		}
	}()
	buf.Reset()
	if err := gob.NewEncoder(buf).Encode(v); err != nil {
		return nil, err
	}
	return bytes.Clone(buf.Bytes()), nil
}

func (s *Serializer) Deserialize(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
