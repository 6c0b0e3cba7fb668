package monitor

import "io"

// ProgressReader counts bytes read through it and reports every step bytes.
// A step of zero or less reports on every read.
type ProgressReader struct {
	r        io.ReadCloser
	read     int64
	step     int64
	next     int64
	callback func(read int64)
}

func NewProgressReader(r io.ReadCloser, step int64, cb func(read int64)) *ProgressReader {
	return &ProgressReader{
		r:        r,
		step:     step,
		next:     step,
		callback: cb,
	}
}

func (p *ProgressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		if p.callback != nil && p.read >= p.next {
			p.callback(p.read)
			for p.next <= p.read {
				p.next += max(p.step, 1)
			}
		}
	}
	return n, err
}

// Total returns the bytes read so far.
func (p *ProgressReader) Total() int64 {
	return p.read
}

func (p *ProgressReader) Close() error {
	return p.r.Close()
}
