package pool

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// LimitReader throttles reads to limit bytes per second.
type LimitReader struct {
	r io.ReadCloser
	l *rate.Limiter
	c context.Context
}

func NewLimitReader(ctx context.Context, r io.ReadCloser, limit, burst int) *LimitReader {
	return &LimitReader{
		r: r,
		l: rate.NewLimiter(rate.Limit(limit), max(burst, 1)),
		c: ctx,
	}
}

func (lr *LimitReader) Read(p []byte) (n int, err error) {
	n, err = lr.r.Read(p)
	// WaitN rejects requests larger than the burst, so wait in burst sized steps
	for remaining := n; remaining > 0; {
		step := min(remaining, lr.l.Burst())
		if werr := lr.l.WaitN(lr.c, step); werr != nil {
			return n, werr
		}
		remaining -= step
	}
	return n, err
}

func (lr *LimitReader) Close() error {
	return lr.r.Close()
}
