package processors

import (
	"context"
	"fmt"

	"github.com/eric2788/screenrec/pkg/pipeline"
	"github.com/sirupsen/logrus"
)

var ErrSizeLimitExceeded = fmt.Errorf("size limit exceeded")

// SizeGuardProcessor rejects a chunk that would push the stream past limit bytes.
// A zero limit disables the guard.
type SizeGuardProcessor struct {
	limit   uint64
	written func() uint64
}

func NewSizeGuard(limit uint64, written func() uint64) *pipeline.ProcessorInfo[[]byte] {
	return pipeline.NewProcessorInfo(
		"size-guard",
		&SizeGuardProcessor{limit: limit, written: written},
	)
}

func (g *SizeGuardProcessor) Open(ctx context.Context, log *logrus.Entry) error {
	return nil
}

func (g *SizeGuardProcessor) Process(ctx context.Context, log *logrus.Entry, data []byte) ([]byte, error) {
	if g.limit == 0 {
		return data, nil
	}
	if used := g.written(); used+uint64(len(data)) > g.limit {
		log.Warnf("chunk of %d bytes rejected, %d of %d bytes used", len(data), used, g.limit)
		return data, ErrSizeLimitExceeded
	}
	return data, nil
}

func (g *SizeGuardProcessor) Close() error {
	return nil
}
