package processors

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/eric2788/screenrec/pkg/pipeline"
	"github.com/eric2788/screenrec/pkg/pool"
	"github.com/sirupsen/logrus"
)

// ReaderWrapper decorates the source reader of a copy, e.g. for throttling or progress.
type ReaderWrapper func(ctx context.Context, rc io.ReadCloser) io.ReadCloser

// ArtifactCopierProcessor copies the file at the incoming path to destPath and
// passes destPath on. The destination only appears once the copy is complete.
type ArtifactCopierProcessor struct {
	destPath         string
	bp               *pool.BytesPool
	writerBufferSize int
	wrappers         []ReaderWrapper
}

type ArtifactCopierOption func(*ArtifactCopierProcessor)

func NewArtifactCopier(destPath string, bp *pool.BytesPool, writerBufferSize int, options ...ArtifactCopierOption) *ArtifactCopierProcessor {
	c := &ArtifactCopierProcessor{
		destPath:         destPath,
		bp:               bp,
		writerBufferSize: writerBufferSize,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Info wraps the copier for a pipe. Retried copies are safe because each attempt
// writes a fresh temp file.
func (c *ArtifactCopierProcessor) Info(timeout time.Duration, retries int32, retryInterval time.Duration) *pipeline.ProcessorInfo[string] {
	return pipeline.NewProcessorInfo(
		"artifact-copier",
		pipeline.Processor[string](c),
		pipeline.WithTimeout[string](timeout),
		pipeline.WithErrorStrategy[string](pipeline.RetryOnError),
		pipeline.WithRetryOptions[string](retries, retryInterval),
		pipeline.WithSlowThreshold[string](10*time.Second),
	)
}

func (c *ArtifactCopierProcessor) Open(ctx context.Context, log *logrus.Entry) error {
	return nil
}

func (c *ArtifactCopierProcessor) Process(ctx context.Context, log *logrus.Entry, src string) (string, error) {
	info, err := os.Stat(src)
	if err != nil {
		return src, err
	}
	f, err := os.Open(src)
	if err != nil {
		return src, err
	}
	var rc io.ReadCloser = f
	for _, wrap := range c.wrappers {
		rc = wrap(ctx, rc)
	}
	n, err := pool.NewFileStreamWriter(ctx, c.bp).WriteToFile(rc, c.destPath, c.writerBufferSize, info.Size())
	if err != nil {
		return src, err
	}
	log.Debugf("copied %d bytes from %s to %s", n, src, c.destPath)
	return c.destPath, nil
}

func (c *ArtifactCopierProcessor) Close() error {
	return nil
}

func WithReaderWrapper(wrapper ReaderWrapper) ArtifactCopierOption {
	return func(c *ArtifactCopierProcessor) {
		c.wrappers = append(c.wrappers, wrapper)
	}
}
