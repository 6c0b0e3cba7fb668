package processors

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/eric2788/screenrec/pkg/pipeline"
	"github.com/sirupsen/logrus"
)

// ShortWriteError reports a chunk that only partially reached the file.
type ShortWriteError struct {
	Written int
	Err     error
}

func (e *ShortWriteError) Error() string {
	return fmt.Sprintf("short write (%d bytes written): %v", e.Written, e.Err)
}

func (e *ShortWriteError) Unwrap() error { return e.Err }

// ChunkWriterProcessor appends every chunk verbatim to a file it creates exclusively.
// Writes go straight to the file descriptor, so a successful Process means the bytes
// were handed to the OS.
type ChunkWriterProcessor struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	logger *logrus.Entry
}

func NewChunkWriter(path string) *pipeline.ProcessorInfo[[]byte] {
	return pipeline.NewProcessorInfo(
		"chunk-writer",
		&ChunkWriterProcessor{
			path: path,
		},
		pipeline.WithTimeout[[]byte](30*time.Second),
	)
}

func (w *ChunkWriterProcessor) Open(ctx context.Context, log *logrus.Entry) error {
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.file = file
	w.logger = log.WithField("file", file.Name())
	return nil
}

func (w *ChunkWriterProcessor) Process(ctx context.Context, log *logrus.Entry, data []byte) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return data, os.ErrClosed
	}
	n, err := w.file.Write(data)
	if err != nil {
		return data, &ShortWriteError{Written: n, Err: err}
	}
	return data, nil
}

// Close flushes the file to stable storage before closing it.
func (w *ChunkWriterProcessor) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	syncErr := w.file.Sync()
	closeErr := w.file.Close()
	w.file = nil
	return errors.Join(syncErr, closeErr)
}
