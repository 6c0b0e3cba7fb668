package pool

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
)

// ErrIncompleteCopy is returned when the number of bytes copied does not match the expected size.
var ErrIncompleteCopy = fmt.Errorf("incomplete copy")

type FileStreamWriter struct {
	ctx context.Context
	bp  *BytesPool
}

func NewFileStreamWriter(ctx context.Context, pool *BytesPool) *FileStreamWriter {
	return &FileStreamWriter{
		ctx: ctx,
		bp:  pool,
	}
}

// WriteToFile streams data from rc to outPath using the provided BytesPool for buffers.
// It writes to a temp file in the same directory and atomically renames on success,
// replacing any existing outPath. When expected >= 0 the copied size must match it,
// otherwise nothing is renamed. The function closes rc before returning.
func (f *FileStreamWriter) WriteToFile(rc io.ReadCloser, outPath string, writerBufferSize int, expected int64) (int64, error) {
	defer rc.Close()

	dir := filepath.Dir(outPath)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(outPath)+".tmp-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()

	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	// buffered writer to reduce syscalls
	writer := bufio.NewWriterSize(tmp, writerBufferSize)

	// get pooled buffer
	buf := f.bp.GetBytes()
	defer f.bp.PutBytes(buf)

	type result struct {
		n   int64
		err error
	}

	// perform copy in goroutine so we can observe ctx cancellation
	copyCh := make(chan result, 1)
	go func() {
		n, err := io.CopyBuffer(writer, rc, buf)
		if err == nil {
			// flush and sync once
			if err = writer.Flush(); err == nil {
				err = tmp.Sync()
			}
		}
		copyCh <- result{n, err}
	}()

	var written int64
	select {
	case <-f.ctx.Done():
		// closing rc usually makes io.Copy return
		_ = rc.Close()
		<-copyCh
		cleanup()
		return 0, f.ctx.Err()
	case res := <-copyCh:
		if res.err != nil {
			cleanup()
			return res.n, res.err
		}
		written = res.n
	}

	if expected >= 0 && written != expected {
		cleanup()
		return written, fmt.Errorf("%w: %d of %d bytes", ErrIncompleteCopy, written, expected)
	}

	if err := tmp.Close(); err != nil {
		cleanup()
		return written, err
	}
	if runtime.GOOS == "windows" {
		// windows refuses to rename over an existing file
		_ = os.Remove(outPath)
	}
	if err := os.Rename(tmpName, outPath); err != nil {
		cleanup()
		return written, err
	}
	syncDir(dir)
	return written, nil
}

func syncDir(dir string) {
	if runtime.GOOS == "windows" {
		return
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
}
