package recording

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/eric2788/screenrec/pkg/pool"
	"github.com/eric2788/screenrec/utils"
)

const processedAtLayout = "2006-01-02T15:04:05.000Z07:00"

var lastMillis atomic.Int64

// nextMillis returns the current epoch millis, bumped so that no two calls in this
// process ever return the same value.
func nextMillis() int64 {
	for {
		last := lastMillis.Load()
		next := max(time.Now().UnixMilli(), last+1)
		if lastMillis.CompareAndSwap(last, next) {
			return next
		}
	}
}

func recordFilename(sessionID string, millis int64) string {
	return fmt.Sprintf("recording_%s_%d.json", utils.SanitizeFilename(sessionID), millis)
}

// persist writes data under a fresh record filename and returns the filename.
// The file appears complete or not at all.
func (s *Service) persist(ctx context.Context, sessionID string, data []byte) (string, error) {
	if err := os.MkdirAll(s.cfg.RecordingsDir, 0755); err != nil {
		return "", err
	}

	filename := recordFilename(sessionID, nextMillis())
	for exists(filepath.Join(s.cfg.RecordingsDir, filename)) {
		filename = recordFilename(sessionID, nextMillis())
	}

	rc := io.NopCloser(bytes.NewReader(data))
	writer := pool.NewFileStreamWriter(ctx, s.bp)
	if _, err := writer.WriteToFile(rc, filepath.Join(s.cfg.RecordingsDir, filename), s.cfg.WriterBufferSize(), int64(len(data))); err != nil {
		return "", err
	}
	return filename, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
