package promote

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/eric2788/screenrec/internal/modules/config"
	"github.com/eric2788/screenrec/internal/processors"
	"github.com/eric2788/screenrec/internal/services/stream"
	"github.com/eric2788/screenrec/pkg/monitor"
	"github.com/eric2788/screenrec/pkg/pipeline"
	"github.com/eric2788/screenrec/pkg/pool"
	"github.com/eric2788/screenrec/utils"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("service", "promote")

var ErrPromotionFailed = fmt.Errorf("promotion failed")

// PromotionError is returned when a temp file could not be copied into the recordings
// directory. The source is left untouched and no artifact is exposed.
type PromotionError struct {
	SessionID string
	Kind      stream.Kind
	Source    string
	Err       error
}

func (e *PromotionError) Error() string {
	return fmt.Sprintf("%v: %s of session %s from %s: %v", ErrPromotionFailed, e.Kind, e.SessionID, e.Source, e.Err)
}

func (e *PromotionError) Unwrap() []error {
	return []error{ErrPromotionFailed, e.Err}
}

const progressLogInterval = 64 * 1024 * 1024

type Service struct {
	cfg      *config.Config
	bp       *pool.BytesPool
	wrappers []processors.ReaderWrapper
}

type Option func(*Service)

// WithReaderWrapper decorates every source reader, after the built-in throttling.
func WithReaderWrapper(wrapper processors.ReaderWrapper) Option {
	return func(s *Service) {
		s.wrappers = append(s.wrappers, wrapper)
	}
}

func NewService(cfg *config.Config) *Service {
	return New(cfg)
}

func New(cfg *config.Config, options ...Option) *Service {
	s := &Service{
		cfg: cfg,
		bp:  pool.NewBytesPool(cfg.CopyBufferSize()),
	}
	if limit := cfg.PromoteRateLimitBytes; limit > 0 {
		s.wrappers = append(s.wrappers, func(ctx context.Context, rc io.ReadCloser) io.ReadCloser {
			return pool.NewLimitReader(ctx, rc, limit, max(limit, cfg.CopyBufferSize()))
		})
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// DurablePath is where the artifact of a session's stream lands. The extension is
// taken from tempPath, falling back to the configured media extension.
func (s *Service) DurablePath(tempPath, sessionID string, kind stream.Kind) string {
	ext := filepath.Ext(tempPath)
	if ext == "" {
		ext = "." + s.cfg.MediaExtension
	}
	name := fmt.Sprintf("recording_%s_%s%s", utils.SanitizeFilename(sessionID), kind, ext)
	return filepath.Join(s.cfg.RecordingsDir, name)
}

// Promote moves tempPath into the recordings directory under its canonical name and
// returns the durable path. An empty or missing tempPath yields "" and no error.
// An existing artifact of the same name is replaced.
func (s *Service) Promote(ctx context.Context, tempPath, sessionID string, kind stream.Kind) (string, error) {
	if tempPath == "" {
		return "", nil
	}

	l := logger.WithField("session", sessionID).WithField("kind", kind)

	info, err := os.Stat(tempPath)
	if os.IsNotExist(err) {
		l.Warnf("nothing to promote, %s does not exist", tempPath)
		return "", nil
	} else if err != nil {
		return "", &PromotionError{SessionID: sessionID, Kind: kind, Source: tempPath, Err: errors.Wrap(err, "stat source")}
	} else if info.IsDir() {
		return "", &PromotionError{SessionID: sessionID, Kind: kind, Source: tempPath, Err: errors.Errorf("%s is a directory", tempPath)}
	}

	dest := s.DurablePath(tempPath, sessionID, kind)
	if filepath.Clean(tempPath) == filepath.Clean(dest) {
		return dest, nil
	}

	if err := os.MkdirAll(s.cfg.RecordingsDir, 0755); err != nil {
		return "", &PromotionError{SessionID: sessionID, Kind: kind, Source: tempPath, Err: errors.Wrap(err, "create recordings directory")}
	}

	pipe := s.newPipeline(dest, info.Size(), l)
	if err := pipe.Open(ctx); err != nil {
		return "", &PromotionError{SessionID: sessionID, Kind: kind, Source: tempPath, Err: err}
	}
	defer pipe.Close()

	start := time.Now()
	if _, err := pipe.Process(ctx, tempPath); err != nil {
		l.Errorf("error promoting %s: %v", tempPath, err)
		return "", &PromotionError{SessionID: sessionID, Kind: kind, Source: tempPath, Err: errors.Wrapf(err, "copy to %s", dest)}
	}

	if err := os.Remove(tempPath); err != nil && !os.IsNotExist(err) {
		l.Warnf("promoted but cannot remove temp file %s: %v", tempPath, err)
	}

	l.Infof("promoted %s to %s (%d bytes in %v)", tempPath, dest, info.Size(), time.Since(start).Round(time.Millisecond))
	return dest, nil
}

func (s *Service) newPipeline(dest string, size int64, l *logrus.Entry) *pipeline.Pipe[string] {
	options := make([]processors.ArtifactCopierOption, 0, len(s.wrappers)+1)
	for _, wrapper := range s.wrappers {
		options = append(options, processors.WithReaderWrapper(wrapper))
	}
	options = append(options, processors.WithReaderWrapper(func(ctx context.Context, rc io.ReadCloser) io.ReadCloser {
		return monitor.NewProgressReader(rc, progressLogInterval, func(read int64) {
			l.Debugf("promotion progress: %d / %d MB", read/1024/1024, size/1024/1024)
		})
	}))

	copier := processors.NewArtifactCopier(dest, s.bp, s.cfg.WriterBufferSize(), options...)
	return pipeline.New(
		copier.Info(copyTimeout(size), int32(max(s.cfg.PromoteRetries, 0)), time.Second),
	)
}

// copyTimeout allows at least 10 MB/s plus a fixed minute of slack.
func copyTimeout(size int64) time.Duration {
	return time.Minute + time.Duration(size/(10*1024*1024))*time.Second
}
