package stream

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/eric2788/screenrec/internal/modules/config"
	"github.com/eric2788/screenrec/internal/processors"
	"github.com/eric2788/screenrec/pkg/pipeline"
	"github.com/eric2788/screenrec/utils"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/sirupsen/logrus"
	"go.uber.org/fx"
)

var logger = logrus.WithField("service", "stream")

type Kind string

const (
	Video Kind = "video"
	Audio Kind = "audio"
)

var Kinds = []Kind{Video, Audio}

func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case Video, Audio:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
}

var ErrStreamConflict = fmt.Errorf("stream is finalizing")
var ErrChunkWriteFailed = fmt.Errorf("chunk write failed")
var ErrInvalidKind = fmt.Errorf("invalid stream kind")
var ErrEmptySessionID = fmt.Errorf("session id is empty")
var ErrMaxConcurrentStreamsReached = fmt.Errorf("maximum concurrent streams reached")
var ErrInsufficientDiskSpace = fmt.Errorf("insufficient disk space")
var ErrStreamTooLarge = fmt.Errorf("stream size limit reached")

// ChunkWriteError is returned when a chunk could not be fully written.
// Written is how many bytes of the chunk reached the file anyway.
type ChunkWriteError struct {
	SessionID string
	Kind      Kind
	Written   int
	Err       error
}

func (e *ChunkWriteError) Error() string {
	return fmt.Sprintf("%v for %s/%s (%d bytes written): %v", ErrChunkWriteFailed, e.SessionID, e.Kind, e.Written, e.Err)
}

func (e *ChunkWriteError) Unwrap() []error {
	return []error{ErrChunkWriteFailed, e.Err}
}

type key struct {
	sessionID string
	kind      Kind
}

type Service struct {
	table *xsync.Map[key, *handle]
	live  *xsync.Map[string, struct{}]

	cfg *config.Config
	ctx context.Context
}

func NewService(lc fx.Lifecycle, cfg *config.Config) (*Service, error) {

	if err := os.MkdirAll(cfg.UploadDir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create upload directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		table: xsync.NewMap[key, *handle](),
		live:  xsync.NewMap[string, struct{}](),
		cfg:   cfg,
		ctx:   ctx,
	}

	lc.Append(fx.StartHook(func() {
		if cfg.StreamIdleMinutes > 0 {
			go s.expireIdlePeriodically(ctx, time.Duration(cfg.StreamIdleMinutes)*time.Minute)
		}
	}))
	lc.Append(fx.StopHook(func() {
		cancel()
		s.closeAll()
	}))
	return s, nil
}

// Open returns the temp path of the open stream for the key, opening a new one if needed.
func (s *Service) Open(sessionID string, kind Kind) (string, error) {
	h, err := s.acquire(sessionID, kind)
	if err != nil {
		return "", err
	}
	defer h.mu.Unlock()
	return h.tempPath, nil
}

// Append writes payload verbatim at the end of the stream and returns the stream size.
func (s *Service) Append(sessionID string, kind Kind, payload []byte) (uint64, error) {
	h, err := s.acquire(sessionID, kind)
	if err != nil {
		return 0, err
	}
	defer h.mu.Unlock()

	if _, err := h.pipe.Process(s.ctx, payload); err != nil {
		l := logger.WithField("session", sessionID).WithField("kind", kind)
		if errors.Is(err, processors.ErrSizeLimitExceeded) {
			l.Warnf("stream reached its size limit at %d bytes", h.bytesWritten.Load())
			return h.bytesWritten.Load(), fmt.Errorf("%w: %d bytes", ErrStreamTooLarge, h.bytesWritten.Load())
		}
		written := 0
		var shortErr *processors.ShortWriteError
		if errors.As(err, &shortErr) {
			written = shortErr.Written
		}
		l.Errorf("error writing chunk to file: %v", err)
		return h.bytesWritten.Load(), &ChunkWriteError{SessionID: sessionID, Kind: kind, Written: written, Err: err}
	}

	h.touch()
	return h.bytesWritten.Add(uint64(len(payload))), nil
}

// Finalize closes the open stream for the key and returns its temp path.
// ok is false when no stream was open, including when it was already finalized.
func (s *Service) Finalize(sessionID string, kind Kind) (path string, ok bool, err error) {
	h, found := s.table.Load(key{sessionID, kind})
	if !found {
		return "", false, nil
	}
	if !h.state.CompareAndSwap(openPtr, finalizingPtr) {
		return "", false, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	l := logger.WithField("session", sessionID).WithField("kind", kind)
	closeErr := h.pipe.Close()
	s.table.Delete(key{sessionID, kind})
	s.live.Delete(h.tempPath)
	h.state.Store(closedPtr)

	if closeErr != nil {
		l.Errorf("error closing stream file %s: %v", h.tempPath, closeErr)
		return h.tempPath, true, fmt.Errorf("cannot finalize stream file %s: %w", h.tempPath, closeErr)
	}
	l.Infof("stream finalized: %s (%d bytes)", h.tempPath, h.bytesWritten.Load())
	return h.tempPath, true, nil
}

// CurrentPath returns the temp path of the open stream for the key, if any.
func (s *Service) CurrentPath(sessionID string, kind Kind) (string, bool) {
	h, ok := s.table.Load(key{sessionID, kind})
	if !ok || h.state.Load() == closedPtr {
		return "", false
	}
	return h.tempPath, true
}

// Remove drops the table entry for the key. A stream still open is closed and its
// temp file is left on disk.
func (s *Service) Remove(sessionID string, kind Kind) bool {
	h, ok := s.table.LoadAndDelete(key{sessionID, kind})
	if !ok {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.Load() != closedPtr {
		if err := h.pipe.Close(); err != nil {
			logger.WithField("session", sessionID).Warnf("error closing removed stream: %v", err)
		}
		h.state.Store(closedPtr)
	}
	s.live.Delete(h.tempPath)
	return true
}

// IsWriting reports whether path is the temp file of a stream still open.
func (s *Service) IsWriting(path string) bool {
	_, ok := s.live.Load(filepath.Clean(path))
	return ok
}

// acquire returns the open handle for the key with its mutex held.
func (s *Service) acquire(sessionID string, kind Kind) (*handle, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, err
	}

	k := key{sessionID, kind}
	for {
		h, ok := s.table.Load(k)
		if !ok {
			if err := s.checkCapacity(); err != nil {
				return nil, err
			}
			h, _ = s.table.LoadOrStore(k, newHandle(sessionID, kind))
		}

		if h.state.Load() == finalizingPtr {
			return nil, ErrStreamConflict
		}

		h.mu.Lock()
		switch h.state.Load() {
		case openPtr:
			return h, nil
		case finalizingPtr:
			h.mu.Unlock()
			return nil, ErrStreamConflict
		}

		// closed: either never opened, or finalized and removed while we waited
		if current, ok := s.table.Load(k); !ok || current != h {
			h.mu.Unlock()
			continue
		}
		if err := s.openHandle(h); err != nil {
			s.table.Delete(k)
			h.mu.Unlock()
			return nil, err
		}
		return h, nil
	}
}

func (s *Service) openHandle(h *handle) error {
	name := fmt.Sprintf("%s_%s_%d.%s", h.kind, utils.SanitizeFilename(h.sessionID), time.Now().UnixNano(), s.cfg.MediaExtension)
	h.tempPath = filepath.Clean(filepath.Join(s.cfg.UploadDir, name))

	maxBytes := uint64(max(s.cfg.MaxStreamMegabytes, 0)) * 1024 * 1024
	h.pipe = pipeline.New(
		processors.NewSizeGuard(maxBytes, h.bytesWritten.Load),
		processors.NewChunkWriter(h.tempPath),
	)
	if err := h.pipe.Open(s.ctx); err != nil {
		return fmt.Errorf("cannot open stream file: %w", err)
	}

	h.startTime = time.Now()
	h.touch()
	h.state.Store(openPtr)
	s.live.Store(h.tempPath, struct{}{})

	logger.WithField("session", h.sessionID).
		WithField("kind", h.kind).
		Infof("stream opened: %s", h.tempPath)
	return nil
}

func (s *Service) checkCapacity() error {
	if s.cfg.MaxConcurrentStreams > 0 && s.table.Size() >= s.cfg.MaxConcurrentStreams {
		return ErrMaxConcurrentStreamsReached
	}
	if s.cfg.MinFreeDiskMegabytes > 0 {
		usage, err := disk.Usage(s.cfg.UploadDir)
		if err != nil {
			logger.Warnf("cannot check free disk space of %s: %v", s.cfg.UploadDir, err)
			return nil
		}
		if usage.Free < uint64(s.cfg.MinFreeDiskMegabytes)*1024*1024 {
			return fmt.Errorf("%w: %d MB free", ErrInsufficientDiskSpace, usage.Free/1024/1024)
		}
	}
	return nil
}

func (s *Service) closeAll() {
	s.table.Range(func(k key, h *handle) bool {
		if _, ok, err := s.Finalize(k.sessionID, k.kind); ok && err != nil {
			logger.Warnf("error closing stream %s/%s on shutdown: %v", k.sessionID, k.kind, err)
		}
		return true
	})
}
