package recording

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/eric2788/screenrec/internal/modules/config"
	"github.com/eric2788/screenrec/internal/services/promote"
	"github.com/eric2788/screenrec/internal/services/stream"
	"github.com/eric2788/screenrec/pkg/pool"
	"github.com/eric2788/screenrec/utils"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/sirupsen/logrus"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"
)

var logger = logrus.WithField("service", "recording")

const savedMessage = "Recording saved successfully"

type Finalizer interface {
	CurrentPath(sessionID string, kind stream.Kind) (string, bool)
	Finalize(sessionID string, kind stream.Kind) (string, bool, error)
}

type Promoter interface {
	Promote(ctx context.Context, tempPath, sessionID string, kind stream.Kind) (string, error)
}

// Listener is told about every persisted record. It must not block.
type Listener interface {
	OnAssembled(rec *PersistedRecording, recordPath string)
}

type Service struct {
	cfg       *config.Config
	streams   Finalizer
	promoter  Promoter
	index     *Index
	listeners []Listener
	bp        *pool.BytesPool

	// media left behind by failed assemblies, picked up by the next one
	pending *xsync.Map[pendingKey, pendingMedia]
}

type pendingKey struct {
	sessionID string
	kind      stream.Kind
}

// pendingMedia is either an artifact already promoted or a temp file whose
// promotion failed.
type pendingMedia struct {
	path     string
	promoted bool
}

type Params struct {
	fx.In

	Config    *config.Config
	Streams   *stream.Service
	Promoter  *promote.Service
	Index     *Index
	Listeners []Listener `group:"recording.listeners"`
}

func NewService(p Params) *Service {
	return New(p.Config, p.Streams, p.Promoter, p.Index, p.Listeners...)
}

func New(cfg *config.Config, streams Finalizer, promoter Promoter, index *Index, listeners ...Listener) *Service {
	return &Service{
		cfg:       cfg,
		streams:   streams,
		promoter:  promoter,
		index:     index,
		listeners: listeners,
		bp:        pool.NewBytesPool(32 * 1024),
		pending:   xsync.NewMap[pendingKey, pendingMedia](),
	}
}

// SessionID picks the session a request belongs to.
func (s *Service) SessionID(req Request) string {
	return utils.EmptyOrElse(utils.EmptyOrElse(req.SessionID, req.Metadata.SessionID), s.cfg.DefaultSessionID)
}

// Assemble resolves the media of a session into durable storage and persists one
// record for it. The record is written last, so a failed call leaves no record behind.
func (s *Service) Assemble(ctx context.Context, req Request) (*Summary, error) {
	sessionID := s.SessionID(req)
	l := logger.WithField("session", sessionID)
	l.Infof("processing %d events", len(req.Events))

	var videoPath, audioPath string
	var g errgroup.Group
	g.Go(func() (err error) {
		videoPath, err = s.resolve(ctx, sessionID, stream.Video, req.VideoSource)
		return
	})
	g.Go(func() (err error) {
		audioPath, err = s.resolve(ctx, sessionID, stream.Audio, req.AudioSource)
		return
	})
	if err := g.Wait(); err != nil {
		l.Errorf("error resolving media: %v", err)
		s.keepPromoted(sessionID, videoPath, audioPath)
		return nil, err
	}

	events := req.Events
	if events == nil {
		events = []RecordingEvent{}
	}
	rec := &PersistedRecording{
		SessionID:   sessionID,
		StartTime:   req.Metadata.StartTime,
		EndTime:     req.Metadata.EndTime,
		URL:         req.Metadata.URL,
		Viewport:    req.Metadata.Viewport,
		Events:      events,
		VideoPath:   optional(videoPath),
		AudioPath:   optional(audioPath),
		ProcessedAt: time.Now().UTC().Format(processedAtLayout),
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		s.keepPromoted(sessionID, videoPath, audioPath)
		return nil, &AssemblyError{SessionID: sessionID, Stage: StageEncode, Err: err}
	}

	filename, err := s.persist(ctx, sessionID, data)
	if err != nil {
		l.Errorf("error saving recording data: %v", err)
		s.keepPromoted(sessionID, videoPath, audioPath)
		return nil, &AssemblyError{SessionID: sessionID, Stage: StagePersist, Err: fmt.Errorf("%w: %v", ErrAssemblyPersistFailed, err)}
	}
	l.Infof("saved recording data to: %s", filename)
	for _, kind := range stream.Kinds {
		s.pending.Delete(pendingKey{sessionID, kind})
	}

	if s.index != nil {
		entry := &Entry{
			Filename:        filename,
			SessionID:       sessionID,
			ProcessedAt:     time.Now().UTC(),
			EventsProcessed: len(events),
			VideoPath:       videoPath,
			AudioPath:       audioPath,
		}
		if err := s.index.Add(entry); err != nil {
			l.Warnf("cannot index recording %s: %v", filename, err)
		}
	}

	recordPath := filepath.Join(s.cfg.RecordingsDir, filename)
	for _, listener := range s.listeners {
		listener.OnAssembled(rec, recordPath)
	}

	return &Summary{
		Success:         true,
		SessionID:       sessionID,
		Filename:        filename,
		EventsProcessed: len(events),
		Message:         savedMessage,
		VideoPath:       rec.VideoPath,
		AudioPath:       rec.AudioPath,
	}, nil
}

// Records lists the persisted records of a session.
func (s *Service) Records(sessionID string) ([]*Entry, error) {
	if s.index == nil {
		return []*Entry{}, nil
	}
	return s.index.List(sessionID)
}

// resolve yields the durable path for one kind, or "" when there is no media.
// Without a source it finalizes the open stream, or else falls back to what an
// earlier failed assembly of the session left behind.
func (s *Service) resolve(ctx context.Context, sessionID string, kind stream.Kind, source string) (string, error) {
	l := logger.WithField("session", sessionID).WithField("kind", kind)
	k := pendingKey{sessionID, kind}

	if source != "" {
		s.discardStream(sessionID, kind, l)
		s.supersede(k, source, l)
	} else if path, ok, err := s.streams.Finalize(sessionID, kind); ok {
		if err != nil {
			s.pending.Store(k, pendingMedia{path: path})
			return "", &AssemblyError{SessionID: sessionID, Stage: finalizeStage(kind), Path: path, Err: err}
		}
		s.supersede(k, path, l)
		source = path
	} else if p, ok := s.pending.Load(k); ok {
		if p.promoted {
			l.Infof("reusing %s promoted by an earlier attempt", p.path)
			return p.path, nil
		}
		l.Infof("retrying promotion of kept file %s", p.path)
		source = p.path
	} else {
		l.Debugf("no %s provided and no stream open", kind)
		return "", nil
	}

	durable, err := s.promoter.Promote(ctx, source, sessionID, kind)
	if err != nil {
		s.pending.Store(k, pendingMedia{path: source})
		return "", &AssemblyError{SessionID: sessionID, Stage: promoteStage(kind), Path: source, Err: err}
	}
	return durable, nil
}

// keepPromoted remembers artifacts promoted by an assembly that failed later on.
func (s *Service) keepPromoted(sessionID, videoPath, audioPath string) {
	for kind, path := range map[stream.Kind]string{stream.Video: videoPath, stream.Audio: audioPath} {
		if path != "" {
			s.pending.Store(pendingKey{sessionID, kind}, pendingMedia{path: path, promoted: true})
		}
	}
}

// supersede forgets pending media replaced by newer media, deleting a kept temp
// file unless it is the new source itself.
func (s *Service) supersede(k pendingKey, source string, l *logrus.Entry) {
	p, ok := s.pending.LoadAndDelete(k)
	if !ok || p.promoted || filepath.Clean(p.path) == filepath.Clean(source) {
		return
	}
	l.Warnf("discarding kept file %s, superseded by %s", p.path, source)
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		l.Warnf("cannot remove kept file: %v", err)
	}
}

// discardStream drops a chunked stream superseded by a whole file upload.
func (s *Service) discardStream(sessionID string, kind stream.Kind, l *logrus.Entry) {
	path, ok, err := s.streams.Finalize(sessionID, kind)
	if !ok {
		return
	}
	if err != nil {
		l.Warnf("error closing superseded stream: %v", err)
	}
	l.Warnf("%s uploaded as a file, discarding chunked stream %s", kind, path)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		l.Warnf("cannot remove superseded stream file: %v", err)
	}
}

func optional(path string) *string {
	if path == "" {
		return nil
	}
	return &path
}
