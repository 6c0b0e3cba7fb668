package postprocess

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/eric2788/screenrec/internal/modules/analyzer"
	"github.com/eric2788/screenrec/internal/modules/config"
	"github.com/eric2788/screenrec/internal/modules/mirror"
	"github.com/eric2788/screenrec/internal/modules/notify"
	"github.com/eric2788/screenrec/internal/modules/transcriber"
	"github.com/eric2788/screenrec/internal/services/recording"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/sirupsen/logrus"
	"go.uber.org/fx"
	"golang.org/x/sync/semaphore"
)

var logger = logrus.WithField("service", "postprocess")

// Result is published once all post processing of a record finished.
type Result struct {
	SessionID   string   `json:"sessionId"`
	RecordPath  string   `json:"recordPath"`
	Transcript  string   `json:"transcript,omitempty"`
	Confidence  float64  `json:"confidence,omitempty"`
	Analyzed    bool     `json:"analyzed"`
	Mirrored    []string `json:"mirrored,omitempty"`
	Errors      []string `json:"errors,omitempty"`
	CompletedAt string   `json:"completedAt"`
}

type Service struct {
	transcriber transcriber.Transcriber
	analyzer    analyzer.Analyzer
	mirror      mirror.Mirror
	notifier    notify.Notifier

	sem      *semaphore.Weighted
	inflight *xsync.Map[string, struct{}]
	files    *xsync.Map[string, int]
	wg       sync.WaitGroup
	ctx      context.Context
}

func NewService(
	lc fx.Lifecycle,
	cfg *config.Config,
	tr transcriber.Transcriber,
	an analyzer.Analyzer,
	mi mirror.Mirror,
	no notify.Notifier,
) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(ctx, cfg.MaxBackgroundJobs, tr, an, mi, no)
	lc.Append(fx.StopHook(func() {
		cancel()
		s.Wait()
	}))
	return s
}

func New(ctx context.Context, maxJobs int, tr transcriber.Transcriber, an analyzer.Analyzer, mi mirror.Mirror, no notify.Notifier) *Service {
	return &Service{
		transcriber: tr,
		analyzer:    an,
		mirror:      mi,
		notifier:    no,
		sem:         semaphore.NewWeighted(int64(max(maxJobs, 1))),
		inflight:    xsync.NewMap[string, struct{}](),
		files:       xsync.NewMap[string, int](),
		ctx:         ctx,
	}
}

// OnAssembled schedules post processing of a persisted record and returns at once.
func (s *Service) OnAssembled(rec *recording.PersistedRecording, recordPath string) {
	if !s.transcriber.Enabled() && !s.mirror.Enabled() && !s.notifier.Enabled() {
		return
	}
	if _, loaded := s.inflight.LoadOrStore(recordPath, struct{}{}); loaded {
		logger.Warnf("record %s is already being processed, skipped", recordPath)
		return
	}
	paths := touchedFiles(rec, recordPath)
	s.hold(paths, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inflight.Delete(recordPath)
		defer s.hold(paths, -1)
		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			logger.Warnf("post processing of %s cancelled: %v", recordPath, err)
			return
		}
		defer s.sem.Release(1)
		s.process(rec, recordPath)
	}()
}

// Pending returns how many records are queued or being processed.
func (s *Service) Pending() int {
	return s.inflight.Size()
}

// IsProcessing reports whether a file is still read by a queued or running job.
func (s *Service) IsProcessing(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	_, ok := s.files.Load(abs)
	return ok
}

func (s *Service) hold(paths []string, delta int) {
	for _, p := range paths {
		s.files.Compute(p, func(n int, _ bool) (int, xsync.ComputeOp) {
			if n+delta <= 0 {
				return 0, xsync.DeleteOp
			}
			return n + delta, xsync.UpdateOp
		})
	}
}

func touchedFiles(rec *recording.PersistedRecording, recordPath string) []string {
	var out []string
	for _, p := range []*string{rec.VideoPath, rec.AudioPath, &recordPath} {
		if p == nil {
			continue
		}
		if abs, err := filepath.Abs(*p); err == nil {
			out = append(out, abs)
		}
	}
	return out
}

func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) process(rec *recording.PersistedRecording, recordPath string) {
	l := logger.WithField("session", rec.SessionID)
	start := time.Now()
	result := &Result{SessionID: rec.SessionID, RecordPath: recordPath}

	if rec.AudioPath != nil && s.transcriber.Enabled() {
		s.transcribe(rec, result, l)
	} else if rec.AudioPath == nil {
		l.Debug("no audio, skipping transcription")
	}

	if s.mirror.Enabled() {
		for _, p := range []*string{rec.VideoPath, rec.AudioPath, &recordPath} {
			if p == nil {
				continue
			}
			uri, err := s.mirror.Upload(s.ctx, *p, mirror.ObjectName(rec.SessionID, *p))
			if err != nil {
				l.Errorf("error mirroring %s: %v", *p, err)
				result.Errors = append(result.Errors, err.Error())
				continue
			}
			result.Mirrored = append(result.Mirrored, uri)
		}
	}

	result.CompletedAt = time.Now().UTC().Format(time.RFC3339)
	s.publish(notify.ProcessedChannel(rec.SessionID), result, l)
	l.Infof("post processing finished in %v", time.Since(start).Round(time.Millisecond))
}

func (s *Service) transcribe(rec *recording.PersistedRecording, result *Result, l *logrus.Entry) {
	transcript, err := s.transcriber.Transcribe(s.ctx, *rec.AudioPath)
	if err != nil {
		l.Errorf("error processing audio with deepgram: %v", err)
		result.Errors = append(result.Errors, err.Error())
		return
	}
	result.Transcript = transcript.Text
	result.Confidence = transcript.Confidence
	s.publish(notify.TranscriptionChannel(rec.SessionID), transcript, l)

	if strings.TrimSpace(transcript.Text) == "" {
		l.Warn("transcribed text is empty, skipping analysis")
		return
	}
	if !s.analyzer.Enabled() {
		return
	}

	payload, err := analysisPayload(rec, transcript.Text)
	if err != nil {
		l.Errorf("cannot encode analysis payload: %v", err)
		result.Errors = append(result.Errors, err.Error())
		return
	}
	if _, err := s.analyzer.Analyze(s.ctx, payload); err != nil {
		l.Errorf("error sending to analysis service: %v", err)
		result.Errors = append(result.Errors, err.Error())
		return
	}
	result.Analyzed = true
}

func (s *Service) publish(channel string, payload any, l *logrus.Entry) {
	if !s.notifier.Enabled() {
		return
	}
	if err := s.notifier.Publish(s.ctx, channel, payload); err != nil {
		l.Warnf("cannot publish to %s: %v", channel, err)
	}
}

func analysisPayload(rec *recording.PersistedRecording, text string) (*analyzer.Payload, error) {
	events, err := json.Marshal(rec.Events)
	if err != nil {
		return nil, err
	}
	metadata, err := json.Marshal(recording.SessionMetadata{
		SessionID: rec.SessionID,
		StartTime: rec.StartTime,
		EndTime:   rec.EndTime,
		URL:       rec.URL,
		Viewport:  rec.Viewport,
	})
	if err != nil {
		return nil, err
	}
	return &analyzer.Payload{Text: text, Events: events, Metadata: metadata}, nil
}

var Module = fx.Module("postprocess",
	fx.Provide(NewService),
	fx.Provide(
		fx.Annotate(
			func(s *Service) recording.Listener { return s },
			fx.ResultTags(`group:"recording.listeners"`),
		),
	),
)
