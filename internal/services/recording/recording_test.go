package recording_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eric2788/screenrec/internal/modules/config"
	"github.com/eric2788/screenrec/internal/services/promote"
	"github.com/eric2788/screenrec/internal/services/recording"
	"github.com/eric2788/screenrec/internal/services/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

type env struct {
	cfg       *config.Config
	streams   *stream.Service
	promoter  *promote.Service
	index     *recording.Index
	recording *recording.Service
}

func setup(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	t.Setenv("UPLOAD_DIR", filepath.Join(root, "uploads"))
	t.Setenv("RECORDINGS_DIR", filepath.Join(root, "recordings"))
	t.Setenv("DATABASE_DIR", filepath.Join(root, "database"))
	t.Setenv("PROMOTE_RETRIES", "0")
	t.Setenv("STREAM_IDLE_MINUTES", "0")

	e := &env{}
	app := fxtest.New(t,
		config.Module,
		fx.Provide(
			stream.NewService,
			promote.NewService,
			recording.NewIndex,
			recording.NewService,
		),
		fx.Populate(&e.cfg, &e.streams, &e.promoter, &e.index, &e.recording),
	)
	app.RequireStart()
	t.Cleanup(app.RequireStop)
	return e
}

func readRecord(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(data, &rec))
	return rec
}

func TestAssembleWithoutMedia(t *testing.T) {
	e := setup(t)

	summary, err := e.recording.Assemble(context.Background(), recording.Request{
		Events: []recording.RecordingEvent{
			{Timestamp: 1000, Type: "click", Metadata: json.RawMessage(`{}`)},
		},
		Metadata: recording.SessionMetadata{
			SessionID: "s2",
			StartTime: 0,
			EndTime:   5000,
			URL:       "http://x",
			Viewport:  &recording.Viewport{Width: 800, Height: 600},
		},
	})
	require.NoError(t, err)

	assert.True(t, summary.Success)
	assert.Equal(t, "s2", summary.SessionID)
	assert.Equal(t, 1, summary.EventsProcessed)
	assert.Nil(t, summary.VideoPath)
	assert.Nil(t, summary.AudioPath)
	assert.Equal(t, "Recording saved successfully", summary.Message)
	assert.Regexp(t, regexp.MustCompile(`^recording_s2_\d+\.json$`), summary.Filename)

	rec := readRecord(t, filepath.Join(e.cfg.RecordingsDir, summary.Filename))
	assert.Equal(t, "s2", rec["sessionId"])
	assert.EqualValues(t, 0, rec["startTime"])
	assert.EqualValues(t, 5000, rec["endTime"])
	assert.Equal(t, "http://x", rec["url"])
	assert.Equal(t, map[string]any{"width": 800.0, "height": 600.0}, rec["viewport"])
	assert.Contains(t, rec, "videoPath")
	assert.Nil(t, rec["videoPath"])
	assert.Contains(t, rec, "audioPath")
	assert.Nil(t, rec["audioPath"])

	events := rec["events"].([]any)
	require.Len(t, events, 1)
	assert.Equal(t, map[string]any{"timestamp": 1000.0, "type": "click", "metadata": map[string]any{}}, events[0])

	processedAt, err := time.Parse(time.RFC3339Nano, rec["processedAt"].(string))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), processedAt, time.Minute)
}

func TestRecordIsPrettyPrinted(t *testing.T) {
	e := setup(t)

	summary, err := e.recording.Assemble(context.Background(), recording.Request{
		Metadata: recording.SessionMetadata{SessionID: "pretty"},
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(e.cfg.RecordingsDir, summary.Filename))
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile("^\\{\n  \"sessionId\": \"pretty\",\n"), string(data))
	assert.Contains(t, string(data), `"events": []`)
}

func TestAssembleChunkedVideoAndUploadedAudio(t *testing.T) {
	e := setup(t)

	_, err := e.streams.Append("s1", stream.Video, []byte("AAA"))
	require.NoError(t, err)
	_, err = e.streams.Append("s1", stream.Video, []byte("BBB"))
	require.NoError(t, err)
	temp, _ := e.streams.CurrentPath("s1", stream.Video)

	upload := filepath.Join(e.cfg.UploadDir, "upload-audio.webm")
	require.NoError(t, os.WriteFile(upload, []byte("audio"), 0644))

	summary, err := e.recording.Assemble(context.Background(), recording.Request{
		SessionID:   "s1",
		Metadata:    recording.SessionMetadata{SessionID: "ignored"},
		AudioSource: upload,
	})
	require.NoError(t, err)
	assert.Equal(t, "s1", summary.SessionID, "the explicit session wins over the metadata")

	require.NotNil(t, summary.VideoPath)
	require.NotNil(t, summary.AudioPath)
	assert.Equal(t, "recording_s1_video.webm", filepath.Base(*summary.VideoPath))
	assert.Equal(t, "recording_s1_audio.webm", filepath.Base(*summary.AudioPath))

	data, err := os.ReadFile(*summary.VideoPath)
	require.NoError(t, err)
	assert.Equal(t, "AAABBB", string(data))

	_, err = os.Stat(temp)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(upload)
	assert.True(t, os.IsNotExist(err))

	_, ok := e.streams.CurrentPath("s1", stream.Video)
	assert.False(t, ok)

	rec := readRecord(t, filepath.Join(e.cfg.RecordingsDir, summary.Filename))
	assert.Equal(t, *summary.VideoPath, rec["videoPath"])
	assert.Equal(t, *summary.AudioPath, rec["audioPath"])
}

func TestUploadSupersedesStream(t *testing.T) {
	e := setup(t)

	_, err := e.streams.Append("s1", stream.Audio, []byte("chunked"))
	require.NoError(t, err)
	temp, _ := e.streams.CurrentPath("s1", stream.Audio)

	upload := filepath.Join(e.cfg.UploadDir, "whole.webm")
	require.NoError(t, os.WriteFile(upload, []byte("whole"), 0644))

	summary, err := e.recording.Assemble(context.Background(), recording.Request{
		SessionID:   "s1",
		AudioSource: upload,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(*summary.AudioPath)
	require.NoError(t, err)
	assert.Equal(t, "whole", string(data))

	_, err = os.Stat(temp)
	assert.True(t, os.IsNotExist(err), "the superseded stream file is dropped")
}

func TestAssembleTwiceNeverOverwrites(t *testing.T) {
	e := setup(t)

	req := recording.Request{Metadata: recording.SessionMetadata{SessionID: "again"}}
	first, err := e.recording.Assemble(context.Background(), req)
	require.NoError(t, err)
	second, err := e.recording.Assemble(context.Background(), req)
	require.NoError(t, err)

	assert.NotEqual(t, first.Filename, second.Filename)
	assert.FileExists(t, filepath.Join(e.cfg.RecordingsDir, first.Filename))
	assert.FileExists(t, filepath.Join(e.cfg.RecordingsDir, second.Filename))

	records, err := e.recording.Records("again")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, first.Filename, records[0].Filename)
	assert.Equal(t, second.Filename, records[1].Filename)
}

func TestConcurrentAssembliesGetDistinctFiles(t *testing.T) {
	e := setup(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	names := make(map[string]struct{})
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			summary, err := e.recording.Assemble(context.Background(), recording.Request{
				Metadata: recording.SessionMetadata{SessionID: "burst"},
			})
			if err != nil {
				t.Errorf("assemble failed: %v", err)
				return
			}
			mu.Lock()
			names[summary.Filename] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, names, 20)
}

func TestDefaultSession(t *testing.T) {
	e := setup(t)

	_, err := e.streams.Append(e.cfg.DefaultSessionID, stream.Video, []byte("v"))
	require.NoError(t, err)

	summary, err := e.recording.Assemble(context.Background(), recording.Request{})
	require.NoError(t, err)
	assert.Equal(t, e.cfg.DefaultSessionID, summary.SessionID)
	require.NotNil(t, summary.VideoPath)
}

func TestPersistFailure(t *testing.T) {
	e := setup(t)

	// a regular file where the recordings directory should be
	require.NoError(t, os.WriteFile(e.cfg.RecordingsDir, []byte("not a dir"), 0644))

	summary, err := e.recording.Assemble(context.Background(), recording.Request{
		Metadata: recording.SessionMetadata{SessionID: "s3"},
	})
	require.Error(t, err)
	assert.Nil(t, summary)
	assert.ErrorIs(t, err, recording.ErrAssemblyPersistFailed)

	var asmErr *recording.AssemblyError
	require.ErrorAs(t, err, &asmErr)
	assert.Equal(t, "s3", asmErr.SessionID)
	assert.Equal(t, recording.StagePersist, asmErr.Stage)

	records, err := e.recording.Records("s3")
	require.NoError(t, err)
	assert.Empty(t, records)
}

type brokenPromoter struct{}

func (brokenPromoter) Promote(ctx context.Context, tempPath, sessionID string, kind stream.Kind) (string, error) {
	return "", &promote.PromotionError{SessionID: sessionID, Kind: kind, Source: tempPath, Err: errors.New("disk full")}
}

func TestPromotionFailureKeepsTempFile(t *testing.T) {
	e := setup(t)

	_, err := e.streams.Append("s4", stream.Video, []byte("AAABBB"))
	require.NoError(t, err)

	broken := recording.New(e.cfg, e.streams, brokenPromoter{}, e.index)
	_, err = broken.Assemble(context.Background(), recording.Request{SessionID: "s4"})
	require.Error(t, err)
	assert.ErrorIs(t, err, promote.ErrPromotionFailed)

	var asmErr *recording.AssemblyError
	require.ErrorAs(t, err, &asmErr)
	assert.Equal(t, recording.StagePromoteVideo, asmErr.Stage)
	require.NotEmpty(t, asmErr.Path)

	data, err := os.ReadFile(asmErr.Path)
	require.NoError(t, err)
	assert.Equal(t, "AAABBB", string(data))

	entries, _ := os.ReadDir(e.cfg.RecordingsDir)
	for _, entry := range entries {
		assert.NotRegexp(t, `\.json$`, entry.Name(), "no record may be written")
	}

	// retrying with the kept file as source completes the assembly
	summary, err := e.recording.Assemble(context.Background(), recording.Request{SessionID: "s4", VideoSource: asmErr.Path})
	require.NoError(t, err)
	require.NotNil(t, summary.VideoPath)
	data, err = os.ReadFile(*summary.VideoPath)
	require.NoError(t, err)
	assert.Equal(t, "AAABBB", string(data))
}

// flakyPromoter fails video promotions while failVideo is set.
type flakyPromoter struct {
	recording.Promoter
	failVideo atomic.Bool
}

func (p *flakyPromoter) Promote(ctx context.Context, tempPath, sessionID string, kind stream.Kind) (string, error) {
	if kind == stream.Video && p.failVideo.Load() {
		return brokenPromoter{}.Promote(ctx, tempPath, sessionID, kind)
	}
	return p.Promoter.Promote(ctx, tempPath, sessionID, kind)
}

func TestRetryAfterPartialPromotionFailure(t *testing.T) {
	e := setup(t)
	flaky := &flakyPromoter{Promoter: e.promoter}
	flaky.failVideo.Store(true)
	svc := recording.New(e.cfg, e.streams, flaky, e.index)

	_, err := e.streams.Append("s9", stream.Video, []byte("VVV"))
	require.NoError(t, err)
	_, err = e.streams.Append("s9", stream.Audio, []byte("AAA"))
	require.NoError(t, err)

	_, err = svc.Assemble(context.Background(), recording.Request{SessionID: "s9"})
	var asmErr *recording.AssemblyError
	require.ErrorAs(t, err, &asmErr)
	assert.Equal(t, recording.StagePromoteVideo, asmErr.Stage)
	require.FileExists(t, asmErr.Path)

	flaky.failVideo.Store(false)
	summary, err := svc.Assemble(context.Background(), recording.Request{SessionID: "s9"})
	require.NoError(t, err)
	require.NotNil(t, summary.VideoPath, "the kept video is promoted on retry")
	require.NotNil(t, summary.AudioPath, "audio promoted by the failed attempt is not lost")

	data, err := os.ReadFile(*summary.VideoPath)
	require.NoError(t, err)
	assert.Equal(t, "VVV", string(data))
	data, err = os.ReadFile(*summary.AudioPath)
	require.NoError(t, err)
	assert.Equal(t, "AAA", string(data))
	assert.NoFileExists(t, asmErr.Path)

	rec := readRecord(t, filepath.Join(e.cfg.RecordingsDir, summary.Filename))
	assert.Equal(t, *summary.VideoPath, rec["videoPath"])
	assert.Equal(t, *summary.AudioPath, rec["audioPath"])

	// once a record is written nothing is carried into the next one
	summary, err = svc.Assemble(context.Background(), recording.Request{SessionID: "s9"})
	require.NoError(t, err)
	assert.Nil(t, summary.VideoPath)
	assert.Nil(t, summary.AudioPath)
}

func TestRetryWithKeptPathKeepsPromotedAudio(t *testing.T) {
	e := setup(t)
	flaky := &flakyPromoter{Promoter: e.promoter}
	flaky.failVideo.Store(true)
	svc := recording.New(e.cfg, e.streams, flaky, e.index)

	_, err := e.streams.Append("s10", stream.Video, []byte("VVV"))
	require.NoError(t, err)
	_, err = e.streams.Append("s10", stream.Audio, []byte("AAA"))
	require.NoError(t, err)

	_, err = svc.Assemble(context.Background(), recording.Request{SessionID: "s10"})
	var asmErr *recording.AssemblyError
	require.ErrorAs(t, err, &asmErr)

	flaky.failVideo.Store(false)
	summary, err := svc.Assemble(context.Background(), recording.Request{SessionID: "s10", VideoSource: asmErr.Path})
	require.NoError(t, err)
	require.NotNil(t, summary.VideoPath)
	require.NotNil(t, summary.AudioPath)
}

type recordingListener struct {
	mu    sync.Mutex
	paths []string
}

func (l *recordingListener) OnAssembled(rec *recording.PersistedRecording, recordPath string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paths = append(l.paths, recordPath)
}

func TestListenersAreNotified(t *testing.T) {
	e := setup(t)

	listener := &recordingListener{}
	svc := recording.New(e.cfg, e.streams, e.promoter, nil, listener)

	summary, err := svc.Assemble(context.Background(), recording.Request{SessionID: "s5"})
	require.NoError(t, err)

	require.Len(t, listener.paths, 1)
	assert.Equal(t, filepath.Join(e.cfg.RecordingsDir, summary.Filename), listener.paths[0])

	records, err := svc.Records("s5")
	require.NoError(t, err)
	assert.Empty(t, records, "no index configured")
}
