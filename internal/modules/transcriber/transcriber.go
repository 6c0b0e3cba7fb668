package transcriber

import (
	"context"
	"fmt"
	"time"

	"github.com/eric2788/screenrec/internal/modules/config"
	"github.com/eric2788/screenrec/pkg/deepgram"
	"github.com/sirupsen/logrus"
	"go.uber.org/fx"
)

var logger = logrus.WithField("module", "transcriber")

var ErrDisabled = fmt.Errorf("transcription is not configured")

// Transcriber turns a durable audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (*deepgram.Transcript, error)
	Enabled() bool
}

type deepgramTranscriber struct {
	client *deepgram.Client
	opts   *deepgram.ListenOptions
}

func provider(lc fx.Lifecycle, cfg *config.Config) Transcriber {
	if cfg.DeepgramApiKey == "" {
		logger.Warn("DEEPGRAM_API_KEY not set, transcription disabled")
		return disabled{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.StopHook(cancel))
	return New(ctx, cfg)
}

func New(ctx context.Context, cfg *config.Config, options ...deepgram.ClientOption) Transcriber {
	return &deepgramTranscriber{
		client: deepgram.NewClient(ctx, cfg.DeepgramApiKey, options...),
		opts: &deepgram.ListenOptions{
			Model:     cfg.DeepgramModel,
			Language:  cfg.DeepgramLanguage,
			Punctuate: true,
		},
	}
}

func (d *deepgramTranscriber) Enabled() bool { return true }

func (d *deepgramTranscriber) Transcribe(ctx context.Context, audioPath string) (*deepgram.Transcript, error) {
	l := logger.WithField("file", audioPath)
	l.Info("starting transcription")
	start := time.Now()

	type result struct {
		t   *deepgram.Transcript
		err error
	}
	ch := make(chan result, 1)
	go func() {
		t, err := d.client.TranscribeFile(audioPath, d.opts)
		ch <- result{t, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		l.Infof("transcription completed in %v, %d characters, confidence %.2f",
			time.Since(start).Round(time.Millisecond), len(res.t.Text), res.t.Confidence)
		return res.t, nil
	}
}

type disabled struct{}

func (disabled) Enabled() bool { return false }

func (disabled) Transcribe(ctx context.Context, audioPath string) (*deepgram.Transcript, error) {
	return nil, ErrDisabled
}

var Module = fx.Module("transcriber", fx.Provide(provider))
