package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/eric2788/screenrec/internal/modules/config"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"go.uber.org/fx"
)

var logger = logrus.WithField("module", "analyzer")

var ErrDisabled = fmt.Errorf("analysis service is not configured")

// Payload is what the downstream analysis service receives for one recording.
type Payload struct {
	Text     string          `json:"text"`
	Events   json.RawMessage `json:"events"`
	Metadata json.RawMessage `json:"metadata"`
}

// Analyzer forwards a transcript together with the DOM events of its session.
type Analyzer interface {
	Analyze(ctx context.Context, payload *Payload) (json.RawMessage, error)
	Enabled() bool
}

type httpAnalyzer struct {
	client *resty.Client
	url    string
}

func provider(cfg *config.Config) Analyzer {
	if cfg.AnalysisURL == "" {
		logger.Warn("ANALYSIS_URL not set, analysis disabled")
		return disabled{}
	}
	return New(cfg.AnalysisURL, time.Duration(cfg.AnalysisTimeoutSeconds)*time.Second)
}

// New posts payloads as JSON to url.
func New(url string, timeout time.Duration) Analyzer {
	return &httpAnalyzer{
		url: url,
		client: resty.New().
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json").
			SetTimeout(timeout),
	}
}

func (h *httpAnalyzer) Enabled() bool { return true }

func (h *httpAnalyzer) Analyze(ctx context.Context, payload *Payload) (json.RawMessage, error) {
	res, err := h.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(h.url)
	if err != nil {
		return nil, err
	} else if res.IsError() {
		return nil, fmt.Errorf("analysis failed with status code %d: %s", res.StatusCode(), res.String())
	}
	logger.Debugf("analysis responded with %d bytes", len(res.Body()))
	return json.RawMessage(res.Body()), nil
}

type disabled struct{}

func (disabled) Enabled() bool { return false }

func (disabled) Analyze(ctx context.Context, payload *Payload) (json.RawMessage, error) {
	return nil, ErrDisabled
}

var Module = fx.Module("analyzer", fx.Provide(provider))
