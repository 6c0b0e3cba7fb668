package recording

import (
	"encoding/json"
	"fmt"

	"github.com/eric2788/screenrec/internal/services/stream"
)

// RecordingEvent is one captured DOM event. Metadata is kept as sent by the client.
type RecordingEvent struct {
	Timestamp int64           `json:"timestamp"`
	Type      string          `json:"type"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type SessionMetadata struct {
	SessionID string    `json:"sessionId"`
	StartTime int64     `json:"startTime"`
	EndTime   int64     `json:"endTime"`
	URL       string    `json:"url"`
	Viewport  *Viewport `json:"viewport"`
}

// PersistedRecording is the JSON document written once per assembly.
type PersistedRecording struct {
	SessionID   string           `json:"sessionId"`
	StartTime   int64            `json:"startTime"`
	EndTime     int64            `json:"endTime"`
	URL         string           `json:"url"`
	Viewport    *Viewport        `json:"viewport"`
	Events      []RecordingEvent `json:"events"`
	VideoPath   *string          `json:"videoPath"`
	AudioPath   *string          `json:"audioPath"`
	ProcessedAt string           `json:"processedAt"`
}

// Request is the input of Assemble. An empty source means the chunked stream of
// that kind, if any, is finalized and used instead.
type Request struct {
	SessionID   string
	Events      []RecordingEvent
	Metadata    SessionMetadata
	VideoSource string
	AudioSource string
}

type Summary struct {
	Success         bool    `json:"success"`
	SessionID       string  `json:"sessionId"`
	Filename        string  `json:"filename"`
	EventsProcessed int     `json:"eventsProcessed"`
	Message         string  `json:"message"`
	VideoPath       *string `json:"videoPath"`
	AudioPath       *string `json:"audioPath"`
}

type Stage string

const (
	StageFinalizeVideo Stage = "finalize-video"
	StageFinalizeAudio Stage = "finalize-audio"
	StagePromoteVideo  Stage = "promote-video"
	StagePromoteAudio  Stage = "promote-audio"
	StageEncode        Stage = "encode"
	StagePersist       Stage = "persist"
)

func finalizeStage(kind stream.Kind) Stage {
	if kind == stream.Video {
		return StageFinalizeVideo
	}
	return StageFinalizeAudio
}

func promoteStage(kind stream.Kind) Stage {
	if kind == stream.Video {
		return StagePromoteVideo
	}
	return StagePromoteAudio
}

var ErrAssemblyPersistFailed = fmt.Errorf("cannot persist recording")

// AssemblyError reports the session and stage an assembly failed at. For failed
// promotions Path is the temp file that was kept. A retry of the session without
// sources picks it up again, along with media the failed attempt did promote.
type AssemblyError struct {
	SessionID string
	Stage     Stage
	Path      string
	Err       error
}

func (e *AssemblyError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("assembly of session %s failed at %s (kept %s): %v", e.SessionID, e.Stage, e.Path, e.Err)
	}
	return fmt.Sprintf("assembly of session %s failed at %s: %v", e.SessionID, e.Stage, e.Err)
}

func (e *AssemblyError) Unwrap() error { return e.Err }
