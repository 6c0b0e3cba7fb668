package deepgram

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var mimeTypes = map[string]string{
	".webm": "audio/webm",
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/m4a",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
	".mp4":  "audio/mp4",
}

// MimeType guesses the audio content type from the file extension, defaulting to webm.
func MimeType(path string) string {
	if mime, ok := mimeTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return mime
	}
	return "audio/webm"
}

// TranscribeFile sends the audio file at path to the prerecorded listen endpoint.
func (c *Client) TranscribeFile(path string, opts *ListenOptions) (*Transcript, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return c.Transcribe(f, MimeType(path), opts)
}

func (c *Client) Transcribe(audio io.Reader, mimeType string, opts *ListenOptions) (*Transcript, error) {
	req := c.client.R().
		SetContext(c.ctx).
		SetHeader("Content-Type", mimeType).
		SetBody(audio).
		SetResult(&ListenResponse{}).
		SetError(&ErrorResponse{})

	if opts != nil {
		params := map[string]string{
			"punctuate": strconv.FormatBool(opts.Punctuate),
			"diarize":   strconv.FormatBool(opts.Diarize),
		}
		if opts.Model != "" {
			params["model"] = opts.Model
		}
		if opts.Language != "" {
			params["language"] = opts.Language
		}
		req.SetQueryParams(params)
	}

	res, err := req.Post("listen")
	if err != nil {
		return nil, err
	}
	if res.IsError() {
		if e, ok := res.Error().(*ErrorResponse); ok && e.ErrMsg != "" {
			return nil, fmt.Errorf("deepgram transcription failed with status code %d: %s: %s", res.StatusCode(), e.ErrCode, e.ErrMsg)
		}
		return nil, fmt.Errorf("deepgram transcription failed with status code %d: %s", res.StatusCode(), res.String())
	}

	body, ok := res.Result().(*ListenResponse)
	if !ok || body == nil {
		return nil, fmt.Errorf("no transcription results returned from deepgram")
	}

	t := &Transcript{
		Duration:  body.Metadata.Duration,
		RequestID: body.Metadata.RequestID,
	}
	if opts != nil {
		t.Model, t.Language = opts.Model, opts.Language
	}
	for _, info := range body.Metadata.ModelInfo {
		t.Model = info.Name
		break
	}
	if len(body.Results.Channels) > 0 {
		ch := body.Results.Channels[0]
		if ch.DetectedLanguage != "" {
			t.Language = ch.DetectedLanguage
		}
		if len(ch.Alternatives) > 0 {
			t.Text = ch.Alternatives[0].Transcript
			t.Confidence = ch.Alternatives[0].Confidence
		}
	}
	return t, nil
}
