package deepgram

type ListenOptions struct {
	Model     string
	Language  string
	Punctuate bool
	Diarize   bool
}

type ListenResponse struct {
	Metadata ListenMetadata `json:"metadata"`
	Results  ListenResults  `json:"results"`
}

type ListenMetadata struct {
	RequestID string  `json:"request_id"`
	Duration  float64 `json:"duration"`
	Channels  int     `json:"channels"`
	// model and language are reported per model in newer responses
	ModelInfo map[string]ModelInfo `json:"model_info"`
}

type ModelInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Arch    string `json:"arch"`
}

type ListenResults struct {
	Channels []Channel `json:"channels"`
}

type Channel struct {
	Alternatives     []Alternative `json:"alternatives"`
	DetectedLanguage string        `json:"detected_language,omitempty"`
}

type Alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

type ErrorResponse struct {
	ErrCode   string `json:"err_code"`
	ErrMsg    string `json:"err_msg"`
	RequestID string `json:"request_id"`
}

// Transcript is the first alternative of the first channel.
type Transcript struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Duration   float64 `json:"duration"`
	Model      string  `json:"model"`
	Language   string  `json:"language"`
	RequestID  string  `json:"requestId"`
}
