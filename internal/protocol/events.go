package protocol

import "time"

// Subjects for the optional NATS lifecycle-event stream.
const (
	SubjectSynthesisStarted   = "hibiki.synthesis.started"
	SubjectSynthesisCompleted = "hibiki.synthesis.completed"
	SubjectModelLoaded        = "hibiki.model.loaded"
	SubjectModelUnloaded      = "hibiki.model.unloaded"
)

// SynthesisEvent describes one synthesis request's lifecycle.
type SynthesisEvent struct {
	RequestID  string    `json:"request_id"`
	StyleID    uint32    `json:"style_id"`
	ModelID    uint32    `json:"model_id,omitempty"`
	TextChars  int       `json:"text_chars"`
	AudioBytes int       `json:"audio_bytes,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ModelEvent describes a model load or unload at the engine boundary.
type ModelEvent struct {
	ModelID   uint32    `json:"model_id"`
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}
