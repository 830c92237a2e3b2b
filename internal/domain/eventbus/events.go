package eventbus

import "time"

// Topics published by live sessions and batch jobs.
const (
	EventSessionStarted = "session:started"
	EventSessionWindow  = "session:window"
	EventSessionClosed  = "session:closed"

	EventBatchCompleted = "batch:completed"
)

// Window outcomes carried by EventSessionWindow.
const (
	OutcomeDelivered   = "delivered"
	OutcomeSilence     = "silence"
	OutcomeUnsupported = "unsupported_language"
	OutcomeTranslation = "translation_error"
	OutcomeSynthesis   = "synthesis_error"
	OutcomeRecognition = "recognition_error"
	OutcomeCancelled   = "cancelled"
)

// SessionEventData is the payload of every session topic. Fields that do not
// apply to a topic are left zero.
type SessionEventData struct {
	SessionID  string        `json:"session_id"`
	URL        string        `json:"url,omitempty"`
	TargetLang string        `json:"target_lang,omitempty"`
	Window     int           `json:"window,omitempty"`
	Detected   string        `json:"detected_language,omitempty"`
	Outcome    string        `json:"outcome,omitempty"`
	Windows    int           `json:"windows,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// BatchEventData describes a finished batch request.
type BatchEventData struct {
	ID         string        `json:"id,omitempty"`
	Kind       string        `json:"kind"`
	TargetLang string        `json:"target_lang"`
	Detected   string        `json:"detected_language,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	Timestamp  time.Time     `json:"timestamp"`
}
