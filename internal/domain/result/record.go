// Package result holds finished batch translations.
package result

import "time"

// Kinds of batch requests.
const (
	KindUpload = "upload"
	KindVideo  = "video"
)

// Segment is the recognition of one slice of a longer input.
type Segment struct {
	Index    int     `json:"index"`
	Start    float64 `json:"start_seconds"`
	Duration float64 `json:"duration_seconds"`
	Language string  `json:"language,omitempty"`
	Text     string  `json:"text"`
}

// Record is one batch translation as returned to clients and persisted by a store.
type Record struct {
	ID               string     `json:"id"`
	Kind             string     `json:"kind"`
	Source           string     `json:"source,omitempty"`
	DetectedLanguage string     `json:"detected_language"`
	TargetLanguage   string     `json:"target_language"`
	OriginalText     string     `json:"original_text"`
	TranslatedText   string     `json:"translated_text"`
	AudioURL         string     `json:"audio_url,omitempty"`
	Segments         []Segment  `json:"segments,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the record is past its expiry at now.
func (r Record) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}
