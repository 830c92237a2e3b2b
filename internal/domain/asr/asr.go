// Package asr turns PCM windows into transcript fragments tagged with the
// detected source language.
package asr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"speech-translate-server/internal/domain/audio"
	"speech-translate-server/internal/platform/config"
	platformerrors "speech-translate-server/internal/platform/errors"
	"speech-translate-server/internal/platform/logging"
)

var (
	// ErrUnsupportedLanguage is returned when the detected language is outside the allow-list.
	ErrUnsupportedLanguage = errors.New("unsupported source language")
	// ErrBackend wraps failures of the recognition backend itself.
	ErrBackend = errors.New("recognition backend error")
	// ErrEmptyRecognition is returned by callers that need speech, such as batch requests.
	ErrEmptyRecognition = errors.New("no speech detected")
)

// Fragment is the recognized text of one window.
type Fragment struct {
	Text     string
	Language string
}

// Request carries one window to a Recognizer.
type Request struct {
	PCM     []byte
	Format  audio.Format
	Allowed []string
	// ScratchDir receives temporary files for backends that need them.
	ScratchDir string
}

// Recognizer is the recognition capability. A nil fragment with a nil error
// means no speech was detected.
type Recognizer interface {
	Recognize(ctx context.Context, req Request) (*Fragment, error)
}

// UnsupportedLanguageError reports the language that was rejected.
type UnsupportedLanguageError struct {
	Language string
}

func (e *UnsupportedLanguageError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnsupportedLanguage.Error(), e.Language)
}

func (e *UnsupportedLanguageError) Unwrap() error { return ErrUnsupportedLanguage }

// New builds the recognizer named by cfg.Provider.
func New(cfg config.ASRConfig, logger *logging.Logger) (Recognizer, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		return NewWhisperAPI(cfg.OpenAI, logger), nil
	case "whispercpp":
		return NewWhisperCPP(cfg.WhisperCPP, logger), nil
	default:
		return nil, platformerrors.New(platformerrors.KindConfig, "asr.new", fmt.Sprintf("unknown asr provider %q", cfg.Provider))
	}
}

// finish applies the shared post-processing every backend needs: silence
// becomes nil and the language is normalized and checked.
func finish(text, lang string, allowed []string) (*Fragment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	code := NormalizeLanguage(lang)
	if !Allowed(code, allowed) {
		return nil, &UnsupportedLanguageError{Language: code}
	}
	return &Fragment{Text: text, Language: code}, nil
}

// Allowed reports whether code is in the allow-list. An empty list allows everything.
func Allowed(code string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if strings.EqualFold(NormalizeLanguage(a), code) {
			return true
		}
	}
	return false
}

func backendErr(op string, err error) error {
	return platformerrors.Wrap(platformerrors.KindRecognition, op, "recognition failed", fmt.Errorf("%w: %v", ErrBackend, err))
}
