// Package tts synthesizes translated text into compressed speech clips.
package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hajimehoshi/go-mp3"

	"speech-translate-server/internal/platform/config"
	platformerrors "speech-translate-server/internal/platform/errors"
	"speech-translate-server/internal/platform/logging"
)

// ErrBackend wraps any failure of the synthesis backend.
var ErrBackend = errors.New("synthesis backend error")

// FormatMP3 is the only clip encoding produced by the bundled backends.
const FormatMP3 = "mp3"

// Clip is one synthesized utterance. It is sent and then dropped.
type Clip struct {
	Data     []byte
	Format   string
	Duration time.Duration
}

// Synthesizer is the synthesis capability.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, targetLang string) (Clip, error)
}

// New builds the synthesizer for cfg.Provider.
func New(cfg config.TTSConfig, logger *logging.Logger) (Synthesizer, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "edge":
		return NewEdge(cfg.Edge, logger), nil
	case "openai":
		return NewOpenAI(cfg.OpenAI, logger), nil
	default:
		return nil, platformerrors.New(platformerrors.KindConfig, "tts.new", fmt.Sprintf("unknown tts provider %q", cfg.Provider))
	}
}

func newClip(data []byte) Clip {
	return Clip{Data: data, Format: FormatMP3, Duration: MP3Duration(data)}
}

// MP3Duration decodes data to measure its length. Undecodable input yields zero.
func MP3Duration(data []byte) time.Duration {
	if len(data) == 0 {
		return 0
	}
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return 0
	}
	rate := dec.SampleRate()
	length := dec.Length()
	if rate <= 0 || length <= 0 {
		return 0
	}
	// go-mp3 always produces 16-bit stereo
	samples := length / 4
	return time.Duration(samples) * time.Second / time.Duration(rate)
}

func backendErr(op string, err error) error {
	return platformerrors.Wrap(platformerrors.KindSynthesis, op, "synthesis failed", fmt.Errorf("%w: %v", ErrBackend, err))
}
