package tts

import (
	"context"
	"errors"
	"strings"

	"github.com/wujunwei928/edge-tts-go/edge_tts"

	"speech-translate-server/internal/platform/config"
	"speech-translate-server/internal/platform/logging"
)

const edgeReceiveTimeout = 20

type edgeStreamFunc func(text string, opts ...edge_tts.CommunicateOption) ([]byte, error)

func edgeStream(text string, opts ...edge_tts.CommunicateOption) ([]byte, error) {
	conn, err := edge_tts.NewCommunicate(text, opts...)
	if err != nil {
		return nil, err
	}
	return conn.Stream()
}

// Edge synthesizes with Microsoft Edge neural voices, picked per target language.
type Edge struct {
	voices       map[string]string
	defaultVoice string
	rate         string
	volume       string
	pitch        string
	stream       edgeStreamFunc
	logger       *logging.Logger
}

// NewEdge builds the Edge backend. Configured voices are layered over config.DefaultVoices.
func NewEdge(cfg config.EdgeConfig, logger *logging.Logger) *Edge {
	voices := make(map[string]string, len(config.DefaultVoices)+len(cfg.Voices))
	for lang, voice := range config.DefaultVoices {
		voices[lang] = voice
	}
	for lang, voice := range cfg.Voices {
		voices[strings.ToLower(lang)] = voice
	}
	defaultVoice := cfg.DefaultVoice
	if defaultVoice == "" {
		defaultVoice = voices["en"]
	}
	return &Edge{
		voices:       voices,
		defaultVoice: defaultVoice,
		rate:         cfg.Rate,
		volume:       cfg.Volume,
		pitch:        cfg.Pitch,
		stream:       edgeStream,
		logger:       logger,
	}
}

// Voice returns the neural voice used for targetLang.
func (e *Edge) Voice(targetLang string) string {
	lang := strings.ToLower(targetLang)
	if v, ok := e.voices[lang]; ok {
		return v
	}
	if base, _, found := strings.Cut(lang, "-"); found {
		if v, ok := e.voices[base]; ok {
			return v
		}
	}
	return e.defaultVoice
}

func (e *Edge) options(voice string) []edge_tts.CommunicateOption {
	opts := []edge_tts.CommunicateOption{
		edge_tts.SetVoice(voice),
		edge_tts.SetReceiveTimeout(edgeReceiveTimeout),
	}
	if e.rate != "" {
		opts = append(opts, edge_tts.SetRate(e.rate))
	}
	if e.volume != "" {
		opts = append(opts, edge_tts.SetVolume(e.volume))
	}
	if e.pitch != "" {
		opts = append(opts, edge_tts.SetPitch(e.pitch))
	}
	return opts
}

func (e *Edge) Synthesize(ctx context.Context, text, targetLang string) (Clip, error) {
	voice := e.Voice(targetLang)

	type result struct {
		data []byte
		err  error
	}
	// the edge client has no context support, so the call is abandoned on cancel
	done := make(chan result, 1)
	go func() {
		data, err := e.stream(text, e.options(voice)...)
		done <- result{data: data, err: err}
	}()

	select {
	case <-ctx.Done():
		return Clip{}, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return Clip{}, backendErr("tts.edge", res.err)
		}
		if len(res.data) == 0 {
			return Clip{}, backendErr("tts.edge", errors.New("empty audio"))
		}
		e.logger.DebugTag("TTS", "edge voice=%s bytes=%d", voice, len(res.data))
		return newClip(res.data), nil
	}
}
