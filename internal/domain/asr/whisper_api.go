package asr

import (
	"bytes"
	"context"
	"time"

	"github.com/sashabaranov/go-openai"

	"speech-translate-server/internal/domain/audio"
	"speech-translate-server/internal/platform/config"
	"speech-translate-server/internal/platform/logging"
)

// WhisperAPI recognizes windows through an OpenAI compatible transcription endpoint.
type WhisperAPI struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *logging.Logger
}

// NewWhisperAPI builds the hosted Whisper backend.
func NewWhisperAPI(cfg config.OpenAIConfig, logger *logging.Logger) *WhisperAPI {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	return &WhisperAPI{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   model,
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

func (w *WhisperAPI) Recognize(ctx context.Context, req Request) (*Fragment, error) {
	if len(req.PCM) == 0 {
		return nil, nil
	}
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	format := req.Format
	if format.SampleRate == 0 {
		format = audio.DefaultFormat
	}

	wav, err := audio.EncodeWAV(req.PCM, format)
	if err != nil {
		return nil, backendErr("asr.whisper_api", err)
	}

	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: "window.wav",
		Reader:   bytes.NewReader(wav),
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, backendErr("asr.whisper_api", err)
	}

	w.logger.DebugTag("ASR", "whisper api language=%s chars=%d", resp.Language, len(resp.Text))
	return finish(resp.Text, resp.Language, req.Allowed)
}
