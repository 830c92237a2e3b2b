package tts

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sashabaranov/go-openai"

	"speech-translate-server/internal/platform/config"
	"speech-translate-server/internal/platform/logging"
)

// OpenAI synthesizes through the OpenAI speech endpoint. The voice is
// multilingual so the target language only shapes the input text.
type OpenAI struct {
	client  *openai.Client
	model   openai.SpeechModel
	voice   openai.SpeechVoice
	timeout time.Duration
	logger  *logging.Logger
}

// NewOpenAI builds the OpenAI speech backend.
func NewOpenAI(cfg config.OpenAIConfig, logger *logging.Logger) *OpenAI {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	model := openai.TTSModel1
	if cfg.Model != "" {
		model = openai.SpeechModel(cfg.Model)
	}
	voice := openai.VoiceAlloy
	if cfg.Voice != "" {
		voice = openai.SpeechVoice(cfg.Voice)
	}
	return &OpenAI{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   model,
		voice:   voice,
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

func (o *OpenAI) Synthesize(ctx context.Context, text, _ string) (Clip, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          o.model,
		Input:          text,
		Voice:          o.voice,
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		if ctx.Err() != nil {
			return Clip{}, ctx.Err()
		}
		return Clip{}, backendErr("tts.openai", err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return Clip{}, backendErr("tts.openai", err)
	}
	if len(data) == 0 {
		return Clip{}, backendErr("tts.openai", errors.New("empty audio"))
	}
	o.logger.DebugTag("TTS", "openai voice=%s bytes=%d", o.voice, len(data))
	return newClip(data), nil
}
