package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"speech-translate-server/internal/platform/config"
)

// OpenAI translates with a chat completion model.
type OpenAI struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAI builds the chat completion backend.
func NewOpenAI(cfg config.OpenAIConfig) *OpenAI {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAI{client: openai.NewClientWithConfig(clientConfig), model: model, timeout: cfg.Timeout}
}

func (o *OpenAI) Translate(ctx context.Context, text, targetLang string) (string, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(targetLang)},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai translate: no choices returned")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func systemPrompt(targetLang string) string {
	name := targetLang
	if tag, err := language.Parse(targetLang); err == nil {
		if n := display.English.Languages().Name(tag); n != "" {
			name = n
		}
	}
	return fmt.Sprintf("Translate the user's text into %s. Reply with the translation only, without notes or quotes.", name)
}
