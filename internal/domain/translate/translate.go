// Package translate converts recognized text into the target language.
package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"speech-translate-server/internal/platform/config"
	platformerrors "speech-translate-server/internal/platform/errors"
	"speech-translate-server/internal/platform/logging"
)

// DefaultChunkBudget is the largest number of runes sent to a backend in one call.
const DefaultChunkBudget = 4000

// ErrBackend wraps any failure of the translation backend.
var ErrBackend = errors.New("translation backend error")

// Backend translates a single chunk that already fits the budget.
type Backend interface {
	Translate(ctx context.Context, text, targetLang string) (string, error)
}

// Translator splits long input into fixed-size chunks and translates them in order.
type Translator struct {
	backend Backend
	budget  int
	logger  *logging.Logger
}

// NewTranslator wraps backend. A non-positive budget selects DefaultChunkBudget.
func NewTranslator(backend Backend, budget int, logger *logging.Logger) *Translator {
	if budget <= 0 {
		budget = DefaultChunkBudget
	}
	return &Translator{backend: backend, budget: budget, logger: logger}
}

// New builds the translator for cfg.Provider.
func New(cfg config.TranslateConfig, logger *logging.Logger) (*Translator, error) {
	var backend Backend
	switch strings.ToLower(cfg.Provider) {
	case "", "google":
		backend = NewGoogle(cfg.Google)
	case "openai":
		backend = NewOpenAI(cfg.OpenAI)
	default:
		return nil, platformerrors.New(platformerrors.KindConfig, "translate.new", fmt.Sprintf("unknown translate provider %q", cfg.Provider))
	}
	return NewTranslator(backend, cfg.ChunkBudget, logger), nil
}

// Translate returns text in targetLang. Empty input short-circuits.
func (t *Translator) Translate(ctx context.Context, text, targetLang string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	chunks := Chunk(text, t.budget)
	parts := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		out, err := t.backend.Translate(ctx, chunk, targetLang)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", platformerrors.Wrap(platformerrors.KindTranslation, "translate.chunk",
				fmt.Sprintf("chunk %d/%d", i+1, len(chunks)), fmt.Errorf("%w: %v", ErrBackend, err))
		}
		parts = append(parts, out)
	}
	if len(chunks) > 1 {
		t.logger.DebugTag("Translate", "translated %d chunks into %s", len(chunks), targetLang)
	}
	return strings.TrimSpace(strings.Join(parts, " ")), nil
}

// Chunk splits text every budget runes. Boundaries are not adjusted to words.
func Chunk(text string, budget int) []string {
	if budget <= 0 {
		budget = DefaultChunkBudget
	}
	runes := []rune(text)
	if len(runes) <= budget {
		return []string{text}
	}
	out := make([]string, 0, (len(runes)+budget-1)/budget)
	for start := 0; start < len(runes); start += budget {
		end := min(start+budget, len(runes))
		out = append(out, string(runes[start:end]))
	}
	return out
}
