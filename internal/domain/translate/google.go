package translate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"speech-translate-server/internal/platform/config"
)

const defaultGoogleEndpoint = "https://translate.googleapis.com/translate_a/single"

// Google calls the public translate_a/single endpoint with source auto-detection.
type Google struct {
	endpoint string
	client   *http.Client
}

// NewGoogle builds the Google backend.
func NewGoogle(cfg config.GoogleConfig) *Google {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultGoogleEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Google{endpoint: endpoint, client: &http.Client{Timeout: timeout}}
}

func (g *Google) Translate(ctx context.Context, text, targetLang string) (string, error) {
	query := url.Values{}
	query.Set("client", "gtx")
	query.Set("sl", "auto")
	query.Set("tl", targetLang)
	query.Set("dt", "t")

	form := url.Values{}
	form.Set("q", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"?"+query.Encode(), strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=utf-8")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("google translate: status %d", resp.StatusCode)
	}
	return parseGoogleResponse(body)
}

// parseGoogleResponse joins the translated sentences of a response shaped
// like [[["translated","source",...],...],null,"en",...].
func parseGoogleResponse(body []byte) (string, error) {
	var payload []any
	if err := sonic.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("google translate: decode: %w", err)
	}
	if len(payload) == 0 {
		return "", fmt.Errorf("google translate: empty response")
	}
	sentences, ok := payload[0].([]any)
	if !ok {
		return "", fmt.Errorf("google translate: unexpected response shape")
	}
	var out strings.Builder
	for _, s := range sentences {
		parts, ok := s.([]any)
		if !ok || len(parts) == 0 {
			continue
		}
		if str, ok := parts[0].(string); ok {
			out.WriteString(str)
		}
	}
	return out.String(), nil
}
