package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when no config path is given.
const DefaultPath = "config.yaml"

var (
	knownASR       = map[string]bool{"openai": true, "whispercpp": true}
	knownTranslate = map[string]bool{"openai": true, "google": true}
	knownTTS       = map[string]bool{"edge": true, "openai": true}
	knownStores    = map[string]bool{"memory": true, "sqlite": true, "redis": true}
)

// Loader reads the YAML config file, applies environment overrides and validates the result.
type Loader struct {
	useDotEnv bool
	path      string
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a loader for path. An empty path falls back to DefaultPath.
func NewLoader(path string) *Loader {
	if path == "" {
		path = DefaultPath
	}
	return &Loader{
		useDotEnv: true,
		path:      path,
		lookupEnv: os.LookupEnv,
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithEnv overrides environment lookup (useful for tests).
func (l *Loader) WithEnv(lookup func(string) (string, bool)) *Loader {
	if lookup != nil {
		l.lookupEnv = lookup
	}
	return l
}

// Result captures the loaded configuration and its origin path.
type Result struct {
	Config *Config
	Path   string
}

// Load reads the configuration. A missing file is not an error; defaults are used.
func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		// .env is optional
		_ = godotenv.Load()
	}

	cfg := DefaultConfig()
	origin := "defaults"

	data, err := os.ReadFile(l.path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", l.path, err)
		}
		origin = l.path
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", l.path, err)
	}

	l.applyEnv(cfg)

	if err := l.validate(cfg); err != nil {
		return nil, err
	}

	return &Result{Config: cfg, Path: origin}, nil
}

func (l *Loader) applyEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v, ok := l.lookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		if v, ok := l.lookupEnv(key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}

	if key, ok := l.lookupEnv("OPENAI_API_KEY"); ok && key != "" {
		for _, dst := range []*string{&cfg.ASR.OpenAI.APIKey, &cfg.Translate.OpenAI.APIKey, &cfg.TTS.OpenAI.APIKey} {
			if *dst == "" {
				*dst = key
			}
		}
	}
	str("LOG_LEVEL", &cfg.Log.Level)
	num("SERVER_PORT", &cfg.Web.Port)
	num("WEBSOCKET_PORT", &cfg.Transport.WebSocket.Port)
	str("OUTPUTS_DIR", &cfg.Web.OutputsDir)
	str("PUBLIC_URL", &cfg.Web.PublicURL)
	str("ASR_PROVIDER", &cfg.ASR.Provider)
	str("TRANSLATE_PROVIDER", &cfg.Translate.Provider)
	str("TTS_PROVIDER", &cfg.TTS.Provider)
	str("STORE_TYPE", &cfg.Store.Type)
	str("REDIS_ADDR", &cfg.Store.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Store.Redis.Password)
	str("AUTH_SECRET", &cfg.Auth.Secret)
}

func (l *Loader) validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.Web.Port <= 0 || cfg.Web.Port > 65535 {
		return fmt.Errorf("invalid web port: %d", cfg.Web.Port)
	}
	if cfg.Transport.WebSocket.Port <= 0 || cfg.Transport.WebSocket.Port > 65535 {
		return fmt.Errorf("invalid websocket port: %d", cfg.Transport.WebSocket.Port)
	}
	if !strings.HasPrefix(cfg.Transport.WebSocket.Path, "/") {
		return fmt.Errorf("websocket path must start with '/': %q", cfg.Transport.WebSocket.Path)
	}
	if cfg.Live.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", cfg.Live.SampleRate)
	}
	if cfg.Live.WindowSeconds <= 0 {
		return fmt.Errorf("invalid window seconds: %v", cfg.Live.WindowSeconds)
	}
	if len(cfg.Live.AllowedLanguages) == 0 {
		return errors.New("live.allowed_languages must not be empty")
	}
	if cfg.Translate.ChunkBudget <= 0 {
		return fmt.Errorf("invalid translate chunk budget: %d", cfg.Translate.ChunkBudget)
	}
	if strings.TrimSpace(cfg.Source.Command) == "" {
		return errors.New("source.command is required")
	}
	if !knownASR[cfg.ASR.Provider] {
		return fmt.Errorf("unsupported asr provider: %s", cfg.ASR.Provider)
	}
	if !knownTranslate[cfg.Translate.Provider] {
		return fmt.Errorf("unsupported translate provider: %s", cfg.Translate.Provider)
	}
	if !knownTTS[cfg.TTS.Provider] {
		return fmt.Errorf("unsupported tts provider: %s", cfg.TTS.Provider)
	}
	if !knownStores[strings.ToLower(cfg.Store.Type)] {
		return fmt.Errorf("unsupported store type: %s", cfg.Store.Type)
	}
	if cfg.Auth.Enabled && cfg.Auth.Secret == "" {
		return errors.New("auth.secret is required when auth is enabled")
	}
	return nil
}

// SharesWebListener reports whether the websocket route is served by the HTTP engine.
func (c *Config) SharesWebListener() bool {
	return c.Web.Enabled && c.Transport.WebSocket.Port == c.Web.Port
}
