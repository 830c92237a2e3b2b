package config

import "time"

// DefaultVoices maps target languages to Edge neural voices.
var DefaultVoices = map[string]string{
	"en": "en-US-AriaNeural",
	"hi": "hi-IN-SwaraNeural",
	"mr": "mr-IN-AarohiNeural",
	"ta": "ta-IN-PallaviNeural",
	"te": "te-IN-ShrutiNeural",
	"bn": "bn-IN-TanishaaNeural",
	"gu": "gu-IN-DhwaniNeural",
	"kn": "kn-IN-SapnaNeural",
	"ml": "ml-IN-SobhanaNeural",
	"pa": "pa-IN-OjasNeural",
	"ur": "ur-IN-GulNeural",
}

// DefaultConfig returns a configuration usable without a config file.
func DefaultConfig() *Config {
	voices := make(map[string]string, len(DefaultVoices))
	for k, v := range DefaultVoices {
		voices[k] = v
	}

	return &Config{
		Log: LogConfig{
			Level: "info",
			Dir:   "data/logs",
			File:  "server.log",
		},
		Web: WebConfig{
			Enabled:     true,
			IP:          "0.0.0.0",
			Port:        8000,
			OutputsDir:  "outputs",
			PublicURL:   "http://localhost:8000",
			CORSOrigins: []string{"http://localhost:5173"},
			MaxUploadMB: 100,
		},
		Transport: TransportConfig{
			WebSocket: WebSocketConfig{
				Enabled:          true,
				IP:               "0.0.0.0",
				Port:             8000,
				Path:             "/ws-ott",
				HandshakeTimeout: 10 * time.Second,
				StartTimeout:     30 * time.Second,
				WriteTimeout:     10 * time.Second,
			},
		},
		Live: LiveConfig{
			SampleRate:        16000,
			WindowSeconds:     3,
			ReadChunkBytes:    4096,
			PollInterval:      100 * time.Millisecond,
			KillTimeout:       3 * time.Second,
			AllowedLanguages:  []string{"en", "hi"},
			ReportStageErrors: true,
		},
		Source: SourceConfig{
			Command: "ffmpeg",
			Args: []string{
				"-loglevel", "quiet",
				"-i", "{url}",
				"-vn", "-ac", "1", "-ar", "16000",
				"-f", "s16le", "pipe:1",
			},
		},
		ASR: ASRConfig{
			Provider: "openai",
			OpenAI: OpenAIConfig{
				BaseURL: "https://api.openai.com/v1",
				Model:   "whisper-1",
				Timeout: 60 * time.Second,
			},
			WhisperCPP: WhisperCPPConfig{
				Binary:  "whisper-cli",
				Model:   "models/ggml-base.bin",
				Threads: 4,
			},
		},
		Translate: TranslateConfig{
			Provider:    "google",
			ChunkBudget: 4000,
			OpenAI: OpenAIConfig{
				BaseURL: "https://api.openai.com/v1",
				Model:   "gpt-4o-mini",
				Timeout: 30 * time.Second,
			},
			Google: GoogleConfig{
				Endpoint: "https://translate.googleapis.com/translate_a/single",
				Timeout:  15 * time.Second,
			},
		},
		TTS: TTSConfig{
			Provider: "edge",
			Edge: EdgeConfig{
				Voices:       voices,
				DefaultVoice: "en-US-AriaNeural",
				Rate:         "+0%",
				Volume:       "+0%",
				Pitch:        "+0Hz",
			},
			OpenAI: OpenAIConfig{
				BaseURL: "https://api.openai.com/v1",
				Model:   "tts-1",
				Voice:   "alloy",
				Timeout: 30 * time.Second,
			},
		},
		Batch: BatchConfig{
			MaxConcurrent:   2,
			SegmentSeconds:  60,
			FFmpegBinary:    "ffmpeg",
			DownloadCommand: "yt-dlp",
			DownloadArgs:    []string{"-f", "bestaudio", "-o", "{output}", "{url}"},
			Timeout:         10 * time.Minute,
		},
		Store: StoreConfig{
			Type:    "sqlite",
			Expiry:  7 * 24 * time.Hour,
			Cleanup: 10 * time.Minute,
			Redis: RedisStore{
				Prefix: "translation:result:",
			},
			SQLite: SQLiteStore{
				DSN: "data/speech-translate.db",
			},
		},
		Auth: AuthConfig{
			Enabled:  false,
			TokenTTL: 24 * time.Hour,
		},
	}
}
