package config

import (
	"time"
)

type Config struct {
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Web       WebConfig       `yaml:"web" mapstructure:"web"`
	Transport TransportConfig `yaml:"transport" mapstructure:"transport"`
	Live      LiveConfig      `yaml:"live" mapstructure:"live"`
	Source    SourceConfig    `yaml:"source" mapstructure:"source"`
	ASR       ASRConfig       `yaml:"asr" mapstructure:"asr"`
	Translate TranslateConfig `yaml:"translate" mapstructure:"translate"`
	TTS       TTSConfig       `yaml:"tts" mapstructure:"tts"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Auth      AuthConfig      `yaml:"auth" mapstructure:"auth"`
}

type LogConfig struct {
	Level string `yaml:"log_level" mapstructure:"log_level"`
	Dir   string `yaml:"log_dir" mapstructure:"log_dir"`
	File  string `yaml:"log_file" mapstructure:"log_file"`
}

// WebConfig configures the HTTP batch API.
type WebConfig struct {
	Enabled     bool     `yaml:"enabled" mapstructure:"enabled"`
	IP          string   `yaml:"ip" mapstructure:"ip"`
	Port        int      `yaml:"port" mapstructure:"port"`
	OutputsDir  string   `yaml:"outputs_dir" mapstructure:"outputs_dir"`
	PublicURL   string   `yaml:"public_url" mapstructure:"public_url"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	MaxUploadMB int64    `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
}

type TransportConfig struct {
	WebSocket WebSocketConfig `yaml:"websocket" mapstructure:"websocket"`
}

// WebSocketConfig configures the live channel. When Port equals the web port
// the websocket route is mounted on the HTTP engine instead of its own listener.
type WebSocketConfig struct {
	Enabled          bool          `yaml:"enabled" mapstructure:"enabled"`
	IP               string        `yaml:"ip" mapstructure:"ip"`
	Port             int           `yaml:"port" mapstructure:"port"`
	Path             string        `yaml:"path" mapstructure:"path"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" mapstructure:"handshake_timeout"`
	StartTimeout     time.Duration `yaml:"start_timeout" mapstructure:"start_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// LiveConfig tunes the per-session streaming pump.
type LiveConfig struct {
	SampleRate        int           `yaml:"sample_rate" mapstructure:"sample_rate"`
	WindowSeconds     float64       `yaml:"window_seconds" mapstructure:"window_seconds"`
	ReadChunkBytes    int           `yaml:"read_chunk_bytes" mapstructure:"read_chunk_bytes"`
	PollInterval      time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	KillTimeout       time.Duration `yaml:"kill_timeout" mapstructure:"kill_timeout"`
	AllowedLanguages  []string      `yaml:"allowed_languages" mapstructure:"allowed_languages"`
	ReportStageErrors bool          `yaml:"report_stage_errors" mapstructure:"report_stage_errors"`
	ScratchDir        string        `yaml:"scratch_dir" mapstructure:"scratch_dir"`
}

// SourceConfig describes the external decoder process. Args may contain the
// {url} placeholder which is replaced with the stream locator.
type SourceConfig struct {
	Command string   `yaml:"command" mapstructure:"command"`
	Args    []string `yaml:"args" mapstructure:"args"`
}

type ASRConfig struct {
	Provider   string           `yaml:"provider" mapstructure:"provider"`
	OpenAI     OpenAIConfig     `yaml:"openai" mapstructure:"openai"`
	WhisperCPP WhisperCPPConfig `yaml:"whispercpp" mapstructure:"whispercpp"`
}

type WhisperCPPConfig struct {
	Binary  string `yaml:"binary" mapstructure:"binary"`
	Model   string `yaml:"model" mapstructure:"model"`
	Threads int    `yaml:"threads" mapstructure:"threads"`
}

type OpenAIConfig struct {
	APIKey  string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL string        `yaml:"url" mapstructure:"url"`
	Model   string        `yaml:"model_name" mapstructure:"model_name"`
	Voice   string        `yaml:"voice" mapstructure:"voice"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

type TranslateConfig struct {
	Provider    string       `yaml:"provider" mapstructure:"provider"`
	ChunkBudget int          `yaml:"chunk_budget" mapstructure:"chunk_budget"`
	OpenAI      OpenAIConfig `yaml:"openai" mapstructure:"openai"`
	Google      GoogleConfig `yaml:"google" mapstructure:"google"`
}

type GoogleConfig struct {
	Endpoint string        `yaml:"endpoint" mapstructure:"endpoint"`
	Timeout  time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

type TTSConfig struct {
	Provider string       `yaml:"provider" mapstructure:"provider"`
	Edge     EdgeConfig   `yaml:"edge" mapstructure:"edge"`
	OpenAI   OpenAIConfig `yaml:"openai" mapstructure:"openai"`
}

// EdgeConfig maps target language codes to neural voices.
type EdgeConfig struct {
	Voices       map[string]string `yaml:"voices" mapstructure:"voices"`
	DefaultVoice string            `yaml:"default_voice" mapstructure:"default_voice"`
	Rate         string            `yaml:"rate" mapstructure:"rate"`
	Volume       string            `yaml:"volume" mapstructure:"volume"`
	Pitch        string            `yaml:"pitch" mapstructure:"pitch"`
}

// BatchConfig configures upload and video translation.
type BatchConfig struct {
	MaxConcurrent   int64         `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	SegmentSeconds  int           `yaml:"segment_seconds" mapstructure:"segment_seconds"`
	FFmpegBinary    string        `yaml:"ffmpeg" mapstructure:"ffmpeg"`
	DownloadCommand string        `yaml:"download_command" mapstructure:"download_command"`
	DownloadArgs    []string      `yaml:"download_args" mapstructure:"download_args"`
	Timeout         time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// StoreConfig selects where batch results are recorded.
type StoreConfig struct {
	Type    string        `yaml:"type" mapstructure:"type"`
	Expiry  time.Duration `yaml:"expiry" mapstructure:"expiry"`
	Cleanup time.Duration `yaml:"cleanup" mapstructure:"cleanup"`
	Redis   RedisStore    `yaml:"redis,omitempty" mapstructure:"redis"`
	SQLite  SQLiteStore   `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
}

type RedisStore struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Username string `yaml:"username,omitempty" mapstructure:"username"`
	Password string `yaml:"password,omitempty" mapstructure:"password"`
	DB       int    `yaml:"db,omitempty" mapstructure:"db"`
	Prefix   string `yaml:"prefix,omitempty" mapstructure:"prefix"`
}

type SQLiteStore struct {
	DSN string `yaml:"dsn,omitempty" mapstructure:"dsn"`
}

type AuthConfig struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	Secret   string        `yaml:"secret" mapstructure:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl" mapstructure:"token_ttl"`
}
