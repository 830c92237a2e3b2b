package livestream

import (
	"context"
	"errors"
	"time"

	"speech-translate-server/internal/domain/asr"
	"speech-translate-server/internal/domain/audio"
	"speech-translate-server/internal/domain/eventbus"
	"speech-translate-server/internal/domain/source"
	"speech-translate-server/internal/domain/translate"
	"speech-translate-server/internal/domain/tts"
	"speech-translate-server/internal/platform/config"
	"speech-translate-server/internal/platform/logging"
	"speech-translate-server/internal/platform/observability"
)

// Emitter delivers outbound messages to the client. Send must not be called concurrently.
type Emitter interface {
	Send(ctx context.Context, msg Message) error
}

// Translator is the translation capability.
type Translator interface {
	Translate(ctx context.Context, text, targetLang string) (string, error)
}

// Source is an open PCM stream.
type Source interface {
	ReadChunk(ctx context.Context, maxBytes int) ([]byte, error)
	Close() error
}

// Opener starts a Source for a locator.
type Opener interface {
	Open(ctx context.Context, locator string) (Source, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, locator string) (Source, error)

func (f OpenerFunc) Open(ctx context.Context, locator string) (Source, error) {
	return f(ctx, locator)
}

// AdapterOpener exposes a decoder adapter as an Opener.
func AdapterOpener(a *source.Adapter) Opener {
	return OpenerFunc(func(ctx context.Context, locator string) (Source, error) {
		h, err := a.Open(ctx, locator)
		if err != nil {
			return nil, err
		}
		return h, nil
	})
}

var _ Translator = (*translate.Translator)(nil)

// Config tunes every session created by a Pump.
type Config struct {
	Format            audio.Format
	WindowSeconds     float64
	ReadChunkBytes    int
	AllowedLanguages  []string
	ReportStageErrors bool
	StartTimeout      time.Duration
	// ScratchDir is the parent of per-session scratch directories; empty uses the OS temp dir.
	ScratchDir string
}

// ConfigFrom maps the server configuration onto a pump Config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Format:            audio.Format{SampleRate: cfg.Live.SampleRate, Channels: 1, BitsPerSample: 16},
		WindowSeconds:     cfg.Live.WindowSeconds,
		ReadChunkBytes:    cfg.Live.ReadChunkBytes,
		AllowedLanguages:  cfg.Live.AllowedLanguages,
		ReportStageErrors: cfg.Live.ReportStageErrors,
		StartTimeout:      cfg.Transport.WebSocket.StartTimeout,
		ScratchDir:        cfg.Live.ScratchDir,
	}
}

// Deps are the collaborators shared by all sessions. Bus and Metrics are optional.
type Deps struct {
	Opener      Opener
	Recognizer  asr.Recognizer
	Translator  Translator
	Synthesizer tts.Synthesizer
	Bus         *eventbus.Bus
	Metrics     *observability.Metrics
	Logger      *logging.Logger
}

// Pump creates sessions and holds their shared stages.
type Pump struct {
	cfg        Config
	windowSize int

	opener      Opener
	recognizer  asr.Recognizer
	translator  Translator
	synthesizer tts.Synthesizer
	bus         *eventbus.Bus
	metrics     *observability.Metrics
	logger      *logging.Logger
}

// NewPump validates deps and fills config defaults.
func NewPump(cfg Config, deps Deps) (*Pump, error) {
	if deps.Opener == nil || deps.Recognizer == nil || deps.Translator == nil || deps.Synthesizer == nil {
		return nil, errors.New("livestream: opener, recognizer, translator and synthesizer are required")
	}
	if cfg.Format.SampleRate == 0 {
		cfg.Format = audio.DefaultFormat
	}
	if cfg.WindowSeconds <= 0 {
		cfg.WindowSeconds = 3
	}
	if cfg.ReadChunkBytes <= 0 {
		cfg.ReadChunkBytes = 4096
	}
	return &Pump{
		cfg:         cfg,
		windowSize:  cfg.Format.WindowSize(cfg.WindowSeconds),
		opener:      deps.Opener,
		recognizer:  deps.Recognizer,
		translator:  deps.Translator,
		synthesizer: deps.Synthesizer,
		bus:         deps.Bus,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
	}, nil
}

// WindowSize is the number of PCM bytes per window.
func (p *Pump) WindowSize() int { return p.windowSize }

// NewSession creates an idle session that writes to emitter.
func (p *Pump) NewSession(id string, emitter Emitter) *Session {
	s := &Session{id: id, pump: p, emitter: emitter}
	s.setState(StateIdle)
	return s
}

func (p *Pump) open(ctx context.Context, locator string) (Source, error) {
	return p.opener.Open(ctx, locator)
}

func (p *Pump) sessionStarted(s *Session, req StartRequest) {
	if p.metrics != nil {
		p.metrics.SessionsActive.Inc()
	}
	p.publish(eventbus.EventSessionStarted, eventbus.SessionEventData{
		SessionID:  s.id,
		URL:        req.URL,
		TargetLang: req.Lang,
		Timestamp:  time.Now(),
	})
}

func (p *Pump) sessionClosed(s *Session, req StartRequest, err error) {
	outcome := "completed"
	errText := ""
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		outcome = "disconnected"
	case errors.Is(err, ErrTransport):
		outcome = "transport_error"
		errText = err.Error()
	default:
		outcome = "failed"
		errText = err.Error()
	}
	if p.metrics != nil {
		p.metrics.SessionsActive.Dec()
	}
	p.recordSession(outcome)
	p.publish(eventbus.EventSessionClosed, eventbus.SessionEventData{
		SessionID:  s.id,
		URL:        req.URL,
		TargetLang: req.Lang,
		Windows:    s.windows,
		Outcome:    outcome,
		Error:      errText,
		Duration:   time.Since(s.started),
		Timestamp:  time.Now(),
	})
}

func (p *Pump) recordSession(outcome string) {
	if p.metrics != nil {
		p.metrics.SessionsTotal.WithLabelValues(outcome).Inc()
	}
}

func (p *Pump) windowDone(s *Session, index int, outcome, detected string, took time.Duration) {
	if p.metrics != nil {
		p.metrics.WindowsProcessed.WithLabelValues(outcome).Inc()
	}
	p.publish(eventbus.EventSessionWindow, eventbus.SessionEventData{
		SessionID: s.id,
		Window:    index,
		Outcome:   outcome,
		Detected:  detected,
		Duration:  took,
		Timestamp: time.Now(),
	})
}

func (p *Pump) stageDuration(stage string, since time.Time) {
	if p.metrics != nil {
		p.metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(since).Seconds())
	}
}

func (p *Pump) messageSent(event string) {
	if p.metrics != nil {
		p.metrics.MessagesSent.WithLabelValues(event).Inc()
	}
}

func (p *Pump) decoderBytes(n int) {
	if p.metrics != nil {
		p.metrics.DecoderBytes.Add(float64(n))
	}
}

func (p *Pump) publish(topic string, data eventbus.SessionEventData) {
	if p.bus != nil {
		p.bus.PublishAsync(topic, data)
	}
}
