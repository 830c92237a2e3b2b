// Package batch translates whole recordings: uploaded files and downloaded
// video audio. It reuses the live pipeline stages and records every success
// in the result store.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/text/language"

	"speech-translate-server/internal/domain/asr"
	"speech-translate-server/internal/domain/audio"
	"speech-translate-server/internal/domain/eventbus"
	"speech-translate-server/internal/domain/livestream"
	"speech-translate-server/internal/domain/result"
	"speech-translate-server/internal/domain/result/store"
	"speech-translate-server/internal/domain/tts"
	"speech-translate-server/internal/platform/config"
	platformerrors "speech-translate-server/internal/platform/errors"
	"speech-translate-server/internal/platform/logging"
	"speech-translate-server/internal/platform/observability"
)

var (
	// ErrInvalidRequest is returned for a missing or malformed input.
	ErrInvalidRequest = errors.New("invalid batch request")
	// ErrConvert means ffmpeg could not turn the input into PCM.
	ErrConvert = errors.New("audio conversion failed")
	// ErrDownload means the video downloader failed.
	ErrDownload = errors.New("download failed")
)

// Translator is the translation capability.
type Translator interface {
	Translate(ctx context.Context, text, targetLang string) (string, error)
}

// Config tunes the batch service.
type Config struct {
	Format           audio.Format
	SegmentSeconds   int
	MaxConcurrent    int64
	Timeout          time.Duration
	FFmpeg           string
	DownloadCommand  string
	DownloadArgs     []string
	AllowedLanguages []string
	OutputsDir       string
	PublicURL        string
	// WorkDir is the parent of per-request temp dirs; empty uses the OS temp dir.
	WorkDir string
}

// ConfigFrom maps the server configuration onto a batch Config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Format:           audio.Format{SampleRate: cfg.Live.SampleRate, Channels: 1, BitsPerSample: 16},
		SegmentSeconds:   cfg.Batch.SegmentSeconds,
		MaxConcurrent:    cfg.Batch.MaxConcurrent,
		Timeout:          cfg.Batch.Timeout,
		FFmpeg:           cfg.Batch.FFmpegBinary,
		DownloadCommand:  cfg.Batch.DownloadCommand,
		DownloadArgs:     cfg.Batch.DownloadArgs,
		AllowedLanguages: cfg.Live.AllowedLanguages,
		OutputsDir:       cfg.Web.OutputsDir,
		PublicURL:        cfg.Web.PublicURL,
		WorkDir:          cfg.Live.ScratchDir,
	}
}

// Deps are the collaborators of the service. Store, Bus and Metrics are optional.
type Deps struct {
	Recognizer  asr.Recognizer
	Translator  Translator
	Synthesizer tts.Synthesizer
	Store       store.Store
	Bus         *eventbus.Bus
	Metrics     *observability.Metrics
	Logger      *logging.Logger
}

// Service runs batch translations with bounded concurrency.
type Service struct {
	cfg  Config
	deps Deps
	sem  *semaphore.Weighted
}

// New validates deps and fills config defaults.
func New(cfg Config, deps Deps) (*Service, error) {
	if deps.Recognizer == nil || deps.Translator == nil || deps.Synthesizer == nil {
		return nil, errors.New("batch: recognizer, translator and synthesizer are required")
	}
	if cfg.Format.SampleRate == 0 {
		cfg.Format = audio.DefaultFormat
	}
	if cfg.SegmentSeconds <= 0 {
		cfg.SegmentSeconds = 60
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	if cfg.FFmpeg == "" {
		cfg.FFmpeg = "ffmpeg"
	}
	if cfg.DownloadCommand == "" {
		cfg.DownloadCommand = "yt-dlp"
	}
	if len(cfg.DownloadArgs) == 0 {
		cfg.DownloadArgs = []string{"-f", "bestaudio", "-o", outputPlaceholder, urlPlaceholder}
	}
	if cfg.OutputsDir == "" {
		cfg.OutputsDir = "outputs"
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")
	return &Service{cfg: cfg, deps: deps, sem: semaphore.NewWeighted(cfg.MaxConcurrent)}, nil
}

// TranslateUpload converts an uploaded recording, recognizes it as a whole and
// returns the translated text and the URL of the synthesized audio.
func (s *Service) TranslateUpload(ctx context.Context, filename string, r io.Reader, targetLang string) (result.Record, error) {
	return s.run(ctx, result.KindUpload, filename, targetLang, 0, func(ctx context.Context, dir string) (string, error) {
		input := filepath.Join(dir, "upload"+safeExt(filename))
		f, err := os.Create(input)
		if err != nil {
			return "", err
		}
		if _, err := io.Copy(f, r); err != nil {
			f.Close()
			return "", err
		}
		return input, f.Close()
	})
}

// TranslateVideo downloads the audio track of a video URL, recognizes it in
// fixed-length segments and translates the concatenated transcript.
func (s *Service) TranslateVideo(ctx context.Context, videoURL, targetLang string) (result.Record, error) {
	videoURL = strings.TrimSpace(videoURL)
	if u, err := url.Parse(videoURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		err := invalid("batch.video", "a http(s) video url is required")
		s.finish(result.Record{Kind: result.KindVideo, Source: videoURL}, time.Now(), err)
		return result.Record{}, err
	}
	segment := s.cfg.Format.WindowSize(float64(s.cfg.SegmentSeconds))
	return s.run(ctx, result.KindVideo, videoURL, targetLang, segment, func(ctx context.Context, dir string) (string, error) {
		return s.download(ctx, dir, videoURL)
	})
}

type fetchFunc func(ctx context.Context, dir string) (string, error)

func (s *Service) run(ctx context.Context, kind, src, targetLang string, segmentSize int, fetch fetchFunc) (rec result.Record, err error) {
	started := time.Now()
	rec = result.Record{ID: newID(), Kind: kind, Source: src}
	defer func() { s.finish(rec, started, err) }()

	target, err := normalizeTarget(targetLang)
	if err != nil {
		return rec, err
	}
	rec.TargetLanguage = target

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return rec, err
	}
	defer s.sem.Release(1)

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	dir, err := os.MkdirTemp(s.cfg.WorkDir, kind+"-"+rec.ID+"-")
	if err != nil {
		return rec, platformerrors.Wrap(platformerrors.KindPlatform, "batch.run", "create work dir", err)
	}
	defer os.RemoveAll(dir)

	input, err := fetch(ctx, dir)
	if err != nil {
		return rec, err
	}
	pcm, err := s.convert(ctx, dir, input)
	if err != nil {
		return rec, err
	}

	if err := s.recognize(ctx, &rec, pcm, segmentSize, dir); err != nil {
		return rec, err
	}

	rec.TranslatedText, err = s.deps.Translator.Translate(ctx, rec.OriginalText, target)
	if err != nil {
		return rec, err
	}

	clip, err := s.deps.Synthesizer.Synthesize(ctx, rec.TranslatedText, target)
	if err != nil {
		return rec, err
	}
	if rec.AudioURL, err = s.writeOutput(rec.ID, clip); err != nil {
		return rec, err
	}

	if s.deps.Store != nil {
		if serr := s.deps.Store.Save(ctx, rec); serr != nil {
			s.deps.Logger.WarnTag("Batch", "save result %s: %v", rec.ID, serr)
		}
	}
	return rec, nil
}

// recognize fills the transcript. Each segment is recognized without an
// allow-list; the language of the last segment with speech is the one checked.
func (s *Service) recognize(ctx context.Context, rec *result.Record, pcm []byte, segmentSize int, dir string) error {
	var texts []string
	offset := 0
	for i, seg := range audio.Segment(pcm, segmentSize) {
		frag, err := s.deps.Recognizer.Recognize(ctx, asr.Request{PCM: seg, Format: s.cfg.Format, ScratchDir: dir})
		if err != nil {
			return err
		}
		start := s.cfg.Format.Duration(offset).Seconds()
		offset += len(seg)
		if frag == nil {
			continue
		}
		texts = append(texts, frag.Text)
		rec.DetectedLanguage = frag.Language
		rec.Segments = append(rec.Segments, result.Segment{
			Index:    i,
			Start:    start,
			Duration: s.cfg.Format.Duration(len(seg)).Seconds(),
			Language: frag.Language,
			Text:     frag.Text,
		})
	}

	rec.OriginalText = strings.TrimSpace(strings.Join(texts, " "))
	if rec.OriginalText == "" {
		return asr.ErrEmptyRecognition
	}
	if !asr.Allowed(rec.DetectedLanguage, s.cfg.AllowedLanguages) {
		return &asr.UnsupportedLanguageError{Language: rec.DetectedLanguage}
	}
	return nil
}

func (s *Service) writeOutput(id string, clip tts.Clip) (string, error) {
	if err := os.MkdirAll(s.cfg.OutputsDir, 0o755); err != nil {
		return "", platformerrors.Wrap(platformerrors.KindPlatform, "batch.output", "create outputs dir", err)
	}
	ext := clip.Format
	if ext == "" {
		ext = tts.FormatMP3
	}
	name := id + "." + ext
	if err := os.WriteFile(filepath.Join(s.cfg.OutputsDir, name), clip.Data, 0o644); err != nil {
		return "", platformerrors.Wrap(platformerrors.KindPlatform, "batch.output", "write audio", err)
	}
	return s.cfg.PublicURL + "/outputs/" + name, nil
}

func (s *Service) finish(rec result.Record, started time.Time, err error) {
	outcome := Outcome(err)
	took := time.Since(started)
	if m := s.deps.Metrics; m != nil {
		m.BatchRequests.WithLabelValues(rec.Kind, outcome).Inc()
		m.BatchDuration.WithLabelValues(rec.Kind).Observe(took.Seconds())
	}
	if s.deps.Bus != nil {
		data := eventbus.BatchEventData{
			ID:         rec.ID,
			Kind:       rec.Kind,
			TargetLang: rec.TargetLanguage,
			Detected:   rec.DetectedLanguage,
			Duration:   took,
			Timestamp:  time.Now(),
		}
		if err != nil {
			data.Error = err.Error()
		}
		s.deps.Bus.PublishAsync(eventbus.EventBatchCompleted, data)
	}
}

// Outcome labels err for metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid"
	case errors.Is(err, asr.ErrUnsupportedLanguage):
		return "unsupported_language"
	case errors.Is(err, asr.ErrEmptyRecognition):
		return "no_speech"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "failed"
	}
}

// UserMessage is the error text returned to API clients.
func UserMessage(err error, allowed []string) string {
	var langErr *asr.UnsupportedLanguageError
	var platErr *platformerrors.Error
	switch {
	case errors.As(err, &langErr):
		return livestream.UnsupportedInputText(allowed)
	case errors.Is(err, asr.ErrEmptyRecognition):
		return "No speech detected"
	case errors.Is(err, ErrInvalidRequest) && errors.As(err, &platErr):
		return platErr.Message
	case errors.Is(err, ErrDownload):
		return "Could not download the video"
	case errors.Is(err, ErrConvert):
		return "Could not decode the audio"
	case errors.Is(err, context.DeadlineExceeded):
		return "Translation timed out"
	default:
		return "Translation failed"
	}
}

func normalizeTarget(lang string) (string, error) {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return "", invalid("batch.target", "target_lang is required")
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return "", invalid("batch.target", fmt.Sprintf("unsupported target language: %s", lang))
	}
	base, _ := tag.Base()
	return base.String(), nil
}

func invalid(op, msg string) error {
	return platformerrors.Wrap(platformerrors.KindDomain, op, msg, ErrInvalidRequest)
}

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func safeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	if len(ext) > 8 || strings.ContainsAny(ext, `/\`) {
		return ""
	}
	return ext
}
