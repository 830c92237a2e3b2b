package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speech-translate-server/internal/domain/asr"
	"speech-translate-server/internal/domain/eventbus"
	"speech-translate-server/internal/domain/result"
	"speech-translate-server/internal/domain/result/store"
	"speech-translate-server/internal/domain/tts"
	"speech-translate-server/internal/platform/logging"
	"speech-translate-server/internal/platform/observability"
)

// writeScript creates an executable shell script in dir.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

// fakeFFmpeg writes n zero bytes to its last argument.
func fakeFFmpeg(t *testing.T, dir string, n int) string {
	return writeScript(t, dir, "ffmpeg", `for last; do :; done
head -c `+strconv.Itoa(n)+` /dev/zero > "$last"`)
}

type stubRecognizer struct {
	mu    sync.Mutex
	calls []int
	next  func(call int) (*asr.Fragment, error)
}

func (r *stubRecognizer) Recognize(_ context.Context, req asr.Request) (*asr.Fragment, error) {
	r.mu.Lock()
	call := len(r.calls)
	r.calls = append(r.calls, len(req.PCM))
	r.mu.Unlock()
	if req.Allowed != nil {
		return nil, errors.New("segments are recognized without an allow-list")
	}
	return r.next(call)
}

type stubTranslator struct{ calls atomic.Int32 }

func (s *stubTranslator) Translate(_ context.Context, text, lang string) (string, error) {
	s.calls.Add(1)
	return "[" + lang + "] " + text, nil
}

type stubSynth struct{}

func (stubSynth) Synthesize(_ context.Context, text, _ string) (tts.Clip, error) {
	return tts.Clip{Data: []byte(text), Format: tts.FormatMP3}, nil
}

type fixture struct {
	cfg   Config
	deps  Deps
	asr   *stubRecognizer
	tr    *stubTranslator
	store store.Store
	work  string
}

func newFixture(t *testing.T, pcmBytes int) *fixture {
	t.Helper()
	bin := t.TempDir()
	work := t.TempDir()
	f := &fixture{
		asr:   &stubRecognizer{next: func(int) (*asr.Fragment, error) { return &asr.Fragment{Text: "hello", Language: "en"}, nil }},
		tr:    &stubTranslator{},
		store: store.NewMemory(store.Config{TTL: time.Hour}),
		work:  work,
	}
	t.Cleanup(func() { _ = f.store.Close(context.Background()) })
	f.cfg = Config{
		SegmentSeconds:   60,
		FFmpeg:           fakeFFmpeg(t, bin, pcmBytes),
		DownloadCommand:  writeScript(t, bin, "yt-dlp", `echo audio > "$2.webm"`),
		DownloadArgs:     []string{"-o", "{output}", "{url}"},
		AllowedLanguages: []string{"en", "hi"},
		OutputsDir:       filepath.Join(work, "outputs"),
		PublicURL:        "http://localhost:8000/",
		WorkDir:          work,
	}
	f.deps = Deps{
		Recognizer:  f.asr,
		Translator:  f.tr,
		Synthesizer: stubSynth{},
		Store:       f.store,
		Logger:      logging.NewDiscard(),
	}
	return f
}

func (f *fixture) service(t *testing.T) *Service {
	t.Helper()
	svc, err := New(f.cfg, f.deps)
	require.NoError(t, err)
	return svc
}

func assertNoWorkDirs(t *testing.T, work string) {
	t.Helper()
	entries, err := os.ReadDir(work)
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, "outputs", e.Name(), "temp dir %s left behind", e.Name())
	}
}

func TestTranslateUpload(t *testing.T) {
	f := newFixture(t, 64000)
	svc := f.service(t)

	rec, err := svc.TranslateUpload(context.Background(), "clip.webm", strings.NewReader("webm bytes"), "hi-IN")
	require.NoError(t, err)

	assert.Len(t, rec.ID, 32)
	assert.Equal(t, result.KindUpload, rec.Kind)
	assert.Equal(t, "en", rec.DetectedLanguage)
	assert.Equal(t, "hi", rec.TargetLanguage)
	assert.Equal(t, "hello", rec.OriginalText)
	assert.Equal(t, "[hi] hello", rec.TranslatedText)
	assert.Equal(t, "http://localhost:8000/outputs/"+rec.ID+".mp3", rec.AudioURL)
	assert.Equal(t, []int{64000}, f.asr.calls, "uploads are recognized whole")

	audio, err := os.ReadFile(filepath.Join(f.cfg.OutputsDir, rec.ID+".mp3"))
	require.NoError(t, err)
	assert.Equal(t, "[hi] hello", string(audio))

	stored, err := f.store.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.TranslatedText, stored.TranslatedText)
	assertNoWorkDirs(t, f.work)
}

func TestTranslateVideoSegmentsAndUsesLastLanguage(t *testing.T) {
	// two full minutes plus a ten second tail
	f := newFixture(t, 2*1920000+320000)
	f.asr.next = func(call int) (*asr.Fragment, error) {
		switch call {
		case 0:
			return &asr.Fragment{Text: "namaste", Language: "hi"}, nil
		case 1:
			return nil, nil
		default:
			return &asr.Fragment{Text: "goodbye", Language: "en"}, nil
		}
	}
	svc := f.service(t)

	rec, err := svc.TranslateVideo(context.Background(), "https://www.youtube.com/watch?v=abc", "ta")
	require.NoError(t, err)

	assert.Equal(t, []int{1920000, 1920000, 320000}, f.asr.calls, "the short tail is kept")
	assert.Equal(t, "namaste goodbye", rec.OriginalText)
	assert.Equal(t, "en", rec.DetectedLanguage)
	assert.Equal(t, result.KindVideo, rec.Kind)
	require.Len(t, rec.Segments, 2)
	assert.Equal(t, 0, rec.Segments[0].Index)
	assert.Equal(t, 2, rec.Segments[1].Index)
	assert.InDelta(t, 120.0, rec.Segments[1].Start, 0.001)
	assert.InDelta(t, 10.0, rec.Segments[1].Duration, 0.001)
	assert.EqualValues(t, 1, f.tr.calls.Load())
	assertNoWorkDirs(t, f.work)
}

func TestBatchRejections(t *testing.T) {
	tests := []struct {
		name    string
		next    func(int) (*asr.Fragment, error)
		target  string
		wantErr error
		wantMsg string
	}{
		{
			name:    "unsupported language",
			next:    func(int) (*asr.Fragment, error) { return &asr.Fragment{Text: "bonjour", Language: "fr"}, nil },
			target:  "hi",
			wantErr: asr.ErrUnsupportedLanguage,
			wantMsg: "Only English & Hindi input is supported",
		},
		{
			name:    "no speech",
			next:    func(int) (*asr.Fragment, error) { return nil, nil },
			target:  "hi",
			wantErr: asr.ErrEmptyRecognition,
			wantMsg: "No speech detected",
		},
		{
			name:    "missing target",
			target:  "",
			wantErr: ErrInvalidRequest,
			wantMsg: "target_lang is required",
		},
		{
			name:    "bad target",
			target:  "not a language",
			wantErr: ErrInvalidRequest,
			wantMsg: "unsupported target language: not a language",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 32000)
			if tt.next != nil {
				f.asr.next = tt.next
			}
			svc := f.service(t)
			_, err := svc.TranslateUpload(context.Background(), "a.wav", strings.NewReader("x"), tt.target)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantMsg, UserMessage(err, f.cfg.AllowedLanguages))
			assert.Zero(t, f.tr.calls.Load(), "nothing is translated")
			assertNoWorkDirs(t, f.work)
		})
	}
}

func TestTranslateVideoRejectsBadURL(t *testing.T) {
	f := newFixture(t, 32000)
	svc := f.service(t)
	for _, u := range []string{"", "ftp://host/x", "not a url", "https://"} {
		_, err := svc.TranslateVideo(context.Background(), u, "hi")
		assert.ErrorIs(t, err, ErrInvalidRequest, u)
	}
}

func TestToolFailures(t *testing.T) {
	t.Run("ffmpeg fails", func(t *testing.T) {
		f := newFixture(t, 0)
		f.cfg.FFmpeg = writeScript(t, t.TempDir(), "ffmpeg", `echo "Invalid data found" >&2; exit 1`)
		_, err := f.service(t).TranslateUpload(context.Background(), "a.mp4", strings.NewReader("x"), "hi")
		assert.ErrorIs(t, err, ErrConvert)
		assert.Contains(t, err.Error(), "Invalid data found")
		assert.Equal(t, "Could not decode the audio", UserMessage(err, nil))
		assertNoWorkDirs(t, f.work)
	})
	t.Run("downloader fails", func(t *testing.T) {
		f := newFixture(t, 32000)
		f.cfg.DownloadCommand = writeScript(t, t.TempDir(), "yt-dlp", `exit 2`)
		_, err := f.service(t).TranslateVideo(context.Background(), "https://example.com/v", "hi")
		assert.ErrorIs(t, err, ErrDownload)
		assert.Equal(t, "Could not download the video", UserMessage(err, nil))
	})
	t.Run("downloader writes nothing", func(t *testing.T) {
		f := newFixture(t, 32000)
		f.cfg.DownloadCommand = writeScript(t, t.TempDir(), "yt-dlp", `exit 0`)
		_, err := f.service(t).TranslateVideo(context.Background(), "https://example.com/v", "hi")
		assert.ErrorIs(t, err, ErrDownload)
	})
}

func TestDownloadArgsSubstitution(t *testing.T) {
	f := newFixture(t, 32000)
	bin := t.TempDir()
	argsFile := filepath.Join(bin, "args")
	f.cfg.DownloadCommand = writeScript(t, bin, "yt-dlp", `echo "$@" > `+argsFile+`
echo audio > "$2"`)
	f.cfg.DownloadArgs = []string{"-o", "{output}"}
	_, err := f.service(t).TranslateVideo(context.Background(), "https://example.com/v", "hi")
	require.NoError(t, err)

	raw, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	fields := strings.Fields(string(raw))
	require.Len(t, fields, 3)
	assert.Equal(t, "-o", fields[0])
	assert.True(t, strings.HasSuffix(fields[1], "/source"))
	assert.Equal(t, "https://example.com/v", fields[2], "url is appended when no placeholder is present")
}

func TestConcurrencyIsBounded(t *testing.T) {
	f := newFixture(t, 32000)
	f.cfg.MaxConcurrent = 1
	var inFlight, peak atomic.Int32
	f.asr.next = func(int) (*asr.Fragment, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return &asr.Fragment{Text: "hi", Language: "en"}, nil
	}
	svc := f.service(t)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.TranslateUpload(context.Background(), "a.wav", strings.NewReader("x"), "hi")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, peak.Load())
}

func TestCancelledWhileWaiting(t *testing.T) {
	f := newFixture(t, 32000)
	f.cfg.MaxConcurrent = 1
	svc := f.service(t)
	require.NoError(t, svc.sem.Acquire(context.Background(), 1))
	defer svc.sem.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := svc.TranslateUpload(ctx, "a.wav", strings.NewReader("x"), "hi")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "cancelled", Outcome(err))
}

func TestBatchEventsAndMetrics(t *testing.T) {
	f := newFixture(t, 32000)
	bus := eventbus.New(1, 8, logging.NewDiscard())
	bus.Start()
	defer bus.Stop()
	var got []eventbus.BatchEventData
	var mu sync.Mutex
	require.NoError(t, bus.Subscribe(eventbus.EventBatchCompleted, func(d eventbus.BatchEventData) {
		mu.Lock()
		got = append(got, d)
		mu.Unlock()
	}))
	metrics := observability.NewMetrics()
	f.deps.Bus = bus
	f.deps.Metrics = metrics
	svc := f.service(t)

	rec, err := svc.TranslateUpload(context.Background(), "a.wav", strings.NewReader("x"), "hi")
	require.NoError(t, err)
	f.asr.next = func(int) (*asr.Fragment, error) { return nil, nil }
	_, err = svc.TranslateUpload(context.Background(), "a.wav", strings.NewReader("x"), "hi")
	require.Error(t, err)
	bus.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, rec.ID, got[0].ID)
	assert.Empty(t, got[0].Error)
	assert.Equal(t, "en", got[0].Detected)
	assert.NotEmpty(t, got[1].Error)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BatchRequests.WithLabelValues(result.KindUpload, "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BatchRequests.WithLabelValues(result.KindUpload, "no_speech")))
}

func TestNewRequiresStages(t *testing.T) {
	_, err := New(Config{}, Deps{})
	assert.Error(t, err)
}

func TestSafeExt(t *testing.T) {
	assert.Equal(t, ".webm", safeExt("Recording.WEBM"))
	assert.Equal(t, ".wav", safeExt("../../etc/x.wav"))
	assert.Equal(t, "", safeExt("noext"))
	assert.Equal(t, "", safeExt("x.averyverylongext"))
}
