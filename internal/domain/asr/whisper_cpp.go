package asr

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"speech-translate-server/internal/domain/audio"
	"speech-translate-server/internal/platform/config"
	"speech-translate-server/internal/platform/logging"
)

// WhisperCPP runs a local whisper.cpp CLI per window.
type WhisperCPP struct {
	binary  string
	model   string
	threads int
	logger  *logging.Logger
}

type whisperCPPOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Text string `json:"text"`
	} `json:"transcription"`
}

// NewWhisperCPP builds the local backend.
func NewWhisperCPP(cfg config.WhisperCPPConfig, logger *logging.Logger) *WhisperCPP {
	binary := cfg.Binary
	if binary == "" {
		binary = "whisper-cli"
	}
	return &WhisperCPP{binary: binary, model: cfg.Model, threads: cfg.Threads, logger: logger}
}

func (w *WhisperCPP) Recognize(ctx context.Context, req Request) (*Fragment, error) {
	if len(req.PCM) == 0 {
		return nil, nil
	}
	format := req.Format
	if format.SampleRate == 0 {
		format = audio.DefaultFormat
	}

	dir := req.ScratchDir
	if dir == "" {
		dir = os.TempDir()
	}
	prefix := filepath.Join(dir, "window-"+uuid.NewString())
	wavPath := prefix + ".wav"
	jsonPath := prefix + ".json"
	defer os.Remove(wavPath)
	defer os.Remove(jsonPath)

	wav, err := audio.EncodeWAV(req.PCM, format)
	if err != nil {
		return nil, backendErr("asr.whispercpp", err)
	}
	if err := os.WriteFile(wavPath, wav, 0o600); err != nil {
		return nil, backendErr("asr.whispercpp", err)
	}

	args := []string{"-f", wavPath, "-l", "auto", "-oj", "-of", prefix, "-np"}
	if w.model != "" {
		args = append([]string{"-m", w.model}, args...)
	}
	if w.threads > 0 {
		args = append(args, "-t", strconv.Itoa(w.threads))
	}

	cmd := exec.CommandContext(ctx, w.binary, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, backendErr("asr.whispercpp", fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String())))
	}

	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, backendErr("asr.whispercpp", err)
	}
	var out whisperCPPOutput
	if err := sonic.Unmarshal(data, &out); err != nil {
		return nil, backendErr("asr.whispercpp", fmt.Errorf("decode output: %w", err))
	}

	var text strings.Builder
	for _, seg := range out.Transcription {
		text.WriteString(seg.Text)
	}
	w.logger.DebugTag("ASR", "whisper.cpp language=%s segments=%d", out.Result.Language, len(out.Transcription))
	return finish(text.String(), out.Result.Language, req.Allowed)
}
