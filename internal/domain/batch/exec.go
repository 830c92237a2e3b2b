package batch

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	platformerrors "speech-translate-server/internal/platform/errors"
)

const (
	urlPlaceholder    = "{url}"
	outputPlaceholder = "{output}"

	stderrTail = 2048
)

// convert decodes input into raw PCM of the configured format.
func (s *Service) convert(ctx context.Context, dir, input string) ([]byte, error) {
	output := filepath.Join(dir, "audio.pcm")
	args := []string{
		"-y", "-loglevel", "error",
		"-i", input,
		"-vn",
		"-ac", strconv.Itoa(s.cfg.Format.Channels),
		"-ar", strconv.Itoa(s.cfg.Format.SampleRate),
		"-f", "s16le",
		output,
	}
	if err := s.exec(ctx, s.cfg.FFmpeg, args); err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindSource, "batch.convert", "ffmpeg", fmt.Errorf("%w: %w", ErrConvert, err))
	}
	pcm, err := os.ReadFile(output)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindSource, "batch.convert", "read pcm", fmt.Errorf("%w: %w", ErrConvert, err))
	}
	return pcm, nil
}

// download fetches the audio track of videoURL into dir and returns its path.
func (s *Service) download(ctx context.Context, dir, videoURL string) (string, error) {
	output := filepath.Join(dir, "source")
	args := make([]string, 0, len(s.cfg.DownloadArgs)+1)
	hasURL := false
	for _, a := range s.cfg.DownloadArgs {
		if strings.Contains(a, urlPlaceholder) {
			hasURL = true
		}
		a = strings.ReplaceAll(a, urlPlaceholder, videoURL)
		args = append(args, strings.ReplaceAll(a, outputPlaceholder, output))
	}
	if !hasURL {
		args = append(args, videoURL)
	}

	if err := s.exec(ctx, s.cfg.DownloadCommand, args); err != nil {
		return "", platformerrors.Wrap(platformerrors.KindSource, "batch.download", videoURL, fmt.Errorf("%w: %w", ErrDownload, err))
	}

	// downloaders may append an extension to the output template
	matches, _ := filepath.Glob(output + "*")
	for _, m := range matches {
		if fi, err := os.Stat(m); err == nil && fi.Mode().IsRegular() && fi.Size() > 0 {
			return m, nil
		}
	}
	return "", platformerrors.Wrap(platformerrors.KindSource, "batch.download", videoURL, fmt.Errorf("%w: no output file", ErrDownload))
}

func (s *Service) exec(ctx context.Context, name string, args []string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	s.deps.Logger.DebugTag("Batch", "exec %s %s", name, strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		tail := strings.TrimSpace(stderr.String())
		if len(tail) > stderrTail {
			tail = tail[len(tail)-stderrTail:]
		}
		if tail != "" {
			return fmt.Errorf("%s: %w: %s", name, err, tail)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
