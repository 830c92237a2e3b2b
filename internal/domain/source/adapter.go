package source

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	platformerrors "speech-translate-server/internal/platform/errors"
	"speech-translate-server/internal/platform/logging"
)

var (
	// ErrSourceUnavailable means the decoder could not be started or produced no audio before failing.
	ErrSourceUnavailable = errors.New("audio source unavailable")
	// ErrStreamEnded is returned once the decoder has exited and every buffered byte was read.
	ErrStreamEnded = errors.New("audio stream ended")
)

// URLPlaceholder in Config.Args is replaced with the stream locator.
const URLPlaceholder = "{url}"

// Config describes how the decoder process is launched and polled.
type Config struct {
	Command      string
	Args         []string
	PollInterval time.Duration
	KillTimeout  time.Duration
	// ReadSize is the pipe read size of the reader goroutine.
	ReadSize int
	// QueueDepth bounds the number of chunks held between the pipe and ReadChunk.
	QueueDepth int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.KillTimeout <= 0 {
		c.KillTimeout = 3 * time.Second
	}
	if c.ReadSize <= 0 {
		c.ReadSize = 4096
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 64
	}
	return c
}

// Adapter starts one decoder process per live session.
type Adapter struct {
	cfg    Config
	logger *logging.Logger
}

// NewAdapter builds an adapter for cfg.
func NewAdapter(cfg Config, logger *logging.Logger) *Adapter {
	return &Adapter{cfg: cfg.withDefaults(), logger: logger}
}

// Args renders the decoder arguments for locator.
func (a *Adapter) Args(locator string) []string {
	args := make([]string, 0, len(a.cfg.Args)+1)
	substituted := false
	for _, arg := range a.cfg.Args {
		if strings.Contains(arg, URLPlaceholder) {
			arg = strings.ReplaceAll(arg, URLPlaceholder, locator)
			substituted = true
		}
		args = append(args, arg)
	}
	if !substituted {
		args = append(args, locator)
	}
	return args
}

// Open starts the decoder for locator. The returned handle must be closed.
func (a *Adapter) Open(ctx context.Context, locator string) (*Handle, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return nil, unavailable("empty source locator", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	binary, err := exec.LookPath(a.cfg.Command)
	if err != nil {
		return nil, unavailable(fmt.Sprintf("decoder %q not found", a.cfg.Command), err)
	}

	cmd := exec.Command(binary, a.Args(locator)...)
	stderr := &tailBuffer{limit: 2048}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, unavailable("decoder stdout pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, unavailable("decoder start", err)
	}

	h := newHandle(cmd, stderr, a.cfg, a.logger)
	go h.run(stdout)

	a.logger.DebugTag("Source", "decoder started pid=%d locator=%s", cmd.Process.Pid, locator)
	return h, nil
}

func unavailable(msg string, cause error) error {
	wrapped := ErrSourceUnavailable
	if cause != nil {
		wrapped = fmt.Errorf("%w: %v", ErrSourceUnavailable, cause)
	}
	return platformerrors.Wrap(platformerrors.KindSource, "source.open", msg, wrapped)
}
