package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speech-translate-server/internal/platform/logging"
)

func shellAdapter(t *testing.T, script string) *Adapter {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh available")
	}
	return NewAdapter(Config{
		Command:      "/bin/sh",
		Args:         []string{"-c", script, "decoder", URLPlaceholder},
		PollInterval: 20 * time.Millisecond,
		KillTimeout:  2 * time.Second,
	}, logging.NewDiscard())
}

func readAll(t *testing.T, h *Handle) (int, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	total := 0
	for {
		chunk, err := h.ReadChunk(ctx, 4096)
		total += len(chunk)
		if err != nil {
			return total, err
		}
		assert.LessOrEqual(t, len(chunk), 4096)
	}
}

func alive(pid int32) bool {
	p, err := process.NewProcess(pid)
	if err != nil {
		return false
	}
	running, err := p.IsRunning()
	if err != nil || !running {
		return false
	}
	status, err := p.Status()
	if err == nil {
		for _, s := range status {
			if s == "zombie" || s == "Z" {
				return false
			}
		}
	}
	return true
}

func TestAdapterArgsSubstitutesLocator(t *testing.T) {
	a := NewAdapter(Config{Command: "ffmpeg", Args: []string{"-i", "{url}", "-f", "s16le", "pipe:1"}}, nil)
	assert.Equal(t, []string{"-i", "http://x/live.m3u8", "-f", "s16le", "pipe:1"}, a.Args("http://x/live.m3u8"))

	b := NewAdapter(Config{Command: "cat", Args: nil}, nil)
	assert.Equal(t, []string{"in.pcm"}, b.Args("in.pcm"))
}

func TestOpenEmptyLocator(t *testing.T) {
	a := NewAdapter(Config{Command: "/bin/sh"}, nil)
	_, err := a.Open(context.Background(), "   ")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceUnavailable))
}

func TestOpenMissingBinary(t *testing.T) {
	a := NewAdapter(Config{Command: "definitely-not-a-decoder-binary"}, nil)
	_, err := a.Open(context.Background(), "http://example.com/stream")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceUnavailable))
}

func TestReadChunkThenStreamEnded(t *testing.T) {
	a := shellAdapter(t, "head -c 100000 /dev/zero")
	h, err := a.Open(context.Background(), "file://ignored")
	require.NoError(t, err)
	defer h.Close()

	total, err := readAll(t, h)
	assert.ErrorIs(t, err, ErrStreamEnded)
	assert.Equal(t, 100000, total)

	// stays ended
	chunk, err := h.ReadChunk(context.Background(), 4096)
	assert.Nil(t, chunk)
	assert.ErrorIs(t, err, ErrStreamEnded)
}

func TestReadChunkFailingDecoder(t *testing.T) {
	a := shellAdapter(t, "echo 'no such stream' >&2; exit 1")
	h, err := a.Open(context.Background(), "http://bad")
	require.NoError(t, err)
	defer h.Close()

	_, err = readAll(t, h)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.Contains(t, err.Error(), "no such stream")
}

func TestReadChunkIdleReturnsNothing(t *testing.T) {
	a := shellAdapter(t, "exec sleep 30")
	h, err := a.Open(context.Background(), "http://slow")
	require.NoError(t, err)

	chunk, err := h.ReadChunk(context.Background(), 4096)
	assert.NoError(t, err)
	assert.Nil(t, chunk)

	start := time.Now()
	require.NoError(t, h.Close())
	assert.Less(t, time.Since(start), 2*time.Second)

	select {
	case <-h.Exited():
	default:
		t.Fatal("decoder not reaped after Close")
	}
	assert.NoError(t, h.Close(), "second close is a no-op")
}

func TestReadChunkHonoursContext(t *testing.T) {
	a := shellAdapter(t, "exec sleep 30")
	h, err := a.Open(context.Background(), "http://slow")
	require.NoError(t, err)
	defer h.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.ReadChunk(ctx, 4096)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCloseKillsProcessTree(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "child.pid")
	a := shellAdapter(t, "sleep 30 & echo $! > "+pidFile+"; wait")
	h, err := a.Open(context.Background(), "http://tree")
	require.NoError(t, err)

	var childPID int
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(pidFile)
		if err != nil {
			return false
		}
		childPID, err = strconv.Atoi(strings.TrimSpace(string(data)))
		return err == nil && childPID > 0
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, h.Close())

	assert.Eventually(t, func() bool {
		return !alive(int32(childPID))
	}, 3*time.Second, 50*time.Millisecond, "child pid %d survived Close", childPID)
	assert.False(t, alive(int32(h.PID())))
}
