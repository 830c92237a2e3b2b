package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	platformerrors "speech-translate-server/internal/platform/errors"
	"speech-translate-server/internal/platform/logging"
)

// Handle is a running decoder. ReadChunk is not safe for concurrent use; Close is.
type Handle struct {
	cmd    *exec.Cmd
	stderr *tailBuffer
	cfg    Config
	logger *logging.Logger

	chunks  chan []byte
	done    chan struct{}
	exited  chan struct{}
	pending []byte

	waitErr   error
	readBytes int64

	closeOnce sync.Once
	closeErr  error
}

func newHandle(cmd *exec.Cmd, stderr *tailBuffer, cfg Config, logger *logging.Logger) *Handle {
	return &Handle{
		cmd:    cmd,
		stderr: stderr,
		cfg:    cfg,
		logger: logger,
		chunks: make(chan []byte, cfg.QueueDepth),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

// PID returns the decoder's process id.
func (h *Handle) PID() int {
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Exited is closed after the decoder has been reaped.
func (h *Handle) Exited() <-chan struct{} {
	return h.exited
}

func (h *Handle) run(stdout io.ReadCloser) {
	defer close(h.exited)

	buf := make([]byte, h.cfg.ReadSize)
	var total int64
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			total += int64(n)
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case h.chunks <- chunk:
			case <-h.done:
				close(h.chunks)
				h.reap(total)
				return
			}
		}
		if err != nil {
			break
		}
	}
	close(h.chunks)
	h.reap(total)
}

func (h *Handle) reap(total int64) {
	err := h.cmd.Wait()
	h.readBytes = total
	if err != nil {
		h.waitErr = err
		h.logger.DebugTag("Source", "decoder pid=%d exited: %v stderr=%q", h.PID(), err, h.stderr.String())
		return
	}
	h.logger.DebugTag("Source", "decoder pid=%d exited after %d bytes", h.PID(), total)
}

// ReadChunk returns up to maxBytes of PCM. A nil slice with a nil error means
// no data arrived within the poll interval. After the decoder exits and the
// buffered bytes are drained it returns ErrStreamEnded, or ErrSourceUnavailable
// when the decoder failed without producing any audio.
func (h *Handle) ReadChunk(ctx context.Context, maxBytes int) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = h.cfg.ReadSize
	}
	if len(h.pending) > 0 {
		return h.fill(nil, maxBytes), nil
	}

	timer := time.NewTimer(h.cfg.PollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, ErrStreamEnded
	case chunk, ok := <-h.chunks:
		if !ok {
			return nil, h.endErr()
		}
		return h.fill(chunk, maxBytes), nil
	case <-timer.C:
		return nil, nil
	}
}

// fill appends queued chunks to first without blocking until maxBytes is reached.
func (h *Handle) fill(first []byte, maxBytes int) []byte {
	out := make([]byte, 0, maxBytes)
	take := func(b []byte) bool {
		room := maxBytes - len(out)
		if len(b) > room {
			out = append(out, b[:room]...)
			h.pending = append(h.pending[:0:0], b[room:]...)
			return false
		}
		out = append(out, b...)
		return true
	}

	if len(h.pending) > 0 {
		p := h.pending
		h.pending = nil
		if !take(p) {
			return out
		}
	}
	if first != nil && !take(first) {
		return out
	}
	for len(out) < maxBytes {
		select {
		case chunk, ok := <-h.chunks:
			if !ok {
				return out
			}
			if !take(chunk) {
				return out
			}
		default:
			return out
		}
	}
	return out
}

func (h *Handle) endErr() error {
	<-h.exited
	if h.waitErr != nil && h.readBytes == 0 {
		return platformerrors.Wrap(platformerrors.KindSource, "source.read",
			fmt.Sprintf("decoder failed: %s", h.stderr.String()),
			fmt.Errorf("%w: %v", ErrSourceUnavailable, h.waitErr))
	}
	return ErrStreamEnded
}

// Close stops the decoder and every process it spawned, then waits up to the
// kill timeout for it to be reaped. Calling Close more than once is harmless.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		close(h.done)

		select {
		case <-h.exited:
			return
		default:
		}

		pid := h.PID()
		for _, child := range descendants(int32(pid)) {
			if err := child.Kill(); err != nil {
				h.logger.DebugTag("Source", "kill child pid=%d: %v", child.Pid, err)
			}
		}
		if h.cmd.Process != nil {
			if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, errProcessDone) {
				h.logger.DebugTag("Source", "kill decoder pid=%d: %v", pid, err)
			}
		}

		select {
		case <-h.exited:
		case <-time.After(h.cfg.KillTimeout):
			h.closeErr = platformerrors.New(platformerrors.KindSource, "source.close",
				fmt.Sprintf("decoder pid=%d did not exit within %s", pid, h.cfg.KillTimeout))
			h.logger.WarnTag("Source", "decoder pid=%d did not exit within %s", pid, h.cfg.KillTimeout)
		}
	})
	return h.closeErr
}

// descendants walks the process table for every transitive child of root.
func descendants(root int32) []*process.Process {
	procs, err := process.Processes()
	if err != nil {
		return nil
	}
	byParent := make(map[int32][]*process.Process)
	for _, p := range procs {
		ppid, err := p.Ppid()
		if err != nil {
			continue
		}
		byParent[ppid] = append(byParent[ppid], p)
	}

	var out []*process.Process
	queue := []int32{root}
	seen := map[int32]bool{root: true}
	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]
		for _, child := range byParent[pid] {
			if seen[child.Pid] {
				continue
			}
			seen[child.Pid] = true
			out = append(out, child)
			queue = append(queue, child.Pid)
		}
	}
	return out
}
