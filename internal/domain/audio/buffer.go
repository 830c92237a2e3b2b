package audio

import "sync"

// Window is a fixed-length PCM slice taken from a Buffer. The buffer never
// touches PCM again once the window is handed out.
type Window struct {
	Index int
	PCM   []byte
}

// Buffer accumulates decoder output and hands it out in exact windowSize pieces.
type Buffer struct {
	mu         sync.Mutex
	data       []byte
	windowSize int
	next       int
}

// NewBuffer creates a buffer producing windows of windowSize bytes.
func NewBuffer(windowSize int) *Buffer {
	if windowSize <= 0 {
		windowSize = DefaultFormat.WindowSize(3)
	}
	return &Buffer{
		data:       make([]byte, 0, windowSize*2),
		windowSize: windowSize,
	}
}

// WindowSize reports the configured window length in bytes.
func (b *Buffer) WindowSize() int {
	return b.windowSize
}

// Push appends p. The caller may reuse p afterwards.
func (b *Buffer) Push(p []byte) {
	if len(p) == 0 {
		return
	}
	b.mu.Lock()
	b.data = append(b.data, p...)
	b.mu.Unlock()
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// TryTakeWindow removes exactly WindowSize bytes if that many are buffered.
// It never blocks and never returns a short window.
func (b *Buffer) TryTakeWindow() (Window, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.data) < b.windowSize {
		return Window{}, false
	}

	pcm := make([]byte, b.windowSize)
	copy(pcm, b.data[:b.windowSize])

	remaining := copy(b.data, b.data[b.windowSize:])
	b.data = b.data[:remaining]

	w := Window{Index: b.next, PCM: pcm}
	b.next++
	return w, true
}

// Discard drops the trailing partial window and returns how many bytes were dropped.
func (b *Buffer) Discard() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.data)
	b.data = b.data[:0]
	return n
}
