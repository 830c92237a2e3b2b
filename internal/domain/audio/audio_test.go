package audio

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultWindowSize(t *testing.T) {
	assert.Equal(t, 2, DefaultFormat.FrameSize())
	assert.Equal(t, 32000, DefaultFormat.BytesPerSecond())
	assert.Equal(t, 96000, DefaultFormat.WindowSize(3))
	assert.Equal(t, 3*time.Second, DefaultFormat.Duration(96000))
	assert.Zero(t, DefaultFormat.WindowSize(0))
}

func TestBufferYieldsExactWindows(t *testing.T) {
	const size = 96000
	buf := NewBuffer(size)

	// 250000 bytes pushed in uneven chunks
	pushed := 0
	for _, n := range []int{4096, 100000, 45904, 100000} {
		buf.Push(bytes.Repeat([]byte{byte(n)}, n))
		pushed += n
	}
	require.Equal(t, 250000, pushed)

	var windows []Window
	for {
		w, ok := buf.TryTakeWindow()
		if !ok {
			break
		}
		windows = append(windows, w)
	}

	require.Len(t, windows, 2)
	for i, w := range windows {
		assert.Equal(t, i, w.Index)
		assert.Len(t, w.PCM, size)
	}
	assert.Equal(t, 58000, buf.Len())
	assert.Equal(t, 58000, buf.Discard())
	assert.Zero(t, buf.Len())
}

func TestBufferSingleShortPush(t *testing.T) {
	buf := NewBuffer(96000)
	buf.Push(make([]byte, 95999))

	_, ok := buf.TryTakeWindow()
	assert.False(t, ok)

	buf.Push([]byte{1})
	w, ok := buf.TryTakeWindow()
	require.True(t, ok)
	assert.Len(t, w.PCM, 96000)
	assert.Equal(t, byte(1), w.PCM[95999])
}

func TestWindowIsDetachedFromBuffer(t *testing.T) {
	buf := NewBuffer(4)
	buf.Push([]byte{1, 2, 3, 4, 5, 6})
	w, ok := buf.TryTakeWindow()
	require.True(t, ok)

	buf.Push([]byte{9, 9, 9})
	assert.Equal(t, []byte{1, 2, 3, 4}, w.PCM)

	next, ok := buf.TryTakeWindow()
	require.True(t, ok)
	assert.Equal(t, []byte{5, 6, 9, 9}, next.PCM)
}

func TestSegmentKeepsTail(t *testing.T) {
	pcm := make([]byte, 10)
	segs := Segment(pcm, 4)
	require.Len(t, segs, 3)
	assert.Len(t, segs[2], 2)

	assert.Len(t, Segment(pcm, 0), 1)
	assert.Nil(t, Segment(nil, 4))
}

func TestEncodeWAV(t *testing.T) {
	pcm := []byte{0x01, 0x00, 0xff, 0x7f}
	wav, err := EncodeWAV(pcm, DefaultFormat)
	require.NoError(t, err)
	require.Len(t, wav, wavHeaderSize+len(pcm))
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, "WAVE", string(wav[8:12]))

	got, f, err := DecodeWAV(wav)
	require.NoError(t, err)
	assert.Equal(t, pcm, got)
	assert.Equal(t, DefaultFormat, f)

	_, err = EncodeWAV(nil, DefaultFormat)
	assert.Error(t, err)
	_, _, err = DecodeWAV([]byte("short"))
	assert.Error(t, err)
}
