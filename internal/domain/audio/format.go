package audio

import (
	"math"
	"time"
)

// Format describes interleaved little-endian PCM.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// DefaultFormat is what the decoder is asked to produce: mono s16le at 16 kHz.
var DefaultFormat = Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}

// FrameSize is the number of bytes holding one sample for every channel.
func (f Format) FrameSize() int {
	return f.Channels * f.BitsPerSample / 8
}

// BytesPerSecond returns the PCM byte rate.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.FrameSize()
}

// WindowSize returns the byte length of a window holding seconds of audio,
// rounded down to a whole frame. 3 seconds of DefaultFormat is 96000 bytes.
func (f Format) WindowSize(seconds float64) int {
	frame := f.FrameSize()
	if frame <= 0 || seconds <= 0 {
		return 0
	}
	frames := int(math.Round(float64(f.SampleRate) * seconds))
	return frames * frame
}

// Duration converts a PCM byte count to playback time.
func (f Format) Duration(n int) time.Duration {
	rate := f.BytesPerSecond()
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}
