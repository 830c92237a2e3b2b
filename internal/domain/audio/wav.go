package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// wavHeader is the canonical 44-byte RIFF/WAVE PCM header.
type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

const wavHeaderSize = 44

// EncodeWAV wraps raw PCM in a WAV container.
func EncodeWAV(pcm []byte, f Format) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio")
	}
	if f.SampleRate <= 0 || f.FrameSize() <= 0 {
		return nil, fmt.Errorf("invalid pcm format %+v", f)
	}

	dataSize := uint32(len(pcm))
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(f.Channels),
		SampleRate:    uint32(f.SampleRate),
		ByteRate:      uint32(f.BytesPerSecond()),
		BlockAlign:    uint16(f.FrameSize()),
		BitsPerSample: uint16(f.BitsPerSample),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}

// DecodeWAV extracts PCM and its format from a canonical PCM WAV file.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	if len(data) < wavHeaderSize {
		return nil, Format{}, fmt.Errorf("WAV data too short: need at least %d bytes, got %d", wavHeaderSize, len(data))
	}

	var header wavHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, Format{}, fmt.Errorf("failed to read WAV header: %w", err)
	}
	switch {
	case string(header.ChunkID[:]) != "RIFF":
		return nil, Format{}, fmt.Errorf("invalid WAV file: missing RIFF header")
	case string(header.Format[:]) != "WAVE":
		return nil, Format{}, fmt.Errorf("invalid WAV file: missing WAVE format")
	case string(header.Subchunk2ID[:]) != "data":
		return nil, Format{}, fmt.Errorf("invalid WAV file: missing data chunk")
	case header.AudioFormat != 1:
		return nil, Format{}, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", header.AudioFormat)
	}

	end := wavHeaderSize + int(header.Subchunk2Size)
	if end > len(data) {
		end = len(data)
	}
	f := Format{
		SampleRate:    int(header.SampleRate),
		Channels:      int(header.NumChannels),
		BitsPerSample: int(header.BitsPerSample),
	}
	return data[wavHeaderSize:end], f, nil
}
