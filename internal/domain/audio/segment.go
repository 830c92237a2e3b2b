package audio

// Segment splits pcm into consecutive pieces of size bytes. Unlike Buffer the
// final short piece is kept, so no audio is lost in batch processing.
func Segment(pcm []byte, size int) [][]byte {
	if len(pcm) == 0 {
		return nil
	}
	if size <= 0 || size >= len(pcm) {
		return [][]byte{pcm}
	}

	segments := make([][]byte, 0, (len(pcm)+size-1)/size)
	for start := 0; start < len(pcm); start += size {
		end := start + size
		if end > len(pcm) {
			end = len(pcm)
		}
		segments = append(segments, pcm[start:end])
	}
	return segments
}
