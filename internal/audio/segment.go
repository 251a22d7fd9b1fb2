package audio

import (
	"time"
)

const (
	// SampleRate is the fixed capture rate shared by the detector and every backend
	SampleRate = 16000

	// Channels is the capture channel count (mono)
	Channels = 1
)

// Segment is one captured span of speech between a speech-start and a speech-end event.
// A Segment is immutable once constructed: NewSegment copies the sample buffer.
type Segment struct {
	ID         uint64
	SampleRate int
	CapturedAt time.Time

	samples []float32
}

// NewSegment creates a segment at the fixed capture rate from a detector sample buffer
func NewSegment(id uint64, samples []float32, capturedAt time.Time) Segment {
	owned := make([]float32, len(samples))
	copy(owned, samples)

	return Segment{
		ID:         id,
		SampleRate: SampleRate,
		CapturedAt: capturedAt,
		samples:    owned,
	}
}

// Samples returns a copy of the segment samples
func (s Segment) Samples() []float32 {
	out := make([]float32, len(s.samples))
	copy(out, s.samples)
	return out
}

// Len returns the number of samples in the segment
func (s Segment) Len() int {
	return len(s.samples)
}

// Duration returns the audio duration of the segment
func (s Segment) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(s.samples)) * time.Second / time.Duration(s.SampleRate)
}
