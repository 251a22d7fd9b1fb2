package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrEmptySegment is returned when a segment carries no samples
	ErrEmptySegment = errors.New("audio: segment has no samples")

	// ErrSampleRateMismatch is returned when a segment was not captured at SampleRate
	ErrSampleRateMismatch = errors.New("audio: segment sample rate does not match capture rate")

	// ErrUnsupportedFormat is returned for unknown bit depths or containers
	ErrUnsupportedFormat = errors.New("audio: unsupported target format")
)

// Encode converts a segment into the byte payload described by format.
// The float32 path is lossless; the int16 path uses QuantizeInt16.
func Encode(seg Segment, format Format) ([]byte, error) {
	if seg.Len() == 0 {
		return nil, ErrEmptySegment
	}

	if seg.SampleRate != SampleRate {
		return nil, fmt.Errorf("%w: got %d Hz, want %d Hz", ErrSampleRateMismatch, seg.SampleRate, SampleRate)
	}

	if format.Depth != Float32 && format.Depth != Int16 {
		return nil, fmt.Errorf("%w: bit depth %d", ErrUnsupportedFormat, format.Depth)
	}

	switch format.Container {
	case RawPCM:
		if format.Depth == Float32 {
			return float32PCM(seg.samples), nil
		}
		return int16PCM(QuantizeInt16(seg.samples)), nil
	case WAV:
		if format.Depth == Float32 {
			return EncodeWAVFloat32(seg.samples, seg.SampleRate)
		}
		return EncodeWAV(QuantizeInt16(seg.samples), seg.SampleRate)
	default:
		return nil, fmt.Errorf("%w: container %d", ErrUnsupportedFormat, format.Container)
	}
}

// QuantizeInt16 converts float samples in [-1, 1] to signed 16-bit PCM.
// Values are clamped, scaled asymmetrically (32768 below zero, 32767 above)
// and rounded to nearest. NaN maps to silence.
func QuantizeInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = quantizeSample(s)
	}
	return out
}

func quantizeSample(s float32) int16 {
	v := float64(s)
	if math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}

	if v < 0 {
		return int16(math.Round(v * 32768))
	}
	return int16(math.Round(v * 32767))
}

func float32PCM(samples []float32) []byte {
	buf := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}
	return buf
}

func int16PCM(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// DecodeRawFloat32 decodes a raw little-endian float32 payload
func DecodeRawFloat32(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("raw float32 payload length %d is not a multiple of 4", len(data))
	}

	samples := make([]float32, len(data)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return samples, nil
}

// DecodeRawInt16 decodes a raw little-endian int16 payload
func DecodeRawInt16(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("raw int16 payload length %d is not a multiple of 2", len(data))
	}

	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples, nil
}
