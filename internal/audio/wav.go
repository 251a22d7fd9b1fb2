package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	wavHeaderSize = 44

	// WAVFormatPCM is the fmt chunk tag for integer linear PCM
	WAVFormatPCM uint16 = 1
	// WAVFormatIEEEFloat is the fmt chunk tag for IEEE-754 float samples
	WAVFormatIEEEFloat uint16 = 3
)

// WAVHeader represents the header structure of a WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM and float
	AudioFormat   uint16  // 1 for PCM, 3 for IEEE float
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

func newWAVHeader(audioFormat, bitsPerSample uint16, sampleRate int, dataSize uint32) WAVHeader {
	numChannels := uint16(Channels)

	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   audioFormat,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// wrapWAV prepends a RIFF header to an already encoded little-endian PCM payload
func wrapWAV(pcm []byte, format Format, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	audioFormat := WAVFormatPCM
	if format.Depth == Float32 {
		audioFormat = WAVFormatIEEEFloat
	}
	header := newWAVHeader(audioFormat, uint16(format.BitsPerSample()), sampleRate, uint32(len(pcm)))

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	buf.Write(pcm)

	return buf.Bytes(), nil
}

// EncodeWAV encodes PCM-16 samples into WAV format
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}
	return wrapWAV(int16PCM(samples), FormatWAVInt16, sampleRate)
}

// EncodeWAVFloat32 encodes float32 samples into an IEEE float WAV file
func EncodeWAVFloat32(samples []float32, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}
	return wrapWAV(float32PCM(samples), FormatWAVFloat32, sampleRate)
}

// readWAVHeader parses and validates the fixed 44-byte header
func readWAVHeader(data []byte) (WAVHeader, []byte, error) {
	var header WAVHeader

	if err := ValidateWAV(data); err != nil {
		return header, nil, err
	}

	if err := binary.Read(bytes.NewReader(data[:wavHeaderSize]), binary.LittleEndian, &header); err != nil {
		return header, nil, fmt.Errorf("failed to read WAV header: %w", err)
	}

	if header.NumChannels != Channels {
		return header, nil, fmt.Errorf("unsupported channel count: %d (only mono is supported)", header.NumChannels)
	}

	payload := data[wavHeaderSize:]
	if int(header.Subchunk2Size) > len(payload) {
		return header, nil, fmt.Errorf("WAV data chunk truncated: header declares %d bytes, got %d", header.Subchunk2Size, len(payload))
	}
	payload = payload[:header.Subchunk2Size]

	if len(payload) == 0 {
		return header, nil, fmt.Errorf("no audio data found")
	}

	return header, payload, nil
}

// DecodeWAV decodes 16-bit PCM WAV data back to samples
func DecodeWAV(data []byte) ([]int16, int, error) {
	header, payload, err := readWAVHeader(data)
	if err != nil {
		return nil, 0, err
	}

	if header.AudioFormat != WAVFormatPCM {
		return nil, 0, fmt.Errorf("unsupported audio format: %d (expected PCM)", header.AudioFormat)
	}

	if header.BitsPerSample != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", header.BitsPerSample)
	}

	samples, err := DecodeRawInt16(payload)
	if err != nil {
		return nil, 0, err
	}

	return samples, int(header.SampleRate), nil
}

// DecodeWAVFloat32 decodes 32-bit IEEE float WAV data back to samples
func DecodeWAVFloat32(data []byte) ([]float32, int, error) {
	header, payload, err := readWAVHeader(data)
	if err != nil {
		return nil, 0, err
	}

	if header.AudioFormat != WAVFormatIEEEFloat {
		return nil, 0, fmt.Errorf("unsupported audio format: %d (expected IEEE float)", header.AudioFormat)
	}

	if header.BitsPerSample != 32 {
		return nil, 0, fmt.Errorf("unsupported bit depth: %d (only 32-bit float is supported)", header.BitsPerSample)
	}

	samples, err := DecodeRawFloat32(payload)
	if err != nil {
		return nil, 0, err
	}

	return samples, int(header.SampleRate), nil
}

// ValidateWAV validates a WAV file format without decoding the entire audio data
func ValidateWAV(data []byte) error {
	if len(data) < wavHeaderSize {
		return fmt.Errorf("WAV data too short: need at least %d bytes, got %d", wavHeaderSize, len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(data[8:12]) != "WAVE" {
		return fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	if string(data[12:16]) != "fmt " {
		return fmt.Errorf("invalid WAV file: missing fmt chunk")
	}

	if string(data[36:40]) != "data" {
		return fmt.Errorf("invalid WAV file: missing data chunk")
	}

	return nil
}

// WAVInfo holds basic information about a WAV file
type WAVInfo struct {
	AudioFormat   uint16  `json:"audio_format"`
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumSamples    uint32  `json:"num_samples"`
}

// GetWAVInfo extracts metadata from a WAV file
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	if err := ValidateWAV(data); err != nil {
		return nil, err
	}

	var header WAVHeader
	if err := binary.Read(bytes.NewReader(data[:wavHeaderSize]), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}

	if header.BitsPerSample < 8 || header.SampleRate == 0 {
		return nil, fmt.Errorf("invalid WAV header: bits_per_sample=%d sample_rate=%d", header.BitsPerSample, header.SampleRate)
	}

	numSamples := header.Subchunk2Size / (uint32(header.BitsPerSample) / 8)
	duration := float64(numSamples) / float64(header.SampleRate)

	return &WAVInfo{
		AudioFormat:   header.AudioFormat,
		SampleRate:    header.SampleRate,
		Channels:      header.NumChannels,
		BitsPerSample: header.BitsPerSample,
		Duration:      duration,
		DataSize:      header.Subchunk2Size,
		NumSamples:    numSamples,
	}, nil
}
