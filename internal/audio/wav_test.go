package audio

import (
	"math"
	"testing"
)

func TestEncodeWAV(t *testing.T) {
	// Generate test audio samples (440Hz sine wave for 0.1 seconds at 16kHz)
	duration := 0.1
	frequency := 440.0

	numSamples := int(float64(SampleRate) * duration)
	samples := make([]int16, numSamples)

	for i := 0; i < numSamples; i++ {
		t := float64(i) / float64(SampleRate)
		amplitude := 16383.0 // Half of max int16 to avoid clipping
		samples[i] = int16(amplitude * math.Sin(2*math.Pi*frequency*t))
	}

	wavData, err := EncodeWAV(samples, SampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	expectedSize := 44 + len(samples)*2
	if len(wavData) != expectedSize {
		t.Errorf("Expected WAV size %d, got %d", expectedSize, len(wavData))
	}

	if err := ValidateWAV(wavData); err != nil {
		t.Errorf("Generated WAV is invalid: %v", err)
	}

	info, err := GetWAVInfo(wavData)
	if err != nil {
		t.Fatalf("Failed to get WAV info: %v", err)
	}

	if info.AudioFormat != WAVFormatPCM {
		t.Errorf("Expected audio format %d, got %d", WAVFormatPCM, info.AudioFormat)
	}

	if info.SampleRate != SampleRate {
		t.Errorf("Expected sample rate %d, got %d", SampleRate, info.SampleRate)
	}

	if info.Channels != 1 {
		t.Errorf("Expected 1 channel, got %d", info.Channels)
	}

	if info.BitsPerSample != 16 {
		t.Errorf("Expected 16 bits per sample, got %d", info.BitsPerSample)
	}

	if math.Abs(info.Duration-duration) > 0.001 {
		t.Errorf("Expected duration %.3f, got %.3f", duration, info.Duration)
	}
}

func TestDecodeWAV(t *testing.T) {
	originalSamples := []int16{100, -200, 300, -400, 500}

	wavData, err := EncodeWAV(originalSamples, SampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	decodedSamples, decodedSampleRate, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	if decodedSampleRate != SampleRate {
		t.Errorf("Expected sample rate %d, got %d", SampleRate, decodedSampleRate)
	}

	if len(decodedSamples) != len(originalSamples) {
		t.Fatalf("Expected %d samples, got %d", len(originalSamples), len(decodedSamples))
	}

	for i, original := range originalSamples {
		if decodedSamples[i] != original {
			t.Errorf("Sample %d: expected %d, got %d", i, original, decodedSamples[i])
		}
	}
}

func TestEncodeWAVFloat32Header(t *testing.T) {
	samples := []float32{0.1, -0.1, 0.05}

	wavData, err := EncodeWAVFloat32(samples, SampleRate)
	if err != nil {
		t.Fatalf("EncodeWAVFloat32 failed: %v", err)
	}

	info, err := GetWAVInfo(wavData)
	if err != nil {
		t.Fatalf("Failed to get WAV info: %v", err)
	}

	if info.AudioFormat != WAVFormatIEEEFloat {
		t.Errorf("Expected IEEE float format tag, got %d", info.AudioFormat)
	}

	if info.BitsPerSample != 32 {
		t.Errorf("Expected 32 bits per sample, got %d", info.BitsPerSample)
	}

	if info.NumSamples != uint32(len(samples)) {
		t.Errorf("Expected %d samples, got %d", len(samples), info.NumSamples)
	}

	// A float file must not decode as 16-bit PCM
	if _, _, err := DecodeWAV(wavData); err == nil {
		t.Error("Expected DecodeWAV to reject an IEEE float file")
	}
}

func TestEncodeWAVEmpty(t *testing.T) {
	if _, err := EncodeWAV([]int16{}, SampleRate); err == nil {
		t.Error("Expected error for empty samples")
	}

	if _, err := EncodeWAVFloat32(nil, SampleRate); err == nil {
		t.Error("Expected error for empty float samples")
	}
}

func TestEncodeWAVInvalidSampleRate(t *testing.T) {
	samples := []int16{100, 200, 300}

	if _, err := EncodeWAV(samples, 0); err == nil {
		t.Error("Expected error for zero sample rate")
	}

	if _, err := EncodeWAV(samples, -1000); err == nil {
		t.Error("Expected error for negative sample rate")
	}
}

func TestValidateWAV(t *testing.T) {
	if err := ValidateWAV([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for too short WAV data")
	}

	invalidWAV := make([]byte, 50)
	copy(invalidWAV[0:4], []byte("FAKE"))
	if err := ValidateWAV(invalidWAV); err == nil {
		t.Error("Expected error for invalid RIFF header")
	}
}

func TestDecodeWAVTruncated(t *testing.T) {
	wavData, err := EncodeWAV([]int16{1, 2, 3, 4}, SampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	if _, _, err := DecodeWAV(wavData[:len(wavData)-2]); err == nil {
		t.Error("Expected error for truncated data chunk")
	}
}
