package audio

import "fmt"

// BitDepth selects the sample encoding of a payload
type BitDepth int

const (
	// Float32 keeps the native IEEE-754 samples
	Float32 BitDepth = iota
	// Int16 quantizes to signed 16-bit linear PCM
	Int16
)

// Container selects whether samples are wrapped in a file header
type Container int

const (
	// RawPCM is a bare little-endian sample stream
	RawPCM Container = iota
	// WAV is a minimal RIFF/WAVE file
	WAV
)

// Format is the target encoding required by a backend
type Format struct {
	Depth     BitDepth
	Container Container
}

var (
	// FormatRawFloat32 is used by in-process models that take samples directly
	FormatRawFloat32 = Format{Depth: Float32, Container: RawPCM}

	// FormatRawInt16 is headerless LINEAR16
	FormatRawInt16 = Format{Depth: Int16, Container: RawPCM}

	// FormatWAVFloat32 is a 32-bit IEEE float WAV file
	FormatWAVFloat32 = Format{Depth: Float32, Container: WAV}

	// FormatWAVInt16 is a 16-bit PCM WAV file
	FormatWAVInt16 = Format{Depth: Int16, Container: WAV}
)

// BitsPerSample returns the sample width in bits
func (f Format) BitsPerSample() int {
	if f.Depth == Int16 {
		return 16
	}
	return 32
}

// Extension returns a file extension suitable for multipart uploads
func (f Format) Extension() string {
	if f.Container == WAV {
		return "wav"
	}
	return "pcm"
}

// MIMEType returns the content type for the encoded payload
func (f Format) MIMEType() string {
	if f.Container == WAV {
		return "audio/wav"
	}
	return "application/octet-stream"
}

// String returns a short human-readable name such as "wav/f32"
func (f Format) String() string {
	depth := "f32"
	if f.Depth == Int16 {
		depth = "s16"
	}
	container := "raw"
	if f.Container == WAV {
		container = "wav"
	}
	return fmt.Sprintf("%s/%s", container, depth)
}
