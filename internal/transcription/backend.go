package transcription

import (
	"context"

	"github.com/skypro1111/speech-orchestrator/internal/audio"
)

// Backend ids accepted by the stt_backend setting
const (
	BackendNone           = "none"
	BackendWhisperBrowser = "whisper_browser"
	BackendWhisperOpenAI  = "whisper_openai"
	BackendWhisperCPP     = "whispercpp"
	BackendGoogleSpeech   = "google_speech"
)

// Backend turns an encoded segment into raw text. The payload layout is whatever
// the backend's Descriptor.Format asks for.
type Backend interface {
	Transcribe(ctx context.Context, payload []byte, prompt string) (string, error)
}

// BackendFunc adapts a plain function to the Backend interface
type BackendFunc func(ctx context.Context, payload []byte, prompt string) (string, error)

// Transcribe calls f
func (f BackendFunc) Transcribe(ctx context.Context, payload []byte, prompt string) (string, error) {
	return f(ctx, payload, prompt)
}

// Kind classifies where a backend runs
type Kind int

const (
	// KindNone marks the no-op descriptor; capture must stay disabled
	KindNone Kind = iota
	// KindLocal runs in-process
	KindLocal
	// KindRemote calls a hosted service
	KindRemote
	// KindNativeEngine calls a locally hosted native inference server
	KindNativeEngine
)

// String returns the string representation of the backend kind
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindLocal:
		return "local"
	case KindRemote:
		return "remote"
	case KindNativeEngine:
		return "native_engine"
	default:
		return "unknown"
	}
}

// Descriptor describes how to call one backend
type Descriptor struct {
	ID            string
	Kind          Kind
	Format        audio.Format
	AcceptsPrompt bool
	Backend       Backend
}

// Available reports whether segments can be dispatched to this descriptor
func (d Descriptor) Available() bool {
	return d.Kind != KindNone && d.Backend != nil
}

// NoopDescriptor returns the sentinel descriptor for ids with no usable backend
func NoopDescriptor(id string) Descriptor {
	return Descriptor{ID: id, Kind: KindNone}
}
