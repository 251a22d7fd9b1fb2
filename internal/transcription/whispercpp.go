package transcription

import (
	"context"
	"fmt"

	"github.com/skypro1111/speech-orchestrator/internal/audio"
)

// WhisperCPPBackend calls the /inference endpoint of a whisper.cpp server.
// The server expects 16-bit PCM WAV.
type WhisperCPPBackend struct {
	client *Client
}

// NewWhisperCPPBackend wraps client
func NewWhisperCPPBackend(client *Client) *WhisperCPPBackend {
	return &WhisperCPPBackend{client: client}
}

// Transcribe implements Backend
func (b *WhisperCPPBackend) Transcribe(ctx context.Context, payload []byte, prompt string) (string, error) {
	fields := map[string]string{
		"temperature":     "0.0",
		"response_format": "json",
	}
	if prompt != "" {
		fields["prompt"] = prompt
	}

	text, err := b.client.Send(ctx, Upload{
		Filename:    "audio." + audio.FormatWAVInt16.Extension(),
		ContentType: audio.FormatWAVInt16.MIMEType(),
		Audio:       payload,
		Fields:      fields,
	})
	if err != nil {
		return "", fmt.Errorf("whisper.cpp transcription: %w", err)
	}
	return text, nil
}

// GetStats returns the underlying client statistics
func (b *WhisperCPPBackend) GetStats() ClientStats {
	return b.client.GetStats()
}

// Descriptor returns the registry entry for this backend
func (b *WhisperCPPBackend) Descriptor() Descriptor {
	return Descriptor{
		ID:            BackendWhisperCPP,
		Kind:          KindNativeEngine,
		Format:        audio.FormatWAVInt16,
		AcceptsPrompt: true,
		Backend:       b,
	}
}
