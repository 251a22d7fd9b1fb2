package transcription

import (
	"context"
	"fmt"
	"strings"

	"github.com/skypro1111/speech-orchestrator/internal/audio"
)

// OpenAIBackend calls an OpenAI-compatible /audio/transcriptions endpoint
// with a 32-bit float WAV upload.
type OpenAIBackend struct {
	client   *Client
	model    string
	language string
}

// NewOpenAIBackend wraps client. An empty model defaults to whisper-1.
func NewOpenAIBackend(client *Client, model, language string) *OpenAIBackend {
	if model == "" {
		model = "whisper-1"
	}
	return &OpenAIBackend{
		client:   client,
		model:    model,
		language: strings.TrimSpace(language),
	}
}

// Transcribe implements Backend
func (b *OpenAIBackend) Transcribe(ctx context.Context, payload []byte, prompt string) (string, error) {
	fields := map[string]string{
		"model":           b.model,
		"response_format": "json",
	}
	if b.language != "" {
		fields["language"] = b.language
	}
	if prompt != "" {
		fields["prompt"] = prompt
	}

	text, err := b.client.Send(ctx, Upload{
		Filename:    "audio." + audio.FormatWAVFloat32.Extension(),
		ContentType: audio.FormatWAVFloat32.MIMEType(),
		Audio:       payload,
		Fields:      fields,
	})
	if err != nil {
		return "", fmt.Errorf("openai transcription: %w", err)
	}
	return text, nil
}

// GetStats returns the underlying client statistics
func (b *OpenAIBackend) GetStats() ClientStats {
	return b.client.GetStats()
}

// Descriptor returns the registry entry for this backend
func (b *OpenAIBackend) Descriptor() Descriptor {
	return Descriptor{
		ID:            BackendWhisperOpenAI,
		Kind:          KindRemote,
		Format:        audio.FormatWAVFloat32,
		AcceptsPrompt: true,
		Backend:       b,
	}
}
