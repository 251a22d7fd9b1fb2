package transcription

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"

	"github.com/skypro1111/speech-orchestrator/internal/audio"
)

// GoogleBackend transcribes LINEAR16 payloads with Google Cloud Speech.
// The prompt is split on commas and sent as phrase hints.
type GoogleBackend struct {
	speechClient *speech.Client
	languageCode string
}

// NewGoogleBackend creates a Google Cloud Speech client. Without options it
// relies on Application Default Credentials.
func NewGoogleBackend(ctx context.Context, languageCode string, opts ...option.ClientOption) (*GoogleBackend, error) {
	speechClient, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	if languageCode == "" {
		languageCode = "en-US"
	}
	return &GoogleBackend{
		speechClient: speechClient,
		languageCode: languageCode,
	}, nil
}

// Close cleans up the speech client connection
func (b *GoogleBackend) Close() error {
	if b.speechClient == nil {
		return nil
	}
	return b.speechClient.Close()
}

// Transcribe implements Backend
func (b *GoogleBackend) Transcribe(ctx context.Context, payload []byte, prompt string) (string, error) {
	config := &speechpb.RecognitionConfig{
		Encoding:        speechpb.RecognitionConfig_LINEAR16,
		SampleRateHertz: audio.SampleRate,
		LanguageCode:    b.languageCode,
	}
	if phrases := phraseHints(prompt); len(phrases) > 0 {
		config.SpeechContexts = []*speechpb.SpeechContext{{Phrases: phrases}}
	}

	resp, err := b.speechClient.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: config,
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: payload},
		},
	})
	if err != nil {
		return "", fmt.Errorf("google speech recognize: %w", err)
	}

	parts := make([]string, 0, len(resp.GetResults()))
	for _, result := range resp.GetResults() {
		alternatives := result.GetAlternatives()
		if len(alternatives) == 0 {
			continue
		}
		if transcript := strings.TrimSpace(alternatives[0].GetTranscript()); transcript != "" {
			parts = append(parts, transcript)
		}
	}
	return strings.Join(parts, " "), nil
}

// Descriptor returns the registry entry for this backend
func (b *GoogleBackend) Descriptor() Descriptor {
	return Descriptor{
		ID:            BackendGoogleSpeech,
		Kind:          KindRemote,
		Format:        audio.FormatRawInt16,
		AcceptsPrompt: true,
		Backend:       b,
	}
}

func phraseHints(prompt string) []string {
	var phrases []string
	for _, part := range strings.Split(prompt, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			phrases = append(phrases, trimmed)
		}
	}
	return phrases
}
