package transcription

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/skypro1111/speech-orchestrator/internal/audio"
)

// LocalModel is an in-process speech model that consumes float32 samples directly
type LocalModel interface {
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error)
}

// LocalBackend runs a LocalModel on raw float32 payloads
type LocalBackend struct {
	model LocalModel
}

// NewLocalBackend wraps model
func NewLocalBackend(model LocalModel) *LocalBackend {
	return &LocalBackend{model: model}
}

// Transcribe implements Backend. The in-process model takes no prompt.
func (b *LocalBackend) Transcribe(ctx context.Context, payload []byte, _ string) (string, error) {
	samples, err := audio.DecodeRawFloat32(payload)
	if err != nil {
		return "", fmt.Errorf("local model input: %w", err)
	}

	text, err := b.model.Transcribe(ctx, samples, audio.SampleRate)
	if err != nil {
		return "", fmt.Errorf("local model: %w", err)
	}
	return text, nil
}

// Descriptor returns the registry entry for this backend
func (b *LocalBackend) Descriptor() Descriptor {
	return Descriptor{
		ID:            BackendWhisperBrowser,
		Kind:          KindLocal,
		Format:        audio.FormatRawFloat32,
		AcceptsPrompt: false,
		Backend:       b,
	}
}

// StubModel produces deterministic transcripts without loading model weights.
type StubModel struct {
	log          *slog.Logger
	modelVariant string
}

// NewStubModel returns a LocalModel that describes the audio it received
func NewStubModel(logger *slog.Logger, modelVariant string) *StubModel {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubModel{
		log: logger.With(
			"component", "transcription.stub",
			"model_variant", modelVariant,
		),
		modelVariant: modelVariant,
	}
}

// Transcribe implements LocalModel
func (m *StubModel) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(samples) == 0 || sampleRate <= 0 {
		return "", nil
	}

	duration := time.Duration(len(samples)) * time.Second / time.Duration(sampleRate)
	m.log.Debug("stub transcript", "samples", len(samples), "duration", duration)
	return fmt.Sprintf("stub %s heard %.2f seconds of speech", m.modelVariant, duration.Seconds()), nil
}
