package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/skypro1111/speech-orchestrator/internal/transcription"
)

const (
	// EventTranscript is published for every delivered transcript
	EventTranscript = "transcript"
	// EventFailure is published for every segment that produced no transcript
	EventFailure = "transcription_failed"

	defaultHistoryLength = 100
)

// Event is the JSON payload published on the channel
type Event struct {
	Type      string    `json:"type"`
	Text      string    `json:"text,omitempty"`
	SegmentID uint64    `json:"segment_id,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	At        time.Time `json:"at"`
}

// Config contains publisher settings
type Config struct {
	Channel       string        // pub/sub channel
	HistoryKey    string        // list of recent events, empty disables history
	HistoryLength int64         // maximum list length
	Timeout       time.Duration // per Redis round trip
}

// Publisher forwards orchestrator outcomes to Redis pub/sub and keeps a short
// history list for late subscribers
type Publisher struct {
	client *redis.Client
	config Config
	logger *slog.Logger
	now    func() time.Time
}

// NewPublisher creates a publisher on an existing client
func NewPublisher(client *redis.Client, cfg Config, logger *slog.Logger) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if cfg.Channel == "" {
		return nil, fmt.Errorf("channel cannot be empty")
	}
	if cfg.HistoryLength <= 0 {
		cfg.HistoryLength = defaultHistoryLength
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Publisher{
		client: client,
		config: cfg,
		logger: logger.With("component", "publisher"),
		now:    time.Now,
	}, nil
}

// OnTranscript implements orchestrator.Consumer
func (p *Publisher) OnTranscript(text string) {
	p.publish(Event{Type: EventTranscript, Text: text})
}

// OnTranscriptionFailed implements orchestrator.Consumer
func (p *Publisher) OnTranscriptionFailed(segmentID uint64, kind transcription.FailureKind) {
	p.publish(Event{Type: EventFailure, SegmentID: segmentID, Kind: kind.String()})
}

// publish never returns an error: a Redis outage must not affect capture
func (p *Publisher) publish(ev Event) {
	ev.At = p.now().UTC()

	ctx, cancel := context.WithTimeout(context.Background(), p.config.Timeout)
	defer cancel()

	if err := p.Publish(ctx, ev); err != nil {
		p.logger.Warn("Failed to publish event",
			slog.String("type", ev.Type),
			slog.String("error", err.Error()))
	}
}

// Publish sends one event and appends it to the history list
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.client.Publish(ctx, p.config.Channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.config.Channel, err)
	}

	if p.config.HistoryKey == "" {
		return nil
	}

	pipe := p.client.Pipeline()
	pipe.LPush(ctx, p.config.HistoryKey, payload)
	pipe.LTrim(ctx, p.config.HistoryKey, 0, p.config.HistoryLength-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append history %s: %w", p.config.HistoryKey, err)
	}
	return nil
}

// History returns up to n most recent events, newest first
func (p *Publisher) History(ctx context.Context, n int64) ([]Event, error) {
	if p.config.HistoryKey == "" || n <= 0 {
		return nil, nil
	}

	raw, err := p.client.LRange(ctx, p.config.HistoryKey, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	events := make([]Event, 0, len(raw))
	for _, item := range raw {
		var ev Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			p.logger.Debug("Skipping malformed history entry", slog.String("error", err.Error()))
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}
