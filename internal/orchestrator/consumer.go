package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/speech-orchestrator/internal/config"
	"github.com/skypro1111/speech-orchestrator/internal/transcription"
)

// Consumers fans every callback out to each consumer in order
type Consumers []Consumer

// OnTranscript implements Consumer
func (cs Consumers) OnTranscript(text string) {
	for _, c := range cs {
		c.OnTranscript(text)
	}
}

// OnTranscriptionFailed implements Consumer
func (cs Consumers) OnTranscriptionFailed(segmentID uint64, kind transcription.FailureKind) {
	for _, c := range cs {
		c.OnTranscriptionFailed(segmentID, kind)
	}
}

// MessageSink is the conversation surface fed by the Router
type MessageSink interface {
	// SendMessage submits text as a user message
	SendMessage(text string)
	// SetDraft replaces the pending input with text for the user to edit
	SetDraft(text string)
}

// Router delivers transcripts according to the autosend_from_mic setting:
// sent straight away as a message, or placed in the draft input.
type Router struct {
	store   config.Store
	sink    MessageSink
	logger  *slog.Logger
	timeout time.Duration
}

// NewRouter creates a router over sink
func NewRouter(store config.Store, sink MessageSink, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		store:   store,
		sink:    sink,
		logger:  logger.With("component", "router"),
		timeout: 2 * time.Second,
	}
}

// OnTranscript implements Consumer
func (r *Router) OnTranscript(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	autosend, err := config.Bool(ctx, r.store, config.KeyAutosendFromMic)
	if err != nil {
		r.logger.Warn("Failed to read autosend setting, keeping transcript as draft", slog.String("error", err.Error()))
	}

	if autosend {
		r.sink.SendMessage(text)
		return
	}
	r.sink.SetDraft(text)
}

// OnTranscriptionFailed implements Consumer
func (r *Router) OnTranscriptionFailed(segmentID uint64, kind transcription.FailureKind) {
	r.logger.Warn("Segment produced no transcript",
		slog.Uint64("segment_id", segmentID),
		slog.String("kind", kind.String()))
}

// WriterSink writes messages and drafts as JSON lines
type WriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewWriterSink creates a sink that writes to w
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{enc: json.NewEncoder(w)}
}

type sinkLine struct {
	Type string    `json:"type"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// SendMessage implements MessageSink
func (s *WriterSink) SendMessage(text string) {
	s.write("message", text)
}

// SetDraft implements MessageSink
func (s *WriterSink) SetDraft(text string) {
	s.write("draft", text)
}

func (s *WriterSink) write(kind, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enc.Encode(sinkLine{Type: kind, Text: text, At: time.Now().UTC()})
}
