package transcription

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/speech-orchestrator/internal/audio"
	"github.com/skypro1111/speech-orchestrator/internal/config"
	"github.com/skypro1111/speech-orchestrator/internal/metrics"
)

// Resolver maps a backend id to a descriptor
type Resolver interface {
	Resolve(id string) Descriptor
}

// DispatcherConfig contains dispatcher limits
type DispatcherConfig struct {
	Timeout      time.Duration // per backend invocation
	StoreTimeout time.Duration // prompt setting read, made on the caller's goroutine
}

// Dispatcher encodes segments and invokes backends asynchronously
type Dispatcher struct {
	resolver Resolver
	store    config.Store
	config   DispatcherConfig
	logger   *slog.Logger
	metrics  *metrics.Metrics

	wg sync.WaitGroup

	// Statistics
	mu     sync.RWMutex
	stats  DispatchStats
	byKind map[string]uint64
}

// DispatchStats represents dispatcher statistics
type DispatchStats struct {
	Dispatched uint64            `json:"dispatched"`
	Succeeded  uint64            `json:"succeeded"`
	Failed     uint64            `json:"failed"`
	InFlight   int64             `json:"in_flight"`
	Failures   map[string]uint64 `json:"failures_by_kind"`
}

// request is the private unit of work for one backend call
type request struct {
	segmentID  uint64
	descriptor Descriptor
	payload    []byte
	prompt     string
}

// NewDispatcher creates a dispatcher. store supplies the stt_prompt setting.
func NewDispatcher(resolver Resolver, store config.Store, cfg DispatcherConfig, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		resolver: resolver,
		store:    store,
		config:   cfg,
		logger:   logger.With("component", "dispatcher"),
		metrics:  m,
		byKind:   make(map[string]uint64),
	}
}

// Dispatch starts transcription of seg on the backend named backendID and returns
// immediately. The returned channel receives exactly one Result tagged with
// seg.ID. Unavailable backends and encoding errors are reported without any
// backend I/O.
func (d *Dispatcher) Dispatch(ctx context.Context, seg audio.Segment, backendID string) <-chan Result {
	results := make(chan Result, 1)
	d.recordDispatched()

	descriptor := d.resolver.Resolve(backendID)
	if !descriptor.Available() {
		d.fail(results, seg.ID, backendID, FailureBackendUnavailable, nil, 0)
		return results
	}

	payload, err := audio.Encode(seg, descriptor.Format)
	if err != nil {
		d.fail(results, seg.ID, backendID, FailureEncodingFailed, err, 0)
		return results
	}

	req := request{
		segmentID:  seg.ID,
		descriptor: descriptor,
		payload:    payload,
	}
	if descriptor.AcceptsPrompt {
		req.prompt = d.prompt(ctx)
	}

	d.metrics.RecordTranscriptionRequest(backendID, len(payload))
	d.logger.Debug("Dispatching segment",
		slog.Uint64("segment_id", seg.ID),
		slog.String("backend", backendID),
		slog.String("format", descriptor.Format.String()),
		slog.Int("payload_bytes", len(payload)),
		slog.Duration("audio_duration", seg.Duration()))

	d.wg.Add(1)
	go d.invoke(ctx, req, results)

	return results
}

// invoke runs one backend call and delivers its outcome
func (d *Dispatcher) invoke(ctx context.Context, req request, results chan<- Result) {
	defer d.wg.Done()
	defer d.recordDone()

	callCtx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	start := time.Now()
	text, err := req.descriptor.Backend.Transcribe(callCtx, req.payload, req.prompt)
	elapsed := time.Since(start)

	if err != nil {
		d.fail(results, req.segmentID, req.descriptor.ID, FailureBackendInvocationFailed, err, elapsed)
		return
	}

	d.recordSuccess()
	d.metrics.RecordTranscriptionSuccess(req.descriptor.ID, elapsed.Seconds())
	d.logger.Debug("Transcription completed",
		slog.Uint64("segment_id", req.segmentID),
		slog.String("backend", req.descriptor.ID),
		slog.Duration("duration", elapsed),
		slog.Int("text_length", len(text)))

	results <- Result{SegmentID: req.segmentID, Text: text}
}

func (d *Dispatcher) fail(results chan<- Result, segmentID uint64, backendID string, kind FailureKind, err error, elapsed time.Duration) {
	failure := &Failure{Kind: kind, Backend: backendID, Err: err}

	d.recordFailure(kind)
	d.metrics.RecordTranscriptionFailure(backendID, kind.String(), elapsed.Seconds())
	d.logger.Warn("Transcription failed",
		slog.Uint64("segment_id", segmentID),
		slog.String("backend", backendID),
		slog.String("kind", kind.String()),
		slog.Any("error", err))

	results <- Result{SegmentID: segmentID, Err: failure}
}

// prompt reads the stt_prompt setting; a store error means no prompt
func (d *Dispatcher) prompt(ctx context.Context) string {
	if d.store == nil {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, d.config.StoreTimeout)
	defer cancel()
	value, err := d.store.Get(ctx, config.KeySTTPrompt)
	if err != nil {
		d.logger.Warn("Failed to read prompt setting", slog.String("error", err.Error()))
		return ""
	}
	return value
}

// Wait blocks until every in-flight backend call has returned
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) recordDispatched() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Dispatched++
	d.stats.InFlight++
}

func (d *Dispatcher) recordDone() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.InFlight--
}

func (d *Dispatcher) recordSuccess() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Succeeded++
}

func (d *Dispatcher) recordFailure(kind FailureKind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Failed++
	d.byKind[kind.String()]++
	if kind != FailureBackendInvocationFailed {
		// never reached invoke
		d.stats.InFlight--
	}
}

// GetStats returns current dispatcher statistics
func (d *Dispatcher) GetStats() DispatchStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	stats := d.stats
	stats.Failures = make(map[string]uint64, len(d.byKind))
	for kind, count := range d.byKind {
		stats.Failures[kind] = count
	}
	return stats
}

// String implements fmt.Stringer for log output
func (s DispatchStats) String() string {
	return fmt.Sprintf("dispatched=%d succeeded=%d failed=%d in_flight=%d", s.Dispatched, s.Succeeded, s.Failed, s.InFlight)
}
