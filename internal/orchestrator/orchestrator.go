package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/speech-orchestrator/internal/audio"
	"github.com/skypro1111/speech-orchestrator/internal/config"
	"github.com/skypro1111/speech-orchestrator/internal/metrics"
	"github.com/skypro1111/speech-orchestrator/internal/transcription"
)

// Detector is the voice activity detector driven by the orchestrator
type Detector interface {
	Start() error
	Pause()
	Listening() bool
	Err() error
}

// Dispatcher starts transcription of one segment
type Dispatcher interface {
	Dispatch(ctx context.Context, seg audio.Segment, backendID string) <-chan transcription.Result
}

// Consumer receives the outcome of every dispatched segment. Callbacks run on
// the event loop and must not call back into the Orchestrator.
type Consumer interface {
	OnTranscript(text string)
	OnTranscriptionFailed(segmentID uint64, kind transcription.FailureKind)
}

// Config wires the orchestrator collaborators
type Config struct {
	Dispatcher Dispatcher
	Resolver   transcription.Resolver
	Store      config.Store
	Consumer   Consumer
	Latency    *metrics.LatencyTracker
	Metrics    *metrics.Metrics
	Logger     *slog.Logger

	// StoreTimeout bounds settings reads made on the event loop
	StoreTimeout time.Duration

	// ReadyTimeout bounds how long Start and Stop wait for Run to begin
	ReadyTimeout time.Duration
}

type eventKind int

const (
	eventStart eventKind = iota
	eventStop
	eventSpeechStart
	eventSpeechEnd
)

func (k eventKind) String() string {
	switch k {
	case eventStart:
		return "start"
	case eventStop:
		return "stop"
	case eventSpeechStart:
		return "speech_start"
	case eventSpeechEnd:
		return "speech_end"
	default:
		return "unknown"
	}
}

type event struct {
	kind    eventKind
	samples []float32
	at      time.Time
	reply   chan error
}

// inFlight is the one segment awaiting its result
type inFlight struct {
	segmentID uint64
	backendID string
	results   <-chan transcription.Result
}

// Orchestrator is the capture session state machine
type Orchestrator struct {
	config   Config
	logger   *slog.Logger
	detector Detector

	events  chan event
	running chan struct{} // closed when Run starts
	done    chan struct{} // closed when Run returns

	// Loop-owned state
	state         State
	nextSegmentID uint64
	speechStarted time.Time
	pending       *inFlight
	lastErr       error

	// Published snapshot
	mu       sync.RWMutex
	snapshot Status

	runOnce sync.Once
}

// New creates an idle orchestrator. AttachDetector must be called before Start.
func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 2 * time.Second
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 2 * time.Second
	}

	o := &Orchestrator{
		config:  cfg,
		logger:  cfg.Logger.With("component", "orchestrator"),
		events:  make(chan event, 16),
		running: make(chan struct{}),
		done:    make(chan struct{}),
		state:   StateIdle,
	}
	o.publishStatus()
	return o
}

// AttachDetector sets the detector driven by this orchestrator. The detector is
// usually constructed with the orchestrator as its handler, hence the two steps.
func (o *Orchestrator) AttachDetector(d Detector) {
	o.detector = d
}

// Run processes events until ctx is cancelled. It must be called exactly once.
func (o *Orchestrator) Run(ctx context.Context) error {
	started := false
	o.runOnce.Do(func() { started = true })
	if !started {
		return ErrAlreadyRunning
	}

	close(o.running)
	defer close(o.done)

	o.logger.Info("Orchestrator event loop started")

	for {
		// A nil channel blocks, so results are only selected while a segment is in flight
		var results <-chan transcription.Result
		if o.pending != nil {
			results = o.pending.results
		}

		select {
		case <-ctx.Done():
			o.shutdown()
			o.logger.Info("Orchestrator event loop stopped")
			return ctx.Err()

		case ev := <-o.events:
			err := o.handleEvent(ctx, ev)
			if ev.reply != nil {
				ev.reply <- err
			}

		case result := <-results:
			// consumed; a Stop drained below must not wait on it again
			o.pending.results = nil
			// detector events queued before the pause are settled first
			o.drainEvents(ctx)
			o.handleResult(result)
		}

		o.publishStatus()
	}
}

// Running is closed once the event loop has started
func (o *Orchestrator) Running() <-chan struct{} {
	return o.running
}

// Start arms capture: Idle to Listening. It fails with ErrCaptureDisabled when
// the selected backend resolves to no backend and with a *DetectorError when
// the detector cannot run. Starting an armed session is a no-op.
func (o *Orchestrator) Start() error {
	return o.call(eventStart)
}

// Stop disarms capture from any state. A segment in flight is abandoned: its
// backend call is left to finish, but its result is discarded.
func (o *Orchestrator) Stop() error {
	return o.call(eventStop)
}

// OnSpeechStart implements the detector handler
func (o *Orchestrator) OnSpeechStart() {
	o.post(event{kind: eventSpeechStart, at: time.Now()})
}

// OnSpeechEnd implements the detector handler. samples is owned by the
// orchestrator after the call.
func (o *Orchestrator) OnSpeechEnd(samples []float32) {
	o.post(event{kind: eventSpeechEnd, samples: samples, at: time.Now()})
}

// Status returns the latest published session snapshot
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	status := o.snapshot
	o.mu.RUnlock()

	if o.detector != nil && o.detector.Err() != nil {
		status.Errored = true
		if status.LastError == "" {
			status.LastError = o.detector.Err().Error()
		}
	}
	return status
}

// ToggleMute flips the tts_muted setting and returns the new value
func (o *Orchestrator) ToggleMute(ctx context.Context) (bool, error) {
	muted, err := config.Bool(ctx, o.config.Store, config.KeyTTSMuted)
	if err != nil {
		return false, err
	}

	muted = !muted
	value := "false"
	if muted {
		value = "true"
	}
	if err := o.config.Store.Set(ctx, config.KeyTTSMuted, value); err != nil {
		return false, err
	}

	o.logger.Info("TTS mute toggled", slog.Bool("muted", muted))
	return muted, nil
}

// call posts a control event and waits for the loop to handle it
func (o *Orchestrator) call(kind eventKind) error {
	ready := time.NewTimer(o.config.ReadyTimeout)
	defer ready.Stop()

	select {
	case <-o.running:
	case <-ready.C:
		return ErrNotRunning
	}

	reply := make(chan error, 1)
	select {
	case o.events <- event{kind: kind, reply: reply}:
	case <-o.done:
		return ErrNotRunning
	}

	select {
	case err := <-reply:
		return err
	case <-o.done:
		return ErrNotRunning
	}
}

// post delivers a detector event without waiting for it to be handled
func (o *Orchestrator) post(ev event) {
	select {
	case o.events <- ev:
	case <-o.done:
	}
}

// drainEvents handles every event already queued without blocking
func (o *Orchestrator) drainEvents(ctx context.Context) {
	for {
		select {
		case ev := <-o.events:
			err := o.handleEvent(ctx, ev)
			if ev.reply != nil {
				ev.reply <- err
			}
		default:
			return
		}
	}
}

func (o *Orchestrator) handleEvent(ctx context.Context, ev event) error {
	switch ev.kind {
	case eventStart:
		return o.handleStart(ctx)
	case eventStop:
		o.handleStop()
		return nil
	case eventSpeechStart:
		o.handleSpeechStart(ev)
		return nil
	case eventSpeechEnd:
		o.handleSpeechEnd(ctx, ev)
		return nil
	default:
		return nil
	}
}

func (o *Orchestrator) handleStart(ctx context.Context) error {
	if o.state != StateIdle {
		return nil
	}

	if o.detector == nil {
		return ErrNoDetector
	}

	backendID := o.selectedBackend(ctx)
	if o.config.Resolver != nil && !o.config.Resolver.Resolve(backendID).Available() {
		o.logger.Warn("Capture disabled: backend unavailable", slog.String("backend", backendID))
		return ErrCaptureDisabled
	}

	if err := o.detector.Err(); err != nil {
		o.lastErr = err
		return &DetectorError{Err: err}
	}
	if err := o.detector.Start(); err != nil {
		o.lastErr = err
		return &DetectorError{Err: err}
	}

	o.lastErr = nil
	o.setState(StateListening)
	o.config.Metrics.RecordSessionStarted()
	o.logger.Info("Capture armed", slog.String("backend", backendID))
	return nil
}

func (o *Orchestrator) handleStop() {
	if o.detector != nil {
		o.detector.Pause()
	}

	o.config.Latency.Cancel(metrics.PhaseSpeech)
	o.config.Latency.Cancel(metrics.PhaseTranscribe)

	if o.pending != nil {
		o.logger.Info("Abandoning in-flight segment",
			slog.Uint64("segment_id", o.pending.segmentID),
			slog.String("backend", o.pending.backendID))
		o.drainStale(o.pending)
		o.pending = nil
	}

	if o.state != StateIdle {
		o.config.Metrics.RecordSessionStopped()
		o.logger.Info("Capture disarmed", slog.String("from_state", o.state.String()))
	}
	o.setState(StateIdle)
}

func (o *Orchestrator) handleSpeechStart(ev event) {
	if o.state != StateListening {
		o.reject(ev)
		return
	}

	o.speechStarted = ev.at
	o.config.Latency.MarkStart(metrics.PhaseSpeech)
	o.setState(StateSpeechActive)
	o.logger.Debug("Speech started")
}

func (o *Orchestrator) handleSpeechEnd(ctx context.Context, ev event) {
	if o.state != StateSpeechActive {
		o.reject(ev)
		return
	}

	o.config.Latency.MarkEnd(metrics.PhaseSpeech)

	o.nextSegmentID++
	seg := audio.NewSegment(o.nextSegmentID, ev.samples, o.speechStarted)
	backendID := o.selectedBackend(ctx)

	// no new speech is captured while a segment is in flight
	o.detector.Pause()

	o.config.Latency.MarkStart(metrics.PhaseTranscribe)
	o.pending = &inFlight{
		segmentID: seg.ID,
		backendID: backendID,
		results:   o.config.Dispatcher.Dispatch(ctx, seg, backendID),
	}
	o.setState(StateSegmentDispatched)

	o.config.Metrics.RecordSegmentCaptured(seg.Duration().Seconds())
	o.logger.Info("Segment dispatched",
		slog.Uint64("segment_id", seg.ID),
		slog.String("backend", backendID),
		slog.Int("samples", seg.Len()),
		slog.Duration("duration", seg.Duration()))
}

func (o *Orchestrator) handleResult(result transcription.Result) {
	if o.pending == nil || result.SegmentID != o.pending.segmentID {
		o.config.Metrics.RecordStaleResult()
		o.logger.Debug("Discarding stale result", slog.Uint64("segment_id", result.SegmentID))
		return
	}
	o.pending = nil

	o.config.Latency.MarkEnd(metrics.PhaseTranscribe)

	if result.OK() {
		text := transcription.Normalize(result.Text)
		if text == "" {
			o.config.Metrics.RecordEmptyTranscript()
			o.logger.Debug("Transcript empty after normalization", slog.Uint64("segment_id", result.SegmentID))
		} else {
			o.config.Metrics.RecordTranscriptDelivered()
			o.deliver(func(c Consumer) { c.OnTranscript(text) })
		}
	} else {
		o.deliver(func(c Consumer) { c.OnTranscriptionFailed(result.SegmentID, result.Err.Kind) })
	}

	if err := o.detector.Start(); err != nil {
		o.lastErr = err
		o.setState(StateIdle)
		o.logger.Error("Detector failed to resume, capture disarmed", slog.String("error", err.Error()))
		return
	}
	o.setState(StateListening)
}

func (o *Orchestrator) deliver(fn func(Consumer)) {
	if o.config.Consumer == nil {
		return
	}
	fn(o.config.Consumer)
}

// reject refuses a detector event that does not fit the current state
func (o *Orchestrator) reject(ev event) {
	o.config.Metrics.RecordRejectedEvent(ev.kind.String(), o.state.String())
	o.logger.Debug("Detector event rejected",
		slog.String("event", ev.kind.String()),
		slog.String("state", o.state.String()))
}

// drainStale observes an abandoned result so stale completions are counted
func (o *Orchestrator) drainStale(p *inFlight) {
	if p.results == nil {
		return
	}
	m := o.config.Metrics
	logger := o.logger
	go func() {
		result, ok := <-p.results
		if !ok {
			return
		}
		m.RecordStaleResult()
		logger.Debug("Stale result discarded after stop",
			slog.Uint64("segment_id", result.SegmentID),
			slog.String("backend", p.backendID))
	}()
}

func (o *Orchestrator) shutdown() {
	if o.detector != nil {
		o.detector.Pause()
	}
	if o.pending != nil {
		o.drainStale(o.pending)
		o.pending = nil
	}
	o.setState(StateIdle)
	o.publishStatus()
}

// selectedBackend reads stt_backend; a read failure selects no backend
func (o *Orchestrator) selectedBackend(ctx context.Context) string {
	if o.config.Store == nil {
		return transcription.BackendNone
	}

	readCtx, cancel := context.WithTimeout(ctx, o.config.StoreTimeout)
	defer cancel()

	backendID, err := o.config.Store.Get(readCtx, config.KeySTTBackend)
	if err != nil {
		o.logger.Warn("Failed to read backend setting", slog.String("error", err.Error()))
		return transcription.BackendNone
	}
	return backendID
}

func (o *Orchestrator) setState(s State) {
	if o.state != s {
		o.logger.Debug("State transition",
			slog.String("from", o.state.String()),
			slog.String("to", s.String()))
	}
	o.state = s
	o.config.Metrics.SetSessionState(int(s))
}

func (o *Orchestrator) publishStatus() {
	status := Status{
		State:     o.state.String(),
		Listening: o.state == StateListening || o.state == StateSpeechActive,
		Busy:      o.state == StateSegmentDispatched,
		Segments:  o.nextSegmentID,
	}
	if o.pending != nil {
		status.InFlight = o.pending.segmentID
		status.Backend = o.pending.backendID
	}
	if o.lastErr != nil {
		status.Errored = true
		status.LastError = o.lastErr.Error()
	}

	o.mu.Lock()
	o.snapshot = status
	o.mu.Unlock()
}
