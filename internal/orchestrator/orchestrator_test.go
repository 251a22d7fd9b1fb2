package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/skypro1111/speech-orchestrator/internal/audio"
	"github.com/skypro1111/speech-orchestrator/internal/config"
	"github.com/skypro1111/speech-orchestrator/internal/metrics"
	"github.com/skypro1111/speech-orchestrator/internal/transcription"
)

type fakeDetector struct {
	mu        sync.Mutex
	listening bool
	err       error
	startErr  error
	starts    int
	pauses    int
}

func (d *fakeDetector) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.starts++
	if d.startErr != nil {
		return d.startErr
	}
	d.listening = true
	return nil
}

func (d *fakeDetector) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pauses++
	d.listening = false
}

func (d *fakeDetector) Listening() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listening
}

func (d *fakeDetector) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func (d *fakeDetector) setStartErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.startErr = err
}

type dispatchCall struct {
	segment   audio.Segment
	backendID string
	results   chan transcription.Result
}

// fakeDispatcher hands each call a channel the test completes by hand
type fakeDispatcher struct {
	mu    sync.Mutex
	calls []dispatchCall
}

func (d *fakeDispatcher) Dispatch(_ context.Context, seg audio.Segment, backendID string) <-chan transcription.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := make(chan transcription.Result, 1)
	d.calls = append(d.calls, dispatchCall{segment: seg, backendID: backendID, results: ch})
	return ch
}

func (d *fakeDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *fakeDispatcher) call(i int) dispatchCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[i]
}

type failure struct {
	segmentID uint64
	kind      transcription.FailureKind
}

type recordingConsumer struct {
	transcripts chan string
	failures    chan failure
}

func newRecordingConsumer() *recordingConsumer {
	return &recordingConsumer{
		transcripts: make(chan string, 10),
		failures:    make(chan failure, 10),
	}
}

func (c *recordingConsumer) OnTranscript(text string) {
	c.transcripts <- text
}

func (c *recordingConsumer) OnTranscriptionFailed(segmentID uint64, kind transcription.FailureKind) {
	c.failures <- failure{segmentID: segmentID, kind: kind}
}

type harness struct {
	orch       *Orchestrator
	detector   *fakeDetector
	dispatcher *fakeDispatcher
	consumer   *recordingConsumer
	store      *config.MemoryStore
	metrics    *metrics.Metrics
	latency    *metrics.LatencyTracker
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testResolver() *transcription.Registry {
	registry := transcription.NewRegistry()
	noop := transcription.BackendFunc(func(context.Context, []byte, string) (string, error) { return "", nil })
	for _, d := range []transcription.Descriptor{
		{ID: transcription.BackendWhisperOpenAI, Kind: transcription.KindRemote, Format: audio.FormatWAVFloat32, AcceptsPrompt: true, Backend: noop},
		{ID: transcription.BackendWhisperCPP, Kind: transcription.KindNativeEngine, Format: audio.FormatWAVInt16, AcceptsPrompt: true, Backend: noop},
	} {
		registry.Register(d)
	}
	return registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	d := &fakeDispatcher{}
	h := newHarnessWith(t, d)
	h.dispatcher = d
	return h
}

func newHarnessWith(t *testing.T, dispatcher Dispatcher) *harness {
	t.Helper()

	m := metrics.NewMetrics(prometheus.NewRegistry())
	h := &harness{
		detector:   &fakeDetector{},
		consumer:   newRecordingConsumer(),
		store:      config.NewMemoryStore(map[string]string{config.KeySTTBackend: transcription.BackendWhisperOpenAI}),
		metrics:    m,
		latency:    metrics.NewLatencyTracker(testLogger(), m),
	}
	h.orch = New(Config{
		Dispatcher: dispatcher,
		Resolver:   testResolver(),
		Store:      h.store,
		Consumer:   h.consumer,
		Latency:    h.latency,
		Metrics:    m,
		Logger:     testLogger(),
	})
	h.orch.AttachDetector(h.detector)

	ctx, cancel := context.WithCancel(context.Background())
	go h.orch.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.orch.done
	})
	<-h.orch.running

	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func (h *harness) waitState(t *testing.T, state State) {
	t.Helper()
	waitFor(t, "state "+state.String(), func() bool {
		return h.orch.Status().State == state.String()
	})
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.orch.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.waitState(t, StateListening)
}

// speak drives one detector speech start/end pair and waits for the dispatch
func (h *harness) speak(t *testing.T, samples []float32) dispatchCall {
	t.Helper()
	before := h.dispatcher.callCount()
	h.orch.OnSpeechStart()
	h.orch.OnSpeechEnd(samples)
	waitFor(t, "dispatch", func() bool { return h.dispatcher.callCount() == before+1 })
	h.waitState(t, StateSegmentDispatched)
	return h.dispatcher.call(before)
}

func oneSecond() []float32 {
	samples := make([]float32, audio.SampleRate)
	pattern := []float32{0.1, -0.1, 0.05}
	for i := range samples {
		samples[i] = pattern[i%len(pattern)]
	}
	return samples
}

func expectNoTranscript(t *testing.T, c *recordingConsumer) {
	t.Helper()
	select {
	case text := <-c.transcripts:
		t.Fatalf("Unexpected transcript %q", text)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateListening, "listening"},
		{StateSpeechActive, "speech_active"},
		{StateSegmentDispatched, "segment_dispatched"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.want)
		}
	}
}

func TestStartBeforeRun(t *testing.T) {
	o := New(Config{Logger: testLogger(), ReadyTimeout: 10 * time.Millisecond})
	if err := o.Start(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Expected ErrNotRunning, got %v", err)
	}
	if status := o.Status(); status.State != "idle" || status.Listening || status.Busy {
		t.Errorf("Unexpected initial status %+v", status)
	}
}

func TestStartImmediatelyAfterRun(t *testing.T) {
	for i := 0; i < 50; i++ {
		o := New(Config{
			Logger:     testLogger(),
			Dispatcher: &fakeDispatcher{},
			Resolver:   testResolver(),
			Store:      config.NewMemoryStore(map[string]string{config.KeySTTBackend: transcription.BackendWhisperOpenAI}),
		})
		detector := &fakeDetector{}
		o.AttachDetector(detector)

		ctx, cancel := context.WithCancel(context.Background())
		go o.Run(ctx)
		err := o.Start()
		cancel()

		if err != nil {
			t.Fatalf("Run %d: Start failed: %v", i, err)
		}
		if !detector.Listening() {
			t.Fatalf("Run %d: detector not armed", i)
		}
	}
}

func TestRunningSignal(t *testing.T) {
	o := New(Config{Logger: testLogger(), Dispatcher: &fakeDispatcher{}})
	o.AttachDetector(&fakeDetector{})

	select {
	case <-o.Running():
		t.Fatalf("Running closed before Run")
	default:
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	select {
	case <-o.Running():
	case <-time.After(time.Second):
		t.Fatalf("Running not closed after Run")
	}
}

func TestRunTwice(t *testing.T) {
	h := newHarness(t)
	if err := h.orch.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}
}

func TestStartArmsDetector(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	status := h.orch.Status()
	if !status.Listening || status.Busy || status.Errored {
		t.Errorf("Unexpected status after start: %+v", status)
	}
	if !h.detector.Listening() {
		t.Errorf("Detector should be listening")
	}

	// starting again is a no-op
	if err := h.orch.Start(); err != nil {
		t.Errorf("Second start failed: %v", err)
	}
	if h.detector.starts != 1 {
		t.Errorf("Expected one detector start, got %d", h.detector.starts)
	}
	if got := testutil.ToFloat64(h.metrics.SessionState); got != float64(StateListening) {
		t.Errorf("Expected state gauge %d, got %v", StateListening, got)
	}
}

func TestStartRefusedWithoutBackend(t *testing.T) {
	for _, backend := range []string{transcription.BackendNone, "not_a_backend", transcription.BackendGoogleSpeech} {
		t.Run(backend, func(t *testing.T) {
			h := newHarness(t)
			h.store.Set(context.Background(), config.KeySTTBackend, backend)

			if err := h.orch.Start(); !errors.Is(err, ErrCaptureDisabled) {
				t.Fatalf("Expected ErrCaptureDisabled, got %v", err)
			}
			if h.orch.Status().State != "idle" {
				t.Errorf("Expected idle after refused start")
			}
			if h.detector.starts != 0 {
				t.Errorf("Detector must not be started")
			}
		})
	}
}

func TestStartRefusedOnDetectorError(t *testing.T) {
	h := newHarness(t)
	detectorErr := errors.New("model failed to load")
	h.detector.err = detectorErr

	err := h.orch.Start()
	var de *DetectorError
	if !errors.As(err, &de) || !errors.Is(err, detectorErr) {
		t.Fatalf("Expected DetectorError wrapping cause, got %v", err)
	}

	status := h.orch.Status()
	if !status.Errored || status.Listening {
		t.Errorf("Expected errored, not listening: %+v", status)
	}
}

func TestSpeechEndDispatchesSegment(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.orch.OnSpeechStart()
	h.waitState(t, StateSpeechActive)
	if !h.latency.Pending(metrics.PhaseSpeech) {
		t.Errorf("Speech phase should be open")
	}

	samples := []float32{0.1, -0.1, 0.05}
	h.orch.OnSpeechEnd(samples)
	waitFor(t, "dispatch", func() bool { return h.dispatcher.callCount() == 1 })
	h.waitState(t, StateSegmentDispatched)

	call := h.dispatcher.call(0)
	if call.backendID != transcription.BackendWhisperOpenAI {
		t.Errorf("Expected backend whisper_openai, got %s", call.backendID)
	}
	if call.segment.ID != 1 || call.segment.Len() != 3 || call.segment.SampleRate != audio.SampleRate {
		t.Errorf("Unexpected segment: id=%d len=%d rate=%d", call.segment.ID, call.segment.Len(), call.segment.SampleRate)
	}

	// the segment owns a copy of the samples
	samples[0] = 0.9
	if call.segment.Samples()[0] != 0.1 {
		t.Errorf("Segment shares the detector buffer")
	}

	if h.detector.Listening() {
		t.Errorf("Detector must be paused while a segment is in flight")
	}
	if _, ok := h.latency.Last(metrics.PhaseSpeech); !ok {
		t.Errorf("Speech phase should be recorded")
	}
	if !h.latency.Pending(metrics.PhaseTranscribe) {
		t.Errorf("Transcribe phase should be open")
	}

	status := h.orch.Status()
	if !status.Busy || status.Listening || status.InFlight != 1 || status.Backend != transcription.BackendWhisperOpenAI {
		t.Errorf("Unexpected status while dispatched: %+v", status)
	}
}

func TestAtMostOneInFlight(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	first := h.speak(t, oneSecond())

	// a second utterance while dispatched is rejected, never queued
	h.orch.OnSpeechStart()
	h.orch.OnSpeechEnd(oneSecond())
	waitFor(t, "rejections", func() bool {
		return testutil.ToFloat64(h.metrics.RejectedEvents.WithLabelValues("speech_end", "segment_dispatched")) == 1
	})
	if got := testutil.ToFloat64(h.metrics.RejectedEvents.WithLabelValues("speech_start", "segment_dispatched")); got != 1 {
		t.Errorf("Expected rejected speech_start, got %v", got)
	}
	if h.dispatcher.callCount() != 1 {
		t.Fatalf("Expected exactly one dispatch, got %d", h.dispatcher.callCount())
	}

	first.results <- transcription.Result{SegmentID: first.segment.ID, Text: "first"}
	if text := <-h.consumer.transcripts; text != "first" {
		t.Errorf("Unexpected transcript %q", text)
	}
	h.waitState(t, StateListening)

	// nothing was queued from the rejected utterance
	time.Sleep(20 * time.Millisecond)
	if h.dispatcher.callCount() != 1 {
		t.Errorf("Rejected speech leaked into a dispatch")
	}

	second := h.speak(t, oneSecond())
	if second.segment.ID != 2 {
		t.Errorf("Expected fresh segment id 2, got %d", second.segment.ID)
	}
}

func TestResultAttributedByID(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	call := h.speak(t, oneSecond())

	call.results <- transcription.Result{SegmentID: call.segment.ID + 100, Text: "not mine"}
	waitFor(t, "stale metric", func() bool { return testutil.ToFloat64(h.metrics.StaleResults) == 1 })
	expectNoTranscript(t, h.consumer)
	if h.orch.Status().State != "segment_dispatched" {
		t.Fatalf("Mismatched result must not complete the segment")
	}
}

func TestEmptyTranscriptSuppressed(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	call := h.speak(t, oneSecond())

	call.results <- transcription.Result{SegmentID: call.segment.ID, Text: "[silence]"}
	h.waitState(t, StateListening)

	expectNoTranscript(t, h.consumer)
	if got := testutil.ToFloat64(h.metrics.EmptyTranscripts); got != 1 {
		t.Errorf("Expected one empty transcript, got %v", got)
	}
	if !h.detector.Listening() {
		t.Errorf("Detector should resume after an empty transcript")
	}
}

func TestFailureIsolation(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	call := h.speak(t, oneSecond())

	call.results <- transcription.Result{
		SegmentID: call.segment.ID,
		Err: &transcription.Failure{
			Kind:    transcription.FailureBackendInvocationFailed,
			Backend: call.backendID,
			Err:     errors.New("HTTP error 500"),
		},
	}

	select {
	case f := <-h.consumer.failures:
		if f.segmentID != call.segment.ID || f.kind != transcription.FailureBackendInvocationFailed {
			t.Errorf("Unexpected failure %+v", f)
		}
	case <-time.After(time.Second):
		t.Fatalf("Failure was not reported")
	}
	h.waitState(t, StateListening)
	expectNoTranscript(t, h.consumer)

	select {
	case f := <-h.consumer.failures:
		t.Fatalf("Failure reported twice: %+v", f)
	default:
	}

	// the next segment is processed normally
	next := h.speak(t, oneSecond())
	next.results <- transcription.Result{SegmentID: next.segment.ID, Text: "recovered"}
	if text := <-h.consumer.transcripts; text != "recovered" {
		t.Errorf("Unexpected transcript %q", text)
	}
}

func TestStaleResultAfterStop(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	call := h.speak(t, oneSecond())

	if err := h.orch.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	status := h.orch.Status()
	if status.State != "idle" || status.Busy || status.InFlight != 0 {
		t.Fatalf("Unexpected status after stop: %+v", status)
	}
	if h.latency.Pending(metrics.PhaseTranscribe) {
		t.Errorf("Transcribe phase should be cancelled on stop")
	}

	call.results <- transcription.Result{SegmentID: call.segment.ID, Text: "too late"}
	waitFor(t, "stale metric", func() bool { return testutil.ToFloat64(h.metrics.StaleResults) == 1 })
	expectNoTranscript(t, h.consumer)
	if h.orch.Status().State != "idle" {
		t.Errorf("Stale result must not change state")
	}
	if got := testutil.ToFloat64(h.metrics.SessionsStopped); got != 1 {
		t.Errorf("Expected one stop, got %v", got)
	}
}

func TestBackendFrozenAtCapture(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	call := h.speak(t, oneSecond())

	h.store.Set(context.Background(), config.KeySTTBackend, transcription.BackendWhisperCPP)

	if call.backendID != transcription.BackendWhisperOpenAI {
		t.Errorf("Dispatch used %s", call.backendID)
	}
	if got := h.orch.Status().Backend; got != transcription.BackendWhisperOpenAI {
		t.Errorf("In-flight backend changed to %s", got)
	}

	call.results <- transcription.Result{SegmentID: call.segment.ID, Text: "ok"}
	<-h.consumer.transcripts
	h.waitState(t, StateListening)

	next := h.speak(t, oneSecond())
	if next.backendID != transcription.BackendWhisperCPP {
		t.Errorf("Next segment should use the new backend, got %s", next.backendID)
	}
}

func TestSpeechEventsRejectedOutOfState(t *testing.T) {
	h := newHarness(t)

	// idle: both events rejected
	h.orch.OnSpeechStart()
	h.orch.OnSpeechEnd([]float32{0.1})
	waitFor(t, "idle rejections", func() bool {
		return testutil.ToFloat64(h.metrics.RejectedEvents.WithLabelValues("speech_end", "idle")) == 1
	})

	// listening: end without start rejected
	h.start(t)
	h.orch.OnSpeechEnd([]float32{0.1})
	waitFor(t, "listening rejection", func() bool {
		return testutil.ToFloat64(h.metrics.RejectedEvents.WithLabelValues("speech_end", "listening")) == 1
	})

	// speech active: a second start is rejected
	h.orch.OnSpeechStart()
	h.waitState(t, StateSpeechActive)
	h.orch.OnSpeechStart()
	waitFor(t, "speech_active rejection", func() bool {
		return testutil.ToFloat64(h.metrics.RejectedEvents.WithLabelValues("speech_start", "speech_active")) == 1
	})

	if h.dispatcher.callCount() != 0 {
		t.Errorf("Rejected events must not dispatch")
	}
}

// gatedDispatcher blocks inside Dispatch until released, then hands back an
// already completed result
type gatedDispatcher struct {
	entered chan struct{}
	release chan struct{}
}

func (d *gatedDispatcher) Dispatch(_ context.Context, seg audio.Segment, _ string) <-chan transcription.Result {
	d.entered <- struct{}{}
	<-d.release
	ch := make(chan transcription.Result, 1)
	ch <- transcription.Result{SegmentID: seg.ID, Text: "finished"}
	return ch
}

func TestQueuedSpeechStartSettledBeforeResult(t *testing.T) {
	gate := &gatedDispatcher{entered: make(chan struct{}, 1), release: make(chan struct{})}
	h := newHarnessWith(t, gate)
	h.start(t)

	h.orch.OnSpeechStart()
	h.orch.OnSpeechEnd(oneSecond())
	<-gate.entered

	// queued while the loop is still inside Dispatch
	h.orch.OnSpeechStart()
	close(gate.release)

	select {
	case text := <-h.consumer.transcripts:
		if text != "finished" {
			t.Errorf("Unexpected transcript %q", text)
		}
	case <-time.After(time.Second):
		t.Fatalf("No transcript delivered")
	}

	h.waitState(t, StateListening)
	if got := testutil.ToFloat64(h.metrics.RejectedEvents.WithLabelValues("speech_start", "segment_dispatched")); got != 1 {
		t.Errorf("Expected the queued speech start rejected while dispatched, got %v", got)
	}
	time.Sleep(20 * time.Millisecond)
	if state := h.orch.Status().State; state != StateListening.String() {
		t.Errorf("Stale speech start leaked into %s", state)
	}
	if h.latency.Pending(metrics.PhaseSpeech) {
		t.Errorf("No speech phase should be open")
	}
}

func TestQueuedStopSettledBeforeResult(t *testing.T) {
	gate := &gatedDispatcher{entered: make(chan struct{}, 1), release: make(chan struct{})}
	h := newHarnessWith(t, gate)
	h.start(t)

	h.orch.OnSpeechStart()
	h.orch.OnSpeechEnd(oneSecond())
	<-gate.entered

	stopped := make(chan error, 1)
	go func() { stopped <- h.orch.Stop() }()
	waitFor(t, "queued stop", func() bool { return len(h.orch.events) == 1 })
	close(gate.release)

	if err := <-stopped; err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	h.waitState(t, StateIdle)
	waitFor(t, "stale metric", func() bool { return testutil.ToFloat64(h.metrics.StaleResults) == 1 })
	expectNoTranscript(t, h.consumer)

	time.Sleep(20 * time.Millisecond)
	if got := testutil.ToFloat64(h.metrics.StaleResults); got != 1 {
		t.Errorf("Result counted as stale %v times", got)
	}
}

func TestStopDuringSpeech(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.orch.OnSpeechStart()
	h.waitState(t, StateSpeechActive)

	if err := h.orch.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if h.latency.Pending(metrics.PhaseSpeech) {
		t.Errorf("Speech phase should be cancelled")
	}

	h.orch.OnSpeechEnd(oneSecond())
	waitFor(t, "rejection", func() bool {
		return testutil.ToFloat64(h.metrics.RejectedEvents.WithLabelValues("speech_end", "idle")) == 1
	})
	if h.dispatcher.callCount() != 0 {
		t.Errorf("Speech ended after stop must not dispatch")
	}
}

func TestDetectorResumeFailure(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	call := h.speak(t, oneSecond())

	h.detector.setStartErr(errors.New("device lost"))
	call.results <- transcription.Result{SegmentID: call.segment.ID, Text: "last words"}

	if text := <-h.consumer.transcripts; text != "last words" {
		t.Errorf("Unexpected transcript %q", text)
	}
	h.waitState(t, StateIdle)
	if status := h.orch.Status(); !status.Errored || status.LastError == "" {
		t.Errorf("Expected errored status, got %+v", status)
	}
}

func TestToggleMute(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	muted, err := h.orch.ToggleMute(ctx)
	if err != nil || !muted {
		t.Fatalf("Expected muted=true, got %v (%v)", muted, err)
	}
	if value, _ := h.store.Get(ctx, config.KeyTTSMuted); value != "true" {
		t.Errorf("Expected stored true, got %q", value)
	}

	muted, err = h.orch.ToggleMute(ctx)
	if err != nil || muted {
		t.Fatalf("Expected muted=false, got %v (%v)", muted, err)
	}
}

func TestShutdownReturnsContextError(t *testing.T) {
	o := New(Config{Logger: testLogger(), Dispatcher: &fakeDispatcher{}})
	o.AttachDetector(&fakeDetector{})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- o.Run(ctx) }()
	<-o.running
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not return")
	}

	if err := o.Start(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Expected ErrNotRunning after shutdown, got %v", err)
	}
}
