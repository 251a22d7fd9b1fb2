package transcription

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/skypro1111/speech-orchestrator/internal/audio"
	"github.com/skypro1111/speech-orchestrator/internal/config"
	"github.com/skypro1111/speech-orchestrator/internal/metrics"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type promptCall struct {
	payload []byte
	prompt  string
}

func recordingBackend(text string, err error, calls chan<- promptCall) Backend {
	return BackendFunc(func(_ context.Context, payload []byte, prompt string) (string, error) {
		if calls != nil {
			calls <- promptCall{payload: payload, prompt: prompt}
		}
		return text, err
	})
}

func waitResult(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatalf("Timed out waiting for dispatch result")
		return Result{}
	}
}

func testSegment(id uint64) audio.Segment {
	return audio.NewSegment(id, []float32{0.1, -0.1, 0.05, 0}, time.Now())
}

func TestDispatchSuccess(t *testing.T) {
	registry := NewRegistry()
	calls := make(chan promptCall, 1)
	registry.Register(Descriptor{
		ID:            BackendWhisperOpenAI,
		Kind:          KindRemote,
		Format:        audio.FormatWAVFloat32,
		AcceptsPrompt: true,
		Backend:       recordingBackend("raw text", nil, calls),
	})

	store := config.NewMemoryStore(nil)
	store.Set(context.Background(), config.KeySTTPrompt, "Amica")

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	dispatcher := NewDispatcher(registry, store, DispatcherConfig{Timeout: time.Second}, discardLogger(), m)

	result := waitResult(t, dispatcher.Dispatch(context.Background(), testSegment(7), BackendWhisperOpenAI))
	if !result.OK() {
		t.Fatalf("Expected success, got %v", result.Err)
	}
	if result.SegmentID != 7 || result.Text != "raw text" {
		t.Errorf("Unexpected result: %+v", result)
	}

	call := <-calls
	if call.prompt != "Amica" {
		t.Errorf("Expected prompt Amica, got %q", call.prompt)
	}
	if err := audio.ValidateWAV(call.payload); err != nil {
		t.Errorf("Expected WAV payload: %v", err)
	}

	dispatcher.Wait()
	stats := dispatcher.GetStats()
	if stats.Dispatched != 1 || stats.Succeeded != 1 || stats.Failed != 0 || stats.InFlight != 0 {
		t.Errorf("Unexpected stats: %s", stats)
	}
	if got := testutil.ToFloat64(m.TranscriptionSuccesses.WithLabelValues(BackendWhisperOpenAI)); got != 1 {
		t.Errorf("Expected 1 success metric, got %v", got)
	}
}

func TestDispatchPromptOnlyWhenAccepted(t *testing.T) {
	registry := NewRegistry()
	calls := make(chan promptCall, 1)
	registry.Register(Descriptor{
		ID:      BackendWhisperBrowser,
		Kind:    KindLocal,
		Format:  audio.FormatRawFloat32,
		Backend: recordingBackend("x", nil, calls),
	})

	store := config.NewMemoryStore(map[string]string{config.KeySTTPrompt: "names"})
	dispatcher := NewDispatcher(registry, store, DispatcherConfig{}, discardLogger(), nil)

	waitResult(t, dispatcher.Dispatch(context.Background(), testSegment(1), BackendWhisperBrowser))
	call := <-calls
	if call.prompt != "" {
		t.Errorf("Backend without prompt support got %q", call.prompt)
	}
	if len(call.payload) != 4*4 {
		t.Errorf("Expected raw float32 payload of 16 bytes, got %d", len(call.payload))
	}
}

// stallingStore never answers until the caller gives up
type stallingStore struct{}

func (stallingStore) Get(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (stallingStore) Set(ctx context.Context, _, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestDispatchPromptReadBounded(t *testing.T) {
	registry := NewRegistry()
	calls := make(chan promptCall, 1)
	registry.Register(Descriptor{
		ID:            BackendWhisperOpenAI,
		Kind:          KindRemote,
		Format:        audio.FormatWAVFloat32,
		AcceptsPrompt: true,
		Backend:       recordingBackend("still transcribed", nil, calls),
	})

	dispatcher := NewDispatcher(registry, stallingStore{}, DispatcherConfig{StoreTimeout: 20 * time.Millisecond}, discardLogger(), nil)

	begin := time.Now()
	results := dispatcher.Dispatch(context.Background(), testSegment(3), BackendWhisperOpenAI)
	if elapsed := time.Since(begin); elapsed > time.Second {
		t.Fatalf("Dispatch blocked for %v on a stalled settings store", elapsed)
	}

	result := waitResult(t, results)
	if !result.OK() || result.Text != "still transcribed" {
		t.Errorf("Unexpected result: %+v", result)
	}
	if call := <-calls; call.prompt != "" {
		t.Errorf("Expected empty prompt after store timeout, got %q", call.prompt)
	}
}

func TestDispatchBackendUnavailable(t *testing.T) {
	dispatcher := NewDispatcher(NewRegistry(), nil, DispatcherConfig{}, discardLogger(), nil)

	for _, id := range []string{BackendNone, "bogus"} {
		ch := dispatcher.Dispatch(context.Background(), testSegment(3), id)

		// delivered before Dispatch returns
		select {
		case result := <-ch:
			if result.OK() || result.Err.Kind != FailureBackendUnavailable {
				t.Errorf("Expected BackendUnavailable for %q, got %+v", id, result)
			}
			if result.SegmentID != 3 {
				t.Errorf("Expected segment id 3, got %d", result.SegmentID)
			}
		default:
			t.Fatalf("Unavailable result for %q was not immediate", id)
		}
	}

	if stats := dispatcher.GetStats(); stats.Failures["backend_unavailable"] != 2 || stats.InFlight != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestDispatchEncodingFailed(t *testing.T) {
	registry := NewRegistry()
	calls := make(chan promptCall, 1)
	registry.Register(Descriptor{
		ID:      BackendWhisperCPP,
		Kind:    KindNativeEngine,
		Format:  audio.FormatWAVInt16,
		Backend: recordingBackend("x", nil, calls),
	})
	dispatcher := NewDispatcher(registry, nil, DispatcherConfig{}, discardLogger(), nil)

	empty := audio.NewSegment(4, nil, time.Now())
	result := waitResult(t, dispatcher.Dispatch(context.Background(), empty, BackendWhisperCPP))
	if result.OK() || result.Err.Kind != FailureEncodingFailed {
		t.Fatalf("Expected EncodingFailed, got %+v", result)
	}
	if !errors.Is(result.Err, audio.ErrEmptySegment) {
		t.Errorf("Expected wrapped ErrEmptySegment, got %v", result.Err)
	}

	select {
	case <-calls:
		t.Errorf("Backend must not be invoked when encoding fails")
	default:
	}
}

func TestDispatchInvocationFailed(t *testing.T) {
	backendErr := errors.New("HTTP error 500")
	registry := NewRegistry()
	registry.Register(Descriptor{
		ID:      BackendWhisperOpenAI,
		Kind:    KindRemote,
		Format:  audio.FormatWAVFloat32,
		Backend: recordingBackend("", backendErr, nil),
	})

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	dispatcher := NewDispatcher(registry, nil, DispatcherConfig{}, discardLogger(), m)

	result := waitResult(t, dispatcher.Dispatch(context.Background(), testSegment(9), BackendWhisperOpenAI))
	if result.OK() || result.Err.Kind != FailureBackendInvocationFailed {
		t.Fatalf("Expected BackendInvocationFailed, got %+v", result)
	}
	if !errors.Is(result.Err, backendErr) {
		t.Errorf("Failure should unwrap to backend error")
	}
	if result.Err.Backend != BackendWhisperOpenAI {
		t.Errorf("Expected backend id on failure, got %q", result.Err.Backend)
	}

	dispatcher.Wait()
	if got := testutil.ToFloat64(m.TranscriptionFailures.WithLabelValues(BackendWhisperOpenAI, "backend_invocation_failed")); got != 1 {
		t.Errorf("Expected 1 failure metric, got %v", got)
	}
	if stats := dispatcher.GetStats(); stats.InFlight != 0 || stats.Failed != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestDispatchTimeout(t *testing.T) {
	registry := NewRegistry()
	registry.Register(Descriptor{
		ID:     BackendWhisperOpenAI,
		Kind:   KindRemote,
		Format: audio.FormatWAVFloat32,
		Backend: BackendFunc(func(ctx context.Context, _ []byte, _ string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}),
	})
	dispatcher := NewDispatcher(registry, nil, DispatcherConfig{Timeout: 20 * time.Millisecond}, discardLogger(), nil)

	result := waitResult(t, dispatcher.Dispatch(context.Background(), testSegment(1), BackendWhisperOpenAI))
	if result.OK() || !errors.Is(result.Err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline failure, got %+v", result)
	}
}

func TestDispatchResultsMatchedByID(t *testing.T) {
	release := make(chan struct{})
	registry := NewRegistry()
	registry.Register(Descriptor{
		ID:     "slow",
		Kind:   KindRemote,
		Format: audio.FormatRawFloat32,
		Backend: BackendFunc(func(ctx context.Context, _ []byte, _ string) (string, error) {
			<-release
			return "slow", nil
		}),
	})
	registry.Register(Descriptor{
		ID:      "fast",
		Kind:    KindRemote,
		Format:  audio.FormatRawFloat32,
		Backend: recordingBackend("fast", nil, nil),
	})
	dispatcher := NewDispatcher(registry, nil, DispatcherConfig{}, discardLogger(), nil)

	slow := dispatcher.Dispatch(context.Background(), testSegment(1), "slow")
	fast := dispatcher.Dispatch(context.Background(), testSegment(2), "fast")

	if r := waitResult(t, fast); r.SegmentID != 2 || r.Text != "fast" {
		t.Errorf("Unexpected fast result %+v", r)
	}
	close(release)
	if r := waitResult(t, slow); r.SegmentID != 1 || r.Text != "slow" {
		t.Errorf("Unexpected slow result %+v", r)
	}
}

func TestFailureError(t *testing.T) {
	f := &Failure{Kind: FailureEncodingFailed, Backend: "whispercpp", Err: errors.New("boom")}
	if f.Error() != "encoding_failed (backend whispercpp): boom" {
		t.Errorf("Unexpected message %q", f.Error())
	}
	f = &Failure{Kind: FailureBackendUnavailable, Backend: "none"}
	if f.Error() != "backend_unavailable (backend none)" {
		t.Errorf("Unexpected message %q", f.Error())
	}
	if FailureKind(0).String() != "unknown" {
		t.Errorf("Zero kind should be unknown")
	}
}
