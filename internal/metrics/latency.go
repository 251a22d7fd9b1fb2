package metrics

import (
	"log/slog"
	"sync"
	"time"
)

// Phase names a timed stage of the capture pipeline
type Phase string

const (
	// PhaseSpeech spans detector speech start to speech end
	PhaseSpeech Phase = "speech"
	// PhaseTranscribe spans dispatch to result delivery
	PhaseTranscribe Phase = "transcribe"
)

// LatencyTracker records stage boundaries for one orchestrator session.
// It never blocks the pipeline and never fails: a repeated MarkStart
// overwrites the pending start, and MarkEnd without a start is ignored.
type LatencyTracker struct {
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	mu     sync.Mutex
	starts map[Phase]time.Time
	last   map[Phase]time.Duration
}

// NewLatencyTracker creates a tracker that reports to logger and m (both optional)
func NewLatencyTracker(logger *slog.Logger, m *Metrics) *LatencyTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &LatencyTracker{
		logger:  logger.With("component", "latency"),
		metrics: m,
		now:     time.Now,
		starts:  make(map[Phase]time.Time),
		last:    make(map[Phase]time.Duration),
	}
}

// MarkStart opens a phase, replacing any start already pending for it
func (t *LatencyTracker) MarkStart(phase Phase) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, pending := t.starts[phase]; pending {
		t.logger.Debug("Phase restarted before it ended", slog.String("phase", string(phase)))
	}
	t.starts[phase] = t.now()
}

// MarkEnd closes a phase and returns its duration.
// The boolean is false when the phase was not open.
func (t *LatencyTracker) MarkEnd(phase Phase) (time.Duration, bool) {
	if t == nil {
		return 0, false
	}
	t.mu.Lock()
	start, ok := t.starts[phase]
	if !ok {
		t.mu.Unlock()
		return 0, false
	}
	delete(t.starts, phase)
	elapsed := t.now().Sub(start)
	t.last[phase] = elapsed
	t.mu.Unlock()

	t.metrics.RecordPhase(string(phase), elapsed.Seconds())
	t.logger.Debug("Phase completed",
		slog.String("phase", string(phase)),
		slog.Duration("elapsed", elapsed),
	)

	return elapsed, true
}

// Cancel drops a pending phase without recording it
func (t *LatencyTracker) Cancel(phase Phase) {
	if t == nil {
		return
	}
	t.mu.Lock()
	delete(t.starts, phase)
	t.mu.Unlock()
}

// Last returns the most recently completed duration of a phase
func (t *LatencyTracker) Last(phase Phase) (time.Duration, bool) {
	if t == nil {
		return 0, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.last[phase]
	return d, ok
}

// Pending reports whether a phase has been started but not ended
func (t *LatencyTracker) Pending(phase Phase) bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.starts[phase]
	return ok
}
