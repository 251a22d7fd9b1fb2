package vad

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrNotListening is returned by Feed while the detector is paused
var ErrNotListening = errors.New("vad: detector is paused")

// Handler receives speech boundaries. Calls are made from the goroutine that
// feeds frames and never while the detector holds its lock.
type Handler interface {
	OnSpeechStart()
	OnSpeechEnd(samples []float32)
}

// Config contains detector parameters
type Config struct {
	Threshold          float32 // speech probability threshold (0.0 - 1.0)
	Smoothing          float32 // weight of the newest frame, 1 disables smoothing
	FrameSize          int     // samples per frame
	SampleRate         int
	MinSpeechDuration  time.Duration // voiced audio required before speech start is reported
	RedemptionDuration time.Duration // trailing silence that ends speech
	PreSpeechPad       time.Duration // audio kept from before the first voiced frame
}

// Detector is an energy-based voice activity detector
type Detector struct {
	config  Config
	handler Handler

	minSpeechFrames  int
	redemptionFrames int
	padFrames        int

	// Detection state
	listening    bool
	err          error
	lastResult   float32
	candidate    bool // voiced audio seen, start not yet reported
	speaking     bool // start reported
	speechFrames int
	silentFrames int
	preSpeech    [][]float32
	speech       []float32

	// Statistics
	totalFrames   uint64
	voiceFrames   uint64
	segments      uint64
	misfires      uint64
	lastProcessed time.Time

	mu sync.Mutex
}

// FrameResult represents the outcome of one processed frame
type FrameResult struct {
	Probability float32 `json:"probability"` // Voice probability (0.0 - 1.0)
	HasVoice    bool    `json:"has_voice"`
	FrameIndex  uint64  `json:"frame_index"`
}

// DetectorStats represents detector statistics
type DetectorStats struct {
	Listening       bool      `json:"listening"`
	Errored         bool      `json:"errored"`
	TotalFrames     uint64    `json:"total_frames"`
	VoiceFrames     uint64    `json:"voice_frames"`
	VoicePercentage float64   `json:"voice_percentage"`
	Segments        uint64    `json:"segments"`
	Misfires        uint64    `json:"misfires"`
	LastProcessed   time.Time `json:"last_processed"`
	Threshold       float32   `json:"threshold"`
}

// NewDetector creates a paused detector that reports to handler
func NewDetector(config Config, handler Handler) (*Detector, error) {
	if config.Threshold <= 0 || config.Threshold >= 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", config.Threshold)
	}

	if config.Smoothing <= 0 || config.Smoothing > 1 {
		return nil, fmt.Errorf("smoothing must be in (0, 1], got %f", config.Smoothing)
	}

	if config.FrameSize <= 0 {
		return nil, fmt.Errorf("frame size must be positive, got %d", config.FrameSize)
	}

	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}

	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	frameDuration := time.Duration(config.FrameSize) * time.Second / time.Duration(config.SampleRate)

	return &Detector{
		config:           config,
		handler:          handler,
		minSpeechFrames:  max(1, framesFor(config.MinSpeechDuration, frameDuration)),
		redemptionFrames: max(1, framesFor(config.RedemptionDuration, frameDuration)),
		padFrames:        framesFor(config.PreSpeechPad, frameDuration),
	}, nil
}

func framesFor(d, frame time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(float64(d) / float64(frame)))
}

// Start resumes detection. It fails with the recorded error once the detector
// has been marked failed.
func (d *Detector) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.err != nil {
		return d.err
	}
	d.listening = true
	return nil
}

// Pause stops detection and drops any partially captured speech
func (d *Detector) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.listening = false
	d.resetSegment()
	d.preSpeech = d.preSpeech[:0]
}

// Listening reports whether frames are being evaluated
func (d *Detector) Listening() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listening
}

// Err returns the error that disabled the detector, if any
func (d *Detector) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Fail marks the detector unusable (for example when the audio source breaks)
func (d *Detector) Fail(err error) {
	if err == nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.err = err
	d.listening = false
	d.resetSegment()
}

// Feed evaluates one frame. Speech boundaries are reported to the handler
// after the internal lock is released.
func (d *Detector) Feed(frame []float32) (*FrameResult, error) {
	if len(frame) != d.config.FrameSize {
		return nil, fmt.Errorf("expected %d samples, got %d", d.config.FrameSize, len(frame))
	}

	d.mu.Lock()

	if d.err != nil {
		err := d.err
		d.mu.Unlock()
		return nil, err
	}
	if !d.listening {
		d.mu.Unlock()
		return nil, ErrNotListening
	}

	probability := frameEnergy(frame)
	if d.totalFrames > 0 {
		probability = d.config.Smoothing*probability + (1-d.config.Smoothing)*d.lastResult
	}
	d.lastResult = probability

	hasVoice := probability >= d.config.Threshold

	d.totalFrames++
	if hasVoice {
		d.voiceFrames++
	}
	d.lastProcessed = time.Now()

	result := &FrameResult{
		Probability: probability,
		HasVoice:    hasVoice,
		FrameIndex:  d.totalFrames - 1,
	}

	started, ended := d.advance(frame, hasVoice)

	d.mu.Unlock()

	if started {
		d.handler.OnSpeechStart()
	}
	if ended != nil {
		d.handler.OnSpeechEnd(ended)
	}

	return result, nil
}

// advance updates the segment state machine for one frame. It returns whether
// speech start should be reported and, when speech ended, the captured samples.
// Must be called with d.mu held.
func (d *Detector) advance(frame []float32, hasVoice bool) (bool, []float32) {
	if !d.candidate {
		if !hasVoice {
			d.pushPreSpeech(frame)
			return false, nil
		}

		d.candidate = true
		for _, padded := range d.preSpeech {
			d.speech = append(d.speech, padded...)
		}
		d.preSpeech = d.preSpeech[:0]
	}

	d.speech = append(d.speech, frame...)

	if hasVoice {
		d.speechFrames++
		d.silentFrames = 0
	} else {
		d.silentFrames++
	}

	started := false
	if !d.speaking && d.speechFrames >= d.minSpeechFrames {
		d.speaking = true
		started = true
	}

	if d.silentFrames < d.redemptionFrames {
		return started, nil
	}

	if !d.speaking {
		// voiced burst shorter than the minimum
		d.misfires++
		d.resetSegment()
		return false, nil
	}

	samples := d.speech
	d.segments++
	d.speech = nil
	d.resetSegment()
	return started, samples
}

func (d *Detector) pushPreSpeech(frame []float32) {
	if d.padFrames == 0 {
		return
	}
	owned := make([]float32, len(frame))
	copy(owned, frame)

	if len(d.preSpeech) == d.padFrames {
		d.preSpeech = append(d.preSpeech[:0], d.preSpeech[1:]...)
	}
	d.preSpeech = append(d.preSpeech, owned)
}

func (d *Detector) resetSegment() {
	d.candidate = false
	d.speaking = false
	d.speechFrames = 0
	d.silentFrames = 0
	d.speech = d.speech[:0]
}

// frameEnergy maps the RMS level of a frame to a 0-1 speech probability
func frameEnergy(frame []float32) float32 {
	var energy float64
	for _, sample := range frame {
		s := float64(sample)
		if math.IsNaN(s) {
			continue
		}
		energy += s * s
	}
	energy = math.Sqrt(energy / float64(len(frame)))

	// Normalize energy to 0-1 range (full speech level around 0.1 RMS)
	normalized := energy / 0.1
	if normalized > 1.0 {
		normalized = 1.0
	}
	return float32(normalized)
}

// GetStats returns current detector statistics
func (d *Detector) GetStats() DetectorStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	voicePercentage := float64(0)
	if d.totalFrames > 0 {
		voicePercentage = float64(d.voiceFrames) / float64(d.totalFrames) * 100
	}

	return DetectorStats{
		Listening:       d.listening,
		Errored:         d.err != nil,
		TotalFrames:     d.totalFrames,
		VoiceFrames:     d.voiceFrames,
		VoicePercentage: voicePercentage,
		Segments:        d.segments,
		Misfires:        d.misfires,
		LastProcessed:   d.lastProcessed,
		Threshold:       d.config.Threshold,
	}
}

// FrameSize returns the frame size in samples
func (d *Detector) FrameSize() int {
	return d.config.FrameSize
}
