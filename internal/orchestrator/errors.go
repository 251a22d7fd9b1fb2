package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrCaptureDisabled is returned by Start when the selected backend resolves to no backend
	ErrCaptureDisabled = errors.New("capture disabled: no transcription backend selected")
	// ErrNotRunning is returned when the event loop is not running
	ErrNotRunning = errors.New("orchestrator event loop is not running")
	// ErrAlreadyRunning is returned by a second call to Run
	ErrAlreadyRunning = errors.New("orchestrator event loop already started")
	// ErrNoDetector is returned by Start before a detector is attached
	ErrNoDetector = errors.New("no voice activity detector attached")
)

// DetectorError reports that the voice activity detector cannot run
type DetectorError struct {
	Err error
}

func (e *DetectorError) Error() string {
	return fmt.Sprintf("voice activity detector error: %v", e.Err)
}

func (e *DetectorError) Unwrap() error {
	return e.Err
}
