package transcription

import "fmt"

// FailureKind classifies why a segment produced no transcript
type FailureKind int

const (
	// FailureBackendUnavailable means the selected id resolved to no backend
	FailureBackendUnavailable FailureKind = iota + 1
	// FailureEncodingFailed means the segment could not be encoded for the backend
	FailureEncodingFailed
	// FailureBackendInvocationFailed means the backend call returned an error
	FailureBackendInvocationFailed
)

// String returns the string representation of the failure kind
func (k FailureKind) String() string {
	switch k {
	case FailureBackendUnavailable:
		return "backend_unavailable"
	case FailureEncodingFailed:
		return "encoding_failed"
	case FailureBackendInvocationFailed:
		return "backend_invocation_failed"
	default:
		return "unknown"
	}
}

// Failure is the error carried by an unsuccessful Result
type Failure struct {
	Kind    FailureKind
	Backend string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s (backend %s)", f.Kind, f.Backend)
	}
	return fmt.Sprintf("%s (backend %s): %v", f.Kind, f.Backend, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Result is the single outcome of dispatching one segment
type Result struct {
	SegmentID uint64
	Text      string
	Err       *Failure
}

// OK reports whether the result carries text
func (r Result) OK() bool {
	return r.Err == nil
}
