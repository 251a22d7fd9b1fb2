package orchestrator

// State is the capture session state
type State int

const (
	// StateIdle means capture is not armed
	StateIdle State = iota
	// StateListening means the detector is armed and waiting for speech
	StateListening
	// StateSpeechActive means speech started and has not ended yet
	StateSpeechActive
	// StateSegmentDispatched means one segment is awaiting its transcription
	StateSegmentDispatched
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateSpeechActive:
		return "speech_active"
	case StateSegmentDispatched:
		return "segment_dispatched"
	default:
		return "unknown"
	}
}

// Status is a point-in-time view of the session
type Status struct {
	State     string `json:"state"`
	Listening bool   `json:"listening"`
	Busy      bool   `json:"busy"`
	Errored   bool   `json:"errored"`
	InFlight  uint64 `json:"in_flight_segment,omitempty"`
	Backend   string `json:"in_flight_backend,omitempty"`
	Segments  uint64 `json:"segments"`
	LastError string `json:"last_error,omitempty"`
}
