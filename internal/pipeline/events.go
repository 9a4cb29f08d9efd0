package pipeline

// EventType enumerates the lifecycle events a pipeline publishes.
type EventType int

const (
	// EventClientConnected fires once the pipeline is wired and the session
	// history is loaded.
	EventClientConnected EventType = iota

	// EventClientDisconnected fires when the pipeline shuts down, for any
	// reason.
	EventClientDisconnected

	// EventTranscriptUpdated fires after a message was appended to the
	// session transcript.
	EventTranscriptUpdated

	// EventSessionTimeout fires when no inbound audio arrived within the
	// idle window. The pipeline closes afterwards.
	EventSessionTimeout

	// EventTurnError fires when a turn ended with a recoverable error. The
	// pipeline stays live.
	EventTurnError
)

func (t EventType) String() string {
	switch t {
	case EventClientConnected:
		return "client_connected"
	case EventClientDisconnected:
		return "client_disconnected"
	case EventTranscriptUpdated:
		return "transcript_updated"
	case EventSessionTimeout:
		return "session_timeout"
	case EventTurnError:
		return "turn_error"
	default:
		return "unknown"
	}
}

// Event is one pipeline lifecycle notification.
type Event struct {
	Type      EventType
	SessionID string

	// Role and Text are set for EventTranscriptUpdated.
	Role string
	Text string

	// Err is set for EventTurnError.
	Err error
}
