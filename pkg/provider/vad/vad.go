// Package vad defines the Engine interface for Voice Activity Detection
// backends.
//
// A VAD engine wraps a frame-level speech detector and surfaces it as a
// stateful per-stream session. Each session keeps its own smoothing history
// so concurrent audio streams are processed independently. VAD is
// synchronous by design: ProcessFrame returns immediately with a detection
// result, making it suitable for the low-latency stage that gates STT input.
//
// Engines must be safe for concurrent use across sessions. A single
// SessionHandle must not be shared across goroutines unless the
// implementation documents otherwise.
package vad

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz of frames passed to
	// ProcessFrame.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds.
	// ProcessFrame returns an error when a frame does not match this size.
	FrameSizeMs int

	// SpeechThreshold is the probability above which a frame counts as
	// speech. Range [0.0, 1.0]. Typical: 0.5.
	SpeechThreshold float64

	// SilenceThreshold is the probability below which a frame counts as
	// silence. Must be ≤ SpeechThreshold. Typical: 0.35.
	SilenceThreshold float64

	// MinSpeechMs is how long speech must persist before SpeechStart is
	// emitted, filtering out clicks and pops. Typical: 60.
	MinSpeechMs int

	// HangoverMs is how long silence must persist inside a segment before
	// SpeechEnd is emitted, bridging natural mid-sentence pauses.
	// Typical: 500.
	HangoverMs int
}

// EventType enumerates detection states.
type EventType int

const (
	// SpeechStart indicates speech has just begun.
	SpeechStart EventType = iota

	// SpeechContinue indicates ongoing speech.
	SpeechContinue

	// SpeechEnd indicates speech has just ended.
	SpeechEnd

	// Silence indicates no speech detected.
	Silence
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case SpeechStart:
		return "SPEECH_START"
	case SpeechContinue:
		return "SPEECH_CONTINUE"
	case SpeechEnd:
		return "SPEECH_END"
	case Silence:
		return "SILENCE"
	default:
		return "UNKNOWN"
	}
}

// Event is the detection result for a single audio frame.
type Event struct {
	Type EventType

	// Probability is the speech probability score (0.0–1.0).
	Probability float64
}

// SessionHandle is an active VAD session for one audio stream.
type SessionHandle interface {
	// ProcessFrame analyses one frame of raw little-endian PCM and returns
	// the detection result. It must not block.
	ProcessFrame(frame []byte) (Event, error)

	// Reset clears accumulated detection state without closing the session.
	Reset()

	// Close releases session resources. Safe to call more than once.
	Close() error
}

// Engine is the factory for VAD sessions.
type Engine interface {
	// NewSession creates a session ready to accept frames. Returns an error
	// for invalid configuration.
	NewSession(cfg Config) (SessionHandle, error)
}
