// Package energy provides an RMS-energy [vad.Engine]. It needs no model
// weights, runs in microseconds per frame, and is accurate enough to gate a
// batch STT backend when paired with a generous hangover window.
package energy

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/hieuclc/ai-voice-agent/pkg/provider/vad"
)

// Compile-time interface assertions.
var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*session)(nil)
)

// referenceRMS maps raw RMS (0–32767) onto the probability scale: a frame at
// this RMS scores 1.0. Tuned for speech recorded at normal browser mic gain.
const referenceRMS = 4096.0

// Engine creates RMS-based VAD sessions.
type Engine struct{}

// New returns a new energy Engine.
func New() *Engine { return &Engine{} }

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy vad: invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("energy vad: invalid frame size %dms", cfg.FrameSizeMs)
	}
	if cfg.SpeechThreshold <= 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("energy vad: speech threshold %.2f out of range (0, 1]", cfg.SpeechThreshold)
	}
	if cfg.SilenceThreshold < 0 || cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("energy vad: silence threshold %.2f must be in [0, %.2f]", cfg.SilenceThreshold, cfg.SpeechThreshold)
	}

	minSpeechFrames := cfg.MinSpeechMs / cfg.FrameSizeMs
	if minSpeechFrames < 1 {
		minSpeechFrames = 1
	}
	hangoverFrames := cfg.HangoverMs / cfg.FrameSizeMs
	if hangoverFrames < 1 {
		hangoverFrames = 1
	}

	return &session{
		cfg:             cfg,
		frameBytes:      cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2,
		minSpeechFrames: minSpeechFrames,
		hangoverFrames:  hangoverFrames,
	}, nil
}

// session holds the per-stream detection state. Not safe for concurrent use.
type session struct {
	cfg             vad.Config
	frameBytes      int
	minSpeechFrames int
	hangoverFrames  int

	inSpeech      bool
	speechStreak  int
	silenceStreak int
	closed        bool
}

// ProcessFrame implements [vad.SessionHandle].
func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	if s.closed {
		return vad.Event{}, fmt.Errorf("energy vad: session is closed")
	}
	if len(frame) != s.frameBytes {
		return vad.Event{}, fmt.Errorf("energy vad: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}

	prob := math.Min(rms(frame)/referenceRMS, 1.0)
	event := vad.Event{Probability: prob}

	switch {
	case !s.inSpeech:
		if prob >= s.cfg.SpeechThreshold {
			s.speechStreak++
			if s.speechStreak >= s.minSpeechFrames {
				s.inSpeech = true
				s.silenceStreak = 0
				event.Type = vad.SpeechStart
				return event, nil
			}
		} else {
			s.speechStreak = 0
		}
		event.Type = vad.Silence

	default: // in speech
		if prob < s.cfg.SilenceThreshold {
			s.silenceStreak++
			if s.silenceStreak >= s.hangoverFrames {
				s.inSpeech = false
				s.speechStreak = 0
				s.silenceStreak = 0
				event.Type = vad.SpeechEnd
				return event, nil
			}
		} else {
			s.silenceStreak = 0
		}
		event.Type = vad.SpeechContinue
	}

	return event, nil
}

// Reset implements [vad.SessionHandle].
func (s *session) Reset() {
	s.inSpeech = false
	s.speechStreak = 0
	s.silenceStreak = 0
}

// Close implements [vad.SessionHandle].
func (s *session) Close() error {
	s.closed = true
	return nil
}

// rms returns the root-mean-square energy of 16-bit little-endian PCM,
// in sample units (0–32767).
func rms(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
