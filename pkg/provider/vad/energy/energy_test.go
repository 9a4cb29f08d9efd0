package energy

import (
	"testing"

	"github.com/hieuclc/ai-voice-agent/pkg/provider/vad"
)

func defaultConfig() vad.Config {
	return vad.Config{
		SampleRate:       16000,
		FrameSizeMs:      20,
		SpeechThreshold:  0.5,
		SilenceThreshold: 0.35,
		MinSpeechMs:      40,
		HangoverMs:       100,
	}
}

// frame builds a 20 ms 16 kHz frame filled with a constant sample amplitude.
func frame(amplitude int16) []byte {
	samples := 16000 * 20 / 1000
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		out[i*2] = byte(amplitude)
		out[i*2+1] = byte(amplitude >> 8)
	}
	return out
}

func TestNewSessionValidation(t *testing.T) {
	t.Parallel()

	eng := New()
	bad := defaultConfig()
	bad.SpeechThreshold = 0
	if _, err := eng.NewSession(bad); err == nil {
		t.Error("expected error for zero speech threshold")
	}

	bad = defaultConfig()
	bad.SilenceThreshold = 0.9
	if _, err := eng.NewSession(bad); err == nil {
		t.Error("expected error for silence threshold above speech threshold")
	}
}

func TestFrameSizeMismatch(t *testing.T) {
	t.Parallel()

	sess, err := New().NewSession(defaultConfig())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if _, err := sess.ProcessFrame(make([]byte, 10)); err == nil {
		t.Error("expected error for wrong frame size")
	}
}

func TestSpeechSegmentLifecycle(t *testing.T) {
	t.Parallel()

	sess, err := New().NewSession(defaultConfig())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	loud := frame(8000) // well above the speech threshold
	quiet := frame(50)

	// First loud frame: still counting toward MinSpeechMs.
	ev, err := sess.ProcessFrame(loud)
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if ev.Type != vad.Silence {
		t.Errorf("first loud frame = %v, want SILENCE (debounce)", ev.Type)
	}

	// Second loud frame crosses MinSpeechMs (40ms / 20ms frames).
	ev, _ = sess.ProcessFrame(loud)
	if ev.Type != vad.SpeechStart {
		t.Errorf("second loud frame = %v, want SPEECH_START", ev.Type)
	}

	ev, _ = sess.ProcessFrame(loud)
	if ev.Type != vad.SpeechContinue {
		t.Errorf("third loud frame = %v, want SPEECH_CONTINUE", ev.Type)
	}

	// Silence frames within hangover keep the segment open.
	for i := 0; i < 4; i++ {
		ev, _ = sess.ProcessFrame(quiet)
		if ev.Type != vad.SpeechContinue {
			t.Fatalf("hangover frame %d = %v, want SPEECH_CONTINUE", i, ev.Type)
		}
	}

	// Fifth silent frame crosses HangoverMs (100ms / 20ms frames).
	ev, _ = sess.ProcessFrame(quiet)
	if ev.Type != vad.SpeechEnd {
		t.Errorf("after hangover = %v, want SPEECH_END", ev.Type)
	}

	// Back to silence.
	ev, _ = sess.ProcessFrame(quiet)
	if ev.Type != vad.Silence {
		t.Errorf("post-segment frame = %v, want SILENCE", ev.Type)
	}
}

func TestBriefNoiseIgnored(t *testing.T) {
	t.Parallel()

	sess, _ := New().NewSession(defaultConfig())

	// One loud frame followed by quiet: never reaches MinSpeechMs.
	ev, _ := sess.ProcessFrame(frame(8000))
	if ev.Type != vad.Silence {
		t.Errorf("noise frame = %v, want SILENCE", ev.Type)
	}
	ev, _ = sess.ProcessFrame(frame(50))
	if ev.Type != vad.Silence {
		t.Errorf("quiet frame = %v, want SILENCE", ev.Type)
	}
}

func TestMidSpeechPauseBridged(t *testing.T) {
	t.Parallel()

	sess, _ := New().NewSession(defaultConfig())
	loud, quiet := frame(8000), frame(50)

	sess.ProcessFrame(loud)
	sess.ProcessFrame(loud) // SpeechStart

	// Short pause, then speech resumes: silence streak must reset.
	sess.ProcessFrame(quiet)
	sess.ProcessFrame(quiet)
	sess.ProcessFrame(loud)

	for i := 0; i < 4; i++ {
		ev, _ := sess.ProcessFrame(quiet)
		if ev.Type != vad.SpeechContinue {
			t.Fatalf("frame %d after resume = %v, want SPEECH_CONTINUE", i, ev.Type)
		}
	}
	ev, _ := sess.ProcessFrame(quiet)
	if ev.Type != vad.SpeechEnd {
		t.Errorf("expected SPEECH_END after full hangover, got %v", ev.Type)
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	sess, _ := New().NewSession(defaultConfig())
	loud := frame(8000)

	sess.ProcessFrame(loud)
	sess.ProcessFrame(loud) // in speech
	sess.Reset()

	ev, _ := sess.ProcessFrame(loud)
	if ev.Type != vad.Silence {
		t.Errorf("after reset = %v, want SILENCE (debounce restarted)", ev.Type)
	}
}

func TestClosedSession(t *testing.T) {
	t.Parallel()

	sess, _ := New().NewSession(defaultConfig())
	_ = sess.Close()
	if _, err := sess.ProcessFrame(frame(0)); err == nil {
		t.Error("expected error after Close")
	}
}
