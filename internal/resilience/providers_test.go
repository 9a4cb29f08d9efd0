package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hieuclc/ai-voice-agent/pkg/audio"
	"github.com/hieuclc/ai-voice-agent/pkg/provider/llm"
	llmmock "github.com/hieuclc/ai-voice-agent/pkg/provider/llm/mock"
	sttmock "github.com/hieuclc/ai-voice-agent/pkg/provider/stt/mock"
	ttsmock "github.com/hieuclc/ai-voice-agent/pkg/provider/tts/mock"
)

var testFormat = audio.Format{SampleRate: 16000, Channels: 1}

func newRequest(text string) llm.CompletionRequest {
	return llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: text}},
	}
}

func TestSTTFallbackOnPrimaryFailure(t *testing.T) {
	t.Parallel()

	primary := sttmock.New("không dùng được")
	primary.Err = errors.New("whisper server unreachable")
	backup := sttmock.New("xin chào")

	f := NewSTT(primary, "whisperhttp", BreakerConfig{})
	f.AddFallback("openai", backup)

	got, err := f.Transcribe(context.Background(), make([]byte, 640), testFormat)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "xin chào" {
		t.Fatalf("transcript = %q, want from backup", got)
	}
	if len(primary.Calls()) != 1 || len(backup.Calls()) != 1 {
		t.Fatalf("calls = primary %d backup %d, want 1 and 1",
			len(primary.Calls()), len(backup.Calls()))
	}
}

func TestSTTFallbackAllFailed(t *testing.T) {
	t.Parallel()

	cause := errors.New("model not loaded")
	primary := sttmock.New()
	primary.Err = cause

	f := NewSTT(primary, "whispercpp", BreakerConfig{})

	_, err := f.Transcribe(context.Background(), make([]byte, 640), testFormat)
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("err = %v, want cause preserved", err)
	}
}

func TestTTSFallbackOnPrimaryFailure(t *testing.T) {
	t.Parallel()

	primary := ttsmock.New()
	primary.Err = errors.New("vieneu 502")
	backup := ttsmock.New()

	f := NewTTS(primary, "vieneu", BreakerConfig{})
	f.AddFallback("openai", backup)

	stream, err := f.Synthesize(context.Background(), "chào bạn")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	for range stream.Frames() {
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("stream err = %v", err)
	}
	if texts := backup.Texts(); len(texts) != 1 || texts[0] != "chào bạn" {
		t.Fatalf("backup texts = %v, want [chào bạn]", texts)
	}
}

func TestLLMFallbackOnPrimaryFailure(t *testing.T) {
	t.Parallel()

	primary := llmmock.New(llmmock.Turn{Err: errors.New("rate limited")})
	backup := llmmock.New(llmmock.TextTurn("Dạ, em nghe."))

	f := NewLLM(primary, "openai", BreakerConfig{})
	f.AddFallback("ollama", backup)

	stream, err := f.StreamCompletion(context.Background(), newRequest("alo"))
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	var reply string
	for c := range stream {
		reply += c.Text
	}
	if reply != "Dạ, em nghe." {
		t.Fatalf("reply = %q, want from backup", reply)
	}
	if len(backup.Requests()) != 1 {
		t.Fatalf("backup requests = %d, want 1", len(backup.Requests()))
	}
}

func TestLLMFallbackTripsBreakerAndPinsBackup(t *testing.T) {
	t.Parallel()

	primary := llmmock.New(llmmock.Turn{Err: errors.New("rate limited")})
	backup := llmmock.New(llmmock.TextTurn("ok"))

	f := NewLLM(primary, "openai", BreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	f.AddFallback("ollama", backup)

	for i := 0; i < 3; i++ {
		if _, err := f.Complete(context.Background(), newRequest("alo")); err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
	}

	// The primary's breaker opened after the first failure, so later turns
	// must not touch it again.
	if got := len(primary.Requests()); got != 1 {
		t.Fatalf("primary requests = %d, want 1", got)
	}
	if got := len(backup.Requests()); got != 3 {
		t.Fatalf("backup requests = %d, want 3", got)
	}
}
