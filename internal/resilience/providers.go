package resilience

import (
	"context"

	"github.com/hieuclc/ai-voice-agent/pkg/audio"
	"github.com/hieuclc/ai-voice-agent/pkg/provider/llm"
	"github.com/hieuclc/ai-voice-agent/pkg/provider/stt"
	"github.com/hieuclc/ai-voice-agent/pkg/provider/tts"
)

// LLM implements [llm.Provider] with failover across multiple model backends.
type LLM struct {
	group *Group[llm.Provider]
}

var _ llm.Provider = (*LLM)(nil)

// NewLLM creates an [LLM] with primary as the preferred backend.
func NewLLM(primary llm.Provider, name string, breaker BreakerConfig) *LLM {
	return &LLM{group: NewGroup(primary, name, breaker)}
}

// AddFallback registers an additional backend tried after the primary.
func (f *LLM) AddFallback(name string, p llm.Provider) {
	f.group.AddFallback(name, p)
}

// StreamCompletion opens a completion stream on the first healthy backend.
// Failover covers stream setup only; once a channel is returned, mid-stream
// errors surface through the stream as usual.
func (f *LLM) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return Do(f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// Complete runs a blocking completion on the first healthy backend.
func (f *LLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Do(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// STT implements [stt.Provider] with failover across transcription backends.
type STT struct {
	group *Group[stt.Provider]
}

var _ stt.Provider = (*STT)(nil)

// NewSTT creates an [STT] with primary as the preferred backend.
func NewSTT(primary stt.Provider, name string, breaker BreakerConfig) *STT {
	return &STT{group: NewGroup(primary, name, breaker)}
}

// AddFallback registers an additional backend tried after the primary.
func (f *STT) AddFallback(name string, p stt.Provider) {
	f.group.AddFallback(name, p)
}

// Transcribe runs the utterance through the first healthy backend.
func (f *STT) Transcribe(ctx context.Context, pcm []byte, format audio.Format) (string, error) {
	return Do(f.group, func(p stt.Provider) (string, error) {
		return p.Transcribe(ctx, pcm, format)
	})
}

// TTS implements [tts.Provider] with failover across synthesis backends.
type TTS struct {
	group *Group[tts.Provider]
}

var _ tts.Provider = (*TTS)(nil)

// NewTTS creates a [TTS] with primary as the preferred backend.
func NewTTS(primary tts.Provider, name string, breaker BreakerConfig) *TTS {
	return &TTS{group: NewGroup(primary, name, breaker)}
}

// AddFallback registers an additional backend tried after the primary.
func (f *TTS) AddFallback(name string, p tts.Provider) {
	f.group.AddFallback(name, p)
}

// Synthesize opens a synthesis stream on the first healthy backend. Failover
// covers stream setup only; a stream that fails after its first frame
// surfaces through [tts.Stream.Err].
func (f *TTS) Synthesize(ctx context.Context, text string) (*tts.Stream, error) {
	return Do(f.group, func(p tts.Provider) (*tts.Stream, error) {
		return p.Synthesize(ctx, text)
	})
}
