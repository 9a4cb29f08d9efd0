// Package mock provides a deterministic [tts.Provider] for tests. Each
// synthesis call yields PCM whose bytes repeat the input text, so tests can
// correlate output frames with the text that produced them.
package mock

import (
	"context"
	"sync"

	"github.com/hieuclc/ai-voice-agent/pkg/audio"
	"github.com/hieuclc/ai-voice-agent/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// Provider records synthesised texts and emits one padded frame per call.
type Provider struct {
	Format audio.Format
	Err    error // returned by Synthesize when non-nil

	// StreamErr, when non-nil, closes the stream with this error after the
	// frames have been emitted, simulating a backend that dies mid-stream.
	StreamErr error

	// BeforeEmit, when non-nil, runs in the synthesis goroutine before any
	// frame is emitted. Tests use it to coordinate cancellation timing.
	BeforeEmit func()

	mu    sync.Mutex
	texts []string
}

// New returns a Provider emitting 16 kHz mono frames.
func New() *Provider {
	return &Provider{Format: audio.Format{SampleRate: 16000, Channels: 1}}
}

// Texts returns every text synthesised so far.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.texts))
	copy(out, p.texts)
	return out
}

// Synthesize implements [tts.Provider].
func (p *Provider) Synthesize(ctx context.Context, text string) (*tts.Stream, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	p.mu.Lock()
	p.texts = append(p.texts, text)
	p.mu.Unlock()

	pcm := make([]byte, 0, len(text)*2)
	for _, b := range []byte(text) {
		pcm = append(pcm, b, 0)
	}
	frames, _ := tts.SliceFrames(pcm, p.Format, 0)

	out := tts.NewStream(len(frames))
	go func() {
		var streamErr error
		defer func() { out.Close(streamErr) }()
		if p.BeforeEmit != nil {
			p.BeforeEmit()
		}
		for _, f := range frames {
			if err := out.Send(ctx, f); err != nil {
				streamErr = err
				return
			}
		}
		streamErr = p.StreamErr
	}()
	return out, nil
}
