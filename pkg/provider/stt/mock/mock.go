// Package mock provides a scriptable [stt.Provider] for tests.
package mock

import (
	"context"
	"sync"

	"github.com/hieuclc/ai-voice-agent/pkg/audio"
	"github.com/hieuclc/ai-voice-agent/pkg/provider/stt"
)

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

// Provider returns scripted transcripts in order, repeating the last one
// when the script runs out. Received PCM lengths are recorded.
type Provider struct {
	mu      sync.Mutex
	results []string
	next    int
	Err     error // returned by every call when non-nil

	calls []int // pcm byte lengths per call
}

// New returns a Provider that replays the given transcripts.
func New(results ...string) *Provider {
	return &Provider{results: results}
}

// Calls returns the PCM byte length of every Transcribe call so far.
func (p *Provider) Calls() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, len(p.calls))
	copy(out, p.calls)
	return out
}

// Transcribe implements [stt.Provider].
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, _ audio.Format) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, len(pcm))
	if p.Err != nil {
		return "", p.Err
	}
	if len(p.results) == 0 {
		return "", nil
	}
	r := p.results[min(p.next, len(p.results)-1)]
	p.next++
	return r, nil
}
