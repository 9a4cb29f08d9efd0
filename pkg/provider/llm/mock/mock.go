// Package mock provides a scriptable [llm.Provider] for tests.
package mock

import (
	"context"
	"sync"

	"github.com/hieuclc/ai-voice-agent/pkg/provider/llm"
)

// Compile-time interface assertion.
var _ llm.Provider = (*Provider)(nil)

// Turn scripts one completion: the chunks to stream and an optional error
// returned from StreamCompletion itself.
type Turn struct {
	Chunks []llm.Chunk
	Err    error
}

// Provider replays scripted turns in order. When the script runs out it
// repeats the last turn. Requests are recorded for assertions.
type Provider struct {
	mu       sync.Mutex
	turns    []Turn
	next     int
	requests []llm.CompletionRequest
}

// New returns a Provider that will replay the given turns.
func New(turns ...Turn) *Provider {
	return &Provider{turns: turns}
}

// TextTurn is a convenience constructor for a plain streamed text reply,
// split into one chunk per fragment with a final "stop" chunk.
func TextTurn(fragments ...string) Turn {
	var chunks []llm.Chunk
	for _, f := range fragments {
		chunks = append(chunks, llm.Chunk{Text: f})
	}
	chunks = append(chunks, llm.Chunk{FinishReason: llm.FinishStop})
	return Turn{Chunks: chunks}
}

// ToolCallTurn is a convenience constructor for a turn that requests a
// single tool invocation.
func ToolCallTurn(id, name, argsJSON string) Turn {
	return Turn{Chunks: []llm.Chunk{{
		FinishReason: llm.FinishToolCalls,
		ToolCalls:    []llm.ToolCall{{ID: id, Name: name, Arguments: argsJSON}},
	}}}
}

// Requests returns a copy of all requests seen so far.
func (p *Provider) Requests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.CompletionRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

func (p *Provider) take(req llm.CompletionRequest) Turn {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.turns) == 0 {
		return TextTurn("ok")
	}
	t := p.turns[min(p.next, len(p.turns)-1)]
	p.next++
	return t
}

// StreamCompletion implements [llm.Provider].
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	turn := p.take(req)
	if turn.Err != nil {
		return nil, turn.Err
	}

	ch := make(chan llm.Chunk, len(turn.Chunks))
	go func() {
		defer close(ch)
		for _, c := range turn.Chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	turn := p.take(req)
	if turn.Err != nil {
		return nil, turn.Err
	}
	resp := &llm.CompletionResponse{}
	for _, c := range turn.Chunks {
		resp.Content += c.Text
		resp.ToolCalls = append(resp.ToolCalls, c.ToolCalls...)
	}
	return resp, nil
}
