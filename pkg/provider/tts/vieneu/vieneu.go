// Package vieneu provides a TTS provider backed by a VieNeu-TTS server, a
// locally hosted Vietnamese voice-cloning model exposed over a small REST
// API. Synthesis is performed via POST /tts with a JSON body; the server
// responds with a WAV file whose PCM is re-framed for the pipeline.
//
// Because the server operates in batch mode (one HTTP call per text chunk
// rather than a streaming socket), Synthesize splits long text into chunks
// and dispatches concurrent requests with a small lookahead while preserving
// output order.
package vieneu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hieuclc/ai-voice-agent/pkg/audio"
	"github.com/hieuclc/ai-voice-agent/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultTimeout = 30 * time.Second
	ttsEndpoint    = "/tts"

	// chunkLookahead is how many synthesis HTTP requests may be in flight
	// at once. Higher values hide server latency at the cost of load.
	chunkLookahead = 2

	// audioChanBuf is the buffer depth of the returned frame channel.
	audioChanBuf = 64
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithVoice selects the reference voice preset on the server.
func WithVoice(voice string) Option {
	return func(p *Provider) { p.voice = voice }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithOutputFormat resamples synthesised PCM to the given format before
// framing. Zero values leave the server's native format untouched.
func WithOutputFormat(f audio.Format) Option {
	return func(p *Provider) { p.output = f }
}

// Provider implements tts.Provider against a VieNeu-TTS server.
// Safe for concurrent use; multiple Synthesize calls may run in parallel.
type Provider struct {
	serverURL  string
	voice      string
	output     audio.Format
	httpClient *http.Client
}

// New creates a Provider targeting the VieNeu-TTS server at serverURL
// (e.g. "http://localhost:8298").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("vieneu: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ttsRequest is the JSON body sent to POST /tts.
type ttsRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// chunkResult carries synthesised PCM or an error from a worker goroutine.
type chunkResult struct {
	pcm    []byte
	format audio.Format
	err    error
}

// Synthesize implements tts.Provider. Text is split into chunks, each chunk
// is synthesised by one HTTP call, and the resulting PCM is emitted as
// fixed-size frames in order. A chunk failure closes the stream with that
// error; the caller must drain it either way.
func (p *Provider) Synthesize(ctx context.Context, text string) (*tts.Stream, error) {
	chunks := tts.SplitText(text, tts.MaxChunkChars)

	out := tts.NewStream(audioChanBuf)
	if len(chunks) == 0 {
		out.Close(nil)
		return out, nil
	}

	// Ordered queue of per-chunk result channels keeps output order stable
	// while up to chunkLookahead requests run concurrently.
	queue := make(chan chan chunkResult, chunkLookahead)

	go func() {
		defer close(queue)
		for _, chunk := range chunks {
			ch := make(chan chunkResult, 1)
			select {
			case queue <- ch:
			case <-ctx.Done():
				return
			}
			go func(text string, res chan<- chunkResult) {
				pcm, format, err := p.synthesizeChunk(ctx, text)
				res <- chunkResult{pcm: pcm, format: format, err: err}
			}(chunk, ch)
		}
	}()

	go func() {
		var streamErr error
		defer func() { out.Close(streamErr) }()

		var framer *tts.Framer
		for ch := range queue {
			var result chunkResult
			select {
			case result = <-ch:
			case <-ctx.Done():
				streamErr = ctx.Err()
				return
			}
			if result.err != nil {
				streamErr = result.err
				return
			}
			if framer == nil {
				format := result.format
				if p.output.SampleRate > 0 {
					format = p.output
				}
				framer = &tts.Framer{Format: format}
			}

			pcm := result.pcm
			if p.output.SampleRate > 0 && result.format.SampleRate != p.output.SampleRate && result.format.Channels == 1 {
				pcm = audio.ResampleMono16(pcm, result.format.SampleRate, p.output.SampleRate)
			}
			for _, frame := range framer.Push(pcm) {
				if err := out.Send(ctx, frame); err != nil {
					streamErr = err
					return
				}
			}
		}
		if framer != nil {
			if frame, ok := framer.Flush(); ok {
				if err := out.Send(ctx, frame); err != nil {
					streamErr = err
				}
			}
		}
	}()

	return out, nil
}

// synthesizeChunk performs one POST /tts call and returns raw PCM with its
// native format (WAV header stripped).
func (p *Provider) synthesizeChunk(ctx context.Context, text string) ([]byte, audio.Format, error) {
	body, err := json.Marshal(ttsRequest{Text: text, Voice: p.voice})
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("vieneu: marshal tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+ttsEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("vieneu: create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("vieneu: POST %s: %w", ttsEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, audio.Format{}, fmt.Errorf("vieneu: POST %s returned status %d", ttsEndpoint, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("vieneu: read WAV response: %w", err)
	}

	info, err := tts.ParseWAV(wav)
	if err != nil {
		return nil, audio.Format{}, err
	}
	return wav[info.DataOffset:], audio.Format{SampleRate: info.SampleRate, Channels: info.Channels}, nil
}
