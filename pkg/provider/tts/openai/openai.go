// Package openai provides a TTS provider backed by the OpenAI speech API.
// Audio is requested in raw PCM format (24 kHz mono) and streamed into
// pipeline frames as it downloads.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hieuclc/ai-voice-agent/pkg/audio"
	"github.com/hieuclc/ai-voice-agent/pkg/provider/tts"
)

// DefaultModel is the default OpenAI speech model.
const DefaultModel = oai.SpeechModelGPT4oMiniTTS

// DefaultVoice is the default voice preset.
const DefaultVoice = oai.AudioSpeechNewParamsVoiceAlloy

// pcmSampleRate is the fixed sample rate of the API's raw PCM output.
const pcmSampleRate = 24000

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
	voice  oai.AudioSpeechNewParamsVoice
	output audio.Format
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	voice   oai.AudioSpeechNewParamsVoice
	output  audio.Format
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithVoice selects the voice preset. Defaults to "alloy".
func WithVoice(voice oai.AudioSpeechNewParamsVoice) Option {
	return func(c *config) { c.voice = voice }
}

// WithOutputFormat resamples synthesised PCM to the given format. Zero
// values keep the API's native 24 kHz mono.
func WithOutputFormat(f audio.Format) Option {
	return func(c *config) { c.output = f }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs an OpenAI speech Provider. If model is empty, DefaultModel
// is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{voice: DefaultVoice}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  model,
		voice:  cfg.voice,
		output: cfg.output,
	}, nil
}

// Synthesize implements tts.Provider. Each text chunk is one speech request;
// the raw PCM body is framed as it streams in. A failed request closes the
// stream with its error.
func (p *Provider) Synthesize(ctx context.Context, text string) (*tts.Stream, error) {
	chunks := tts.SplitText(text, tts.MaxChunkChars)

	out := tts.NewStream(64)
	if len(chunks) == 0 {
		out.Close(nil)
		return out, nil
	}

	go func() {
		var streamErr error
		defer func() { out.Close(streamErr) }()

		format := audio.Format{SampleRate: pcmSampleRate, Channels: 1}
		if p.output.SampleRate > 0 {
			format = p.output
		}
		framer := &tts.Framer{Format: format}

		for _, chunk := range chunks {
			if err := p.streamChunk(ctx, chunk, framer, out); err != nil {
				streamErr = err
				return
			}
		}
		if frame, ok := framer.Flush(); ok {
			if err := out.Send(ctx, frame); err != nil {
				streamErr = err
			}
		}
	}()

	return out, nil
}

// streamChunk performs one speech request and pushes its PCM through framer.
func (p *Provider) streamChunk(ctx context.Context, text string, framer *tts.Framer, out *tts.Stream) error {
	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          p.model,
		Voice:          p.voice,
		Input:          text,
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return fmt.Errorf("openai tts: speech request: %w", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 8192)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			pcm := buf[:n]
			if p.output.SampleRate > 0 && p.output.SampleRate != pcmSampleRate {
				pcm = audio.ResampleMono16(pcm, pcmSampleRate, p.output.SampleRate)
			}
			for _, frame := range framer.Push(pcm) {
				if err := out.Send(ctx, frame); err != nil {
					return err
				}
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("openai tts: read speech body: %w", readErr)
		}
	}
}
