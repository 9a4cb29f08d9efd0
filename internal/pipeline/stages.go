package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hieuclc/ai-voice-agent/internal/conversation"
	"github.com/hieuclc/ai-voice-agent/internal/observe"
	"github.com/hieuclc/ai-voice-agent/internal/tools"
	"github.com/hieuclc/ai-voice-agent/internal/transcript"
	"github.com/hieuclc/ai-voice-agent/pkg/audio"
	"github.com/hieuclc/ai-voice-agent/pkg/provider/llm"
	"github.com/hieuclc/ai-voice-agent/pkg/provider/stt"
	"github.com/hieuclc/ai-voice-agent/pkg/provider/tts"
	"github.com/hieuclc/ai-voice-agent/pkg/provider/vad"
	"github.com/hieuclc/ai-voice-agent/pkg/store"
)

// emitFunc forwards a frame to the next stage in the chain.
type emitFunc func(ctx context.Context, f Frame) error

// stage consumes one frame and may emit zero or more frames downstream.
// Frames a stage does not handle must be forwarded unchanged.
type stage interface {
	Name() string
	Handle(ctx context.Context, f Frame, emit emitFunc) error
}

// maxUtteranceBytes caps a single captured utterance (roughly 30 seconds of
// 16 kHz mono PCM) so a stuck VAD cannot grow the buffer without bound.
const maxUtteranceBytes = 16000 * 2 * 30

// turnDetector segments inbound audio into complete utterances using the
// VAD engine. It runs on the event loop, so its work per frame stays cheap.
type turnDetector struct {
	session    vad.SessionHandle
	frameBytes int
	format     audio.Format

	buf       []byte
	capture   []byte
	capturing bool
}

func newTurnDetector(session vad.SessionHandle, cfg vad.Config, format audio.Format) *turnDetector {
	frameBytes := cfg.SampleRate / 1000 * cfg.FrameSizeMs * 2
	return &turnDetector{session: session, frameBytes: frameBytes, format: format}
}

func (s *turnDetector) Name() string { return "turn_detect" }

func (s *turnDetector) Handle(ctx context.Context, f Frame, emit emitFunc) error {
	in, ok := f.(audioInFrame)
	if !ok {
		return emit(ctx, f)
	}

	s.buf = append(s.buf, in.frame.Data...)
	for len(s.buf) >= s.frameBytes {
		chunk := s.buf[:s.frameBytes]
		s.buf = s.buf[s.frameBytes:]

		ev, err := s.session.ProcessFrame(chunk)
		if err != nil {
			return fmt.Errorf("pipeline: vad: %w", err)
		}

		switch ev.Type {
		case vad.SpeechStart:
			s.capturing = true
			s.capture = append(s.capture[:0], chunk...)
		case vad.SpeechEnd:
			if !s.capturing {
				continue
			}
			s.capture = append(s.capture, chunk...)
			if err := s.flush(ctx, emit); err != nil {
				return err
			}
		default:
			if s.capturing {
				s.capture = append(s.capture, chunk...)
				if len(s.capture) >= maxUtteranceBytes {
					if err := s.flush(ctx, emit); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

func (s *turnDetector) flush(ctx context.Context, emit emitFunc) error {
	pcm := make([]byte, len(s.capture))
	copy(pcm, s.capture)
	s.capturing = false
	s.capture = s.capture[:0]
	return emit(ctx, utteranceFrame{pcm: pcm, format: s.format})
}

// transcribeStage converts a complete utterance into text.
type transcribeStage struct {
	provider stt.Provider
	metrics  *observe.Metrics
}

func (s *transcribeStage) Name() string { return "transcribe" }

func (s *transcribeStage) Handle(ctx context.Context, f Frame, emit emitFunc) error {
	utt, ok := f.(utteranceFrame)
	if !ok {
		return emit(ctx, f)
	}

	start := time.Now()
	text, err := s.provider.Transcribe(ctx, utt.pcm, utt.format)
	s.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return &TranscriptionError{Err: err}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		// Silence or noise, not a turn.
		return nil
	}
	return emit(ctx, transcriptFrame{text: text})
}

// correctStage snaps STT output to the configured vocabulary. With a nil
// corrector text passes through unchanged.
type correctStage struct {
	corrector *transcript.Corrector
	logger    *slog.Logger
}

func (s *correctStage) Name() string { return "correct" }

func (s *correctStage) Handle(ctx context.Context, f Frame, emit emitFunc) error {
	tr, ok := f.(transcriptFrame)
	if !ok {
		return emit(ctx, f)
	}

	text := tr.text
	if s.corrector != nil {
		corrected, corrections := s.corrector.Correct(text)
		if len(corrections) > 0 {
			s.logger.Debug("transcript corrected",
				"original", text, "corrected", corrected, "count", len(corrections))
			text = corrected
		}
	}
	return emit(ctx, userMessageFrame{text: text})
}

// contextUserStage flushes the user utterance into the session transcript.
// A failed save is logged and the turn continues without durability.
type contextUserStage struct {
	agg       *conversation.Aggregator
	logger    *slog.Logger
	emitEvent func(Event)
}

func (s *contextUserStage) Name() string { return "context_user" }

func (s *contextUserStage) Handle(ctx context.Context, f Frame, emit emitFunc) error {
	msg, ok := f.(userMessageFrame)
	if !ok {
		return emit(ctx, f)
	}

	if err := s.agg.AppendUser(ctx, msg.text); err != nil {
		s.logger.Warn("transcript save failed", "role", store.RoleUser, "error", err)
	}
	s.emitEvent(Event{Type: EventTranscriptUpdated, Role: string(store.RoleUser), Text: msg.text})
	return emit(ctx, f)
}

// ToolGateway is the subset of the tool gateway the LLM stage needs.
type ToolGateway interface {
	Definitions() []llm.ToolDefinition
	Lookup(name string) (tools.Descriptor, bool)
	Invoke(ctx context.Context, name, args string) (*tools.Result, error)
}

// llmStage drives the completion, streams sentence-sized segments to
// synthesis as they arrive, and runs the tool round-trip.
type llmStage struct {
	provider      llm.Provider
	gateway       ToolGateway
	systemPrompt  string
	temperature   float64
	maxTokens     int
	maxToolRounds int
	agg           *conversation.Aggregator
	metrics       *observe.Metrics
	logger        *slog.Logger
}

func (s *llmStage) Name() string { return "llm" }

func (s *llmStage) Handle(ctx context.Context, f Frame, emit emitFunc) error {
	var messages []llm.Message
	switch fr := f.(type) {
	case userMessageFrame:
		// The user message was already appended by the context stage.
		messages = s.agg.History()
	case runFrame:
		messages = append(s.agg.History(), llm.Message{Role: "user", Content: fr.instruction})
	default:
		return emit(ctx, f)
	}

	full, err := s.converse(ctx, messages, emit)
	if err != nil {
		return err
	}
	if full == "" {
		return nil
	}
	return emit(ctx, assistantMessageFrame{text: full})
}

// converse runs completion rounds until the model produces a final text
// answer or the tool round budget is exhausted. Returns the concatenation
// of all spoken model text, fillers excluded.
func (s *llmStage) converse(ctx context.Context, messages []llm.Message, emit emitFunc) (string, error) {
	defs := s.definitions()
	var spoken strings.Builder

	for round := 0; ; round++ {
		req := llm.CompletionRequest{
			SystemPrompt: s.systemPrompt,
			Messages:     messages,
			Tools:        defs,
			Temperature:  s.temperature,
			MaxTokens:    s.maxTokens,
		}
		if round >= s.maxToolRounds {
			// Budget exhausted, force a plain answer.
			req.Tools = nil
		}

		start := time.Now()
		text, toolCalls, err := s.stream(ctx, req, emit)
		s.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			return "", &LLMError{Err: err}
		}
		if text != "" {
			if spoken.Len() > 0 {
				spoken.WriteString(" ")
			}
			spoken.WriteString(text)
		}
		if len(toolCalls) == 0 {
			return spoken.String(), nil
		}

		// Phase 1: the filler must be fully synthesized and on the wire
		// before any tool runs. Dispatch is synchronous, so the emit below
		// returns only after the transport accepted the last filler frame.
		if round == 0 {
			if filler := s.fillerFor(toolCalls); filler != "" {
				if err := emit(ctx, speakFrame{text: filler}); err != nil {
					return "", err
				}
			}
		}

		messages = append(messages, llm.Message{Role: "assistant", Content: text, ToolCalls: toolCalls})
		messages = append(messages, s.invokeAll(ctx, toolCalls)...)

		if err := ctx.Err(); err != nil {
			return "", err
		}
	}
}

// stream consumes one completion stream, emitting sentence-sized speak
// frames as text arrives. Returns the full text and any tool calls.
func (s *llmStage) stream(ctx context.Context, req llm.CompletionRequest, emit emitFunc) (string, []llm.ToolCall, error) {
	chunks, err := s.provider.StreamCompletion(ctx, req)
	if err != nil {
		return "", nil, err
	}

	var full strings.Builder
	var pending string
	var toolCalls []llm.ToolCall

	for chunk := range chunks {
		if chunk.Err != nil {
			return "", nil, chunk.Err
		}
		if chunk.Text != "" {
			full.WriteString(chunk.Text)
			pending += chunk.Text
			for {
				idx := tts.FindSentenceBoundary(pending)
				if idx < 0 {
					break
				}
				seg := strings.TrimSpace(pending[:idx+1])
				pending = pending[idx+1:]
				if seg == "" {
					continue
				}
				if err := emit(ctx, speakFrame{text: seg}); err != nil {
					return "", nil, err
				}
			}
		}
		if len(chunk.ToolCalls) > 0 {
			toolCalls = append(toolCalls, chunk.ToolCalls...)
		}
	}
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	// Flush the tail, splitting anything that grew past the segment bound.
	for _, seg := range tts.SplitText(pending, tts.MaxChunkChars) {
		if err := emit(ctx, speakFrame{text: seg}); err != nil {
			return "", nil, err
		}
	}
	return strings.TrimSpace(full.String()), toolCalls, nil
}

// invokeAll runs all tool calls of one round concurrently and returns their
// results as tool messages in request order. Failures become error text fed
// back to the model, never a turn abort.
func (s *llmStage) invokeAll(ctx context.Context, calls []llm.ToolCall) []llm.Message {
	results := make([]llm.Message, len(calls))
	g, gctx := errgroup.WithContext(ctx)

	for i, call := range calls {
		g.Go(func() error {
			start := time.Now()
			res, err := s.gateway.Invoke(gctx, call.Name, call.Arguments)
			s.metrics.ToolExecutionDuration.Record(gctx, time.Since(start).Seconds())

			var content string
			switch {
			case err != nil:
				terr := &ToolExecutionError{Tool: call.Name, Err: err}
				s.logger.Warn("tool invocation failed", "tool", call.Name, "error", err)
				s.metrics.RecordToolCall(gctx, call.Name, "error")
				content = "Lỗi khi gọi công cụ: " + terr.Error()
			case res.IsError:
				s.metrics.RecordToolCall(gctx, call.Name, "error")
				content = "Lỗi: " + res.Content
			default:
				s.metrics.RecordToolCall(gctx, call.Name, "ok")
				content = res.Content
			}
			results[i] = llm.Message{Role: "tool", ToolCallID: call.ID, Content: content}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *llmStage) definitions() []llm.ToolDefinition {
	if s.gateway == nil {
		return nil
	}
	return s.gateway.Definitions()
}

// fillerFor returns the filler phrase of the first requested tool that
// carries the spoken-filler flag.
func (s *llmStage) fillerFor(calls []llm.ToolCall) string {
	if s.gateway == nil {
		return ""
	}
	for _, call := range calls {
		if d, ok := s.gateway.Lookup(call.Name); ok && d.SpokenFiller {
			return d.Filler
		}
	}
	return ""
}

// synthesizeStage turns speak frames into a stream of audio frames.
type synthesizeStage struct {
	provider tts.Provider
	metrics  *observe.Metrics
}

func (s *synthesizeStage) Name() string { return "synthesize" }

func (s *synthesizeStage) Handle(ctx context.Context, f Frame, emit emitFunc) error {
	sp, ok := f.(speakFrame)
	if !ok {
		return emit(ctx, f)
	}
	if strings.TrimSpace(sp.text) == "" {
		return nil
	}

	start := time.Now()
	stream, err := s.provider.Synthesize(ctx, sp.text)
	if err != nil {
		return &SynthesisError{Err: err}
	}

	frames := stream.Frames()
	for frame := range frames {
		if err := emit(ctx, audioOutFrame{frame: frame}); err != nil {
			// The producer observes ctx and stops; drain what it already
			// buffered so its goroutine exits.
			go audio.Drain(frames)
			return err
		}
		if err := ctx.Err(); err != nil {
			go audio.Drain(frames)
			return err
		}
	}
	// A stream that dies after the first frame still fails the turn.
	if err := stream.Err(); err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		return &SynthesisError{Err: err}
	}
	s.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	return nil
}

// transportOutStage hands synthesized frames to the connection.
type transportOutStage struct {
	conn audio.Conn
}

func (s *transportOutStage) Name() string { return "transport_out" }

func (s *transportOutStage) Handle(ctx context.Context, f Frame, emit emitFunc) error {
	out, ok := f.(audioOutFrame)
	if !ok {
		return emit(ctx, f)
	}
	if err := s.conn.Send(ctx, out.frame); err != nil {
		return &TransportError{Err: err}
	}
	return nil
}

// contextAssistantStage flushes the assistant reply into the transcript
// after its audio was fully dispatched.
type contextAssistantStage struct {
	agg       *conversation.Aggregator
	logger    *slog.Logger
	emitEvent func(Event)
}

func (s *contextAssistantStage) Name() string { return "context_assistant" }

func (s *contextAssistantStage) Handle(ctx context.Context, f Frame, emit emitFunc) error {
	msg, ok := f.(assistantMessageFrame)
	if !ok {
		return emit(ctx, f)
	}

	if err := s.agg.AppendAssistant(ctx, msg.text); err != nil {
		s.logger.Warn("transcript save failed", "role", store.RoleAssistant, "error", err)
	}
	s.emitEvent(Event{Type: EventTranscriptUpdated, Role: string(store.RoleAssistant), Text: msg.text})
	return nil
}
