// Package pipeline implements the per-connection duplex streaming pipeline:
// transport input, turn detection, transcription, correction, context
// aggregation, LLM inference with tool calls, synthesis, and transport
// output, as one ordered stage chain owned by a single event loop.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hieuclc/ai-voice-agent/internal/conversation"
	"github.com/hieuclc/ai-voice-agent/internal/observe"
	"github.com/hieuclc/ai-voice-agent/internal/transcript"
	"github.com/hieuclc/ai-voice-agent/pkg/audio"
	"github.com/hieuclc/ai-voice-agent/pkg/provider/llm"
	"github.com/hieuclc/ai-voice-agent/pkg/provider/stt"
	"github.com/hieuclc/ai-voice-agent/pkg/provider/tts"
	"github.com/hieuclc/ai-voice-agent/pkg/provider/vad"
)

// State is the pipeline lifecycle state.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateTurnInProgress
	StateClosing
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateTurnInProgress:
		return "turn_in_progress"
	case StateClosing:
		return "closing"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Config wires one pipeline instance. Conn, VAD, STT, TTS, LLM, and
// Aggregator are required; the rest have working defaults.
type Config struct {
	SessionID string
	Conn      audio.Conn

	// Format is the PCM format the pipeline works in. Inbound frames are
	// converted to it before turn detection.
	Format audio.Format

	VAD       vad.Engine
	VADConfig vad.Config
	STT       stt.Provider
	TTS       tts.Provider
	LLM       llm.Provider

	// Tools is optional; without it the model answers from context alone.
	Tools ToolGateway

	// Corrector is optional vocabulary snapping for STT output.
	Corrector *transcript.Corrector

	Aggregator *conversation.Aggregator

	SystemPrompt string

	// Greeting is the instruction for the synthetic first turn when the
	// loaded history is empty. Empty disables the kick-off.
	Greeting string

	Temperature   float64
	MaxTokens     int
	MaxToolRounds int
	IdleTimeout   time.Duration

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

func (c *Config) validate() error {
	var errs []error
	if c.Conn == nil {
		errs = append(errs, errors.New("pipeline: Conn is required"))
	}
	if c.VAD == nil {
		errs = append(errs, errors.New("pipeline: VAD is required"))
	}
	if c.STT == nil {
		errs = append(errs, errors.New("pipeline: STT is required"))
	}
	if c.TTS == nil {
		errs = append(errs, errors.New("pipeline: TTS is required"))
	}
	if c.LLM == nil {
		errs = append(errs, errors.New("pipeline: LLM is required"))
	}
	if c.Aggregator == nil {
		errs = append(errs, errors.New("pipeline: Aggregator is required"))
	}
	return errors.Join(errs...)
}

func (c *Config) applyDefaults() {
	if c.Format.SampleRate == 0 {
		c.Format = audio.Format{SampleRate: 16000, Channels: 1}
	}
	if c.VADConfig.SampleRate == 0 {
		c.VADConfig.SampleRate = c.Format.SampleRate
	}
	if c.VADConfig.FrameSizeMs == 0 {
		c.VADConfig.FrameSizeMs = 20
	}
	if c.MaxToolRounds <= 0 {
		c.MaxToolRounds = 2
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 3 * time.Minute
	}
	if c.Metrics == nil {
		c.Metrics = observe.DefaultMetrics()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Pipeline is one live connection's stage chain plus its event loop. Create
// with New, drive with Run, stop with Close. Events() must be drained by
// the owner; undrained events are dropped.
type Pipeline struct {
	cfg Config

	vadSession vad.SessionHandle
	detector   *turnDetector
	stages     []stage
	converter  *audio.FormatConverter

	events     chan Event
	turnResult chan error
	pending    Frame
	turnActive bool

	state atomic.Int32

	stop      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once

	logger  *slog.Logger
	metrics *observe.Metrics
}

// New builds the stage chain for one connection. The session transcript
// must already be loaded into cfg.Aggregator.
func New(cfg Config) (*Pipeline, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	session, err := cfg.VAD.NewSession(cfg.VADConfig)
	if err != nil {
		return nil, fmt.Errorf("pipeline: vad session: %w", err)
	}

	logger := cfg.Logger.With("session_id", cfg.SessionID)

	p := &Pipeline{
		cfg:        cfg,
		vadSession: session,
		detector:   newTurnDetector(session, cfg.VADConfig, cfg.Format),
		converter:  &audio.FormatConverter{Target: cfg.Format},
		events:     make(chan Event, 16),
		turnResult: make(chan error, 1),
		stop:       make(chan struct{}),
		closed:     make(chan struct{}),
		logger:     logger,
		metrics:    cfg.Metrics,
	}

	p.stages = []stage{
		&transcribeStage{provider: cfg.STT, metrics: cfg.Metrics},
		&correctStage{corrector: cfg.Corrector, logger: logger},
		&contextUserStage{agg: cfg.Aggregator, logger: logger, emitEvent: p.emitEvent},
		&llmStage{
			provider:      cfg.LLM,
			gateway:       cfg.Tools,
			systemPrompt:  cfg.SystemPrompt,
			temperature:   cfg.Temperature,
			maxTokens:     cfg.MaxTokens,
			maxToolRounds: cfg.MaxToolRounds,
			agg:           cfg.Aggregator,
			metrics:       cfg.Metrics,
			logger:        logger,
		},
		&synthesizeStage{provider: cfg.TTS, metrics: cfg.Metrics},
		&transportOutStage{conn: cfg.Conn},
		&contextAssistantStage{agg: cfg.Aggregator, logger: logger, emitEvent: p.emitEvent},
	}

	p.state.Store(int32(StateConnecting))
	return p, nil
}

// State reports the current lifecycle state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Events returns the lifecycle event stream. It is closed when Run returns.
func (p *Pipeline) Events() <-chan Event {
	return p.events
}

// Run drives the event loop until the connection closes, the idle timeout
// fires, ctx is cancelled, or Close is called. It returns nil on a clean
// shutdown and the fatal error otherwise. Run must be called exactly once.
func (p *Pipeline) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.metrics.ActiveSessions.Add(ctx, 1)
	defer p.metrics.ActiveSessions.Add(ctx, -1)

	p.setState(StateActive)
	p.emitEvent(Event{Type: EventClientConnected})
	p.logger.Info("pipeline started")

	if p.cfg.Greeting != "" && p.cfg.Aggregator.Empty() {
		p.startTurn(ctx, runFrame{instruction: p.cfg.Greeting})
	}

	idle := time.NewTimer(p.cfg.IdleTimeout)
	defer idle.Stop()

	var runErr error
loop:
	for {
		select {
		case frame, ok := <-p.cfg.Conn.Input():
			if !ok {
				break loop
			}
			resetTimer(idle, p.cfg.IdleTimeout)
			converted := p.converter.Convert(frame)
			if len(converted.Data) == 0 {
				continue
			}
			err := p.detector.Handle(ctx, audioInFrame{frame: converted},
				func(ctx context.Context, f Frame) error {
					p.scheduleTurn(ctx, f)
					return nil
				})
			if err != nil {
				p.logger.Warn("turn detection failed", "error", err)
			}

		case err := <-p.turnResult:
			p.turnActive = false
			p.setState(StateActive)
			if fatal := p.finishTurn(ctx, err); fatal {
				runErr = err
				break loop
			}
			if p.pending != nil {
				f := p.pending
				p.pending = nil
				p.startTurn(ctx, f)
			}

		case <-idle.C:
			p.logger.Info("session idle timeout", "timeout", p.cfg.IdleTimeout)
			p.emitEvent(Event{Type: EventSessionTimeout})
			break loop

		case <-p.cfg.Conn.Done():
			break loop

		case <-p.stop:
			break loop

		case <-ctx.Done():
			break loop
		}
	}

	cancel()
	p.setState(StateClosing)
	if p.turnActive {
		<-p.turnResult
	}
	_ = p.cfg.Conn.Close()
	_ = p.vadSession.Close()

	p.emitEvent(Event{Type: EventClientDisconnected})
	close(p.events)
	p.setState(StateTerminated)
	p.logger.Info("pipeline terminated")

	close(p.closed)
	return runErr
}

// Close stops the event loop and waits for Run to return. Safe to call
// multiple times and from any goroutine.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() { close(p.stop) })
	<-p.closed
	return nil
}

// scheduleTurn starts a turn when none is in flight, otherwise queues it.
// The queue has capacity one and the latest utterance wins.
func (p *Pipeline) scheduleTurn(ctx context.Context, f Frame) {
	if p.turnActive {
		if p.pending != nil {
			p.logger.Debug("queued turn replaced by newer utterance")
		}
		p.pending = f
		return
	}
	p.startTurn(ctx, f)
}

func (p *Pipeline) startTurn(ctx context.Context, f Frame) {
	p.turnActive = true
	p.setState(StateTurnInProgress)
	start := time.Now()
	go func() {
		tctx, span := observe.StartTurnSpan(ctx, p.cfg.SessionID)
		err := p.dispatch(tctx, 0, f)
		observe.EndTurnSpan(span, err)
		p.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())
		p.turnResult <- err
	}()
}

// finishTurn classifies a completed turn's error. It returns true when the
// error is fatal to the pipeline.
func (p *Pipeline) finishTurn(ctx context.Context, err error) bool {
	switch {
	case err == nil:
		p.metrics.RecordTurn(ctx, "ok")
		return false
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		p.metrics.RecordTurn(ctx, "cancelled")
		return false
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		p.metrics.RecordTurn(ctx, "error")
		p.logger.Error("transport failed mid-turn", "error", err)
		return true
	}

	p.metrics.RecordTurn(ctx, "error")
	p.logger.Warn("turn failed", "error", err)
	p.emitEvent(Event{Type: EventTurnError, Err: err})
	return false
}

// dispatch pushes a frame through the stage chain starting at from.
// Dispatch is synchronous and recursive: a stage's emit returns only after
// every downstream stage finished handling the emitted frame.
func (p *Pipeline) dispatch(ctx context.Context, from int, f Frame) error {
	if from >= len(p.stages) {
		return nil
	}
	return p.stages[from].Handle(ctx, f, func(ctx context.Context, out Frame) error {
		return p.dispatch(ctx, from+1, out)
	})
}

func (p *Pipeline) emitEvent(ev Event) {
	ev.SessionID = p.cfg.SessionID
	select {
	case p.events <- ev:
	default:
		p.logger.Debug("event dropped", "type", ev.Type.String())
	}
}

func (p *Pipeline) setState(s State) {
	p.state.Store(int32(s))
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
