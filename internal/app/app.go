// Package app wires all voice-agent subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves until the context is cancelled, and Shutdown tears
// everything down in reverse order.
//
// For testing, inject mock implementations via functional options
// (WithStore, WithToolGateway). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hieuclc/ai-voice-agent/internal/config"
	"github.com/hieuclc/ai-voice-agent/internal/conversation"
	"github.com/hieuclc/ai-voice-agent/internal/health"
	"github.com/hieuclc/ai-voice-agent/internal/kb"
	"github.com/hieuclc/ai-voice-agent/internal/observe"
	"github.com/hieuclc/ai-voice-agent/internal/pipeline"
	"github.com/hieuclc/ai-voice-agent/internal/server"
	"github.com/hieuclc/ai-voice-agent/internal/tools"
	"github.com/hieuclc/ai-voice-agent/internal/transcript"
	"github.com/hieuclc/ai-voice-agent/pkg/audio"
	"github.com/hieuclc/ai-voice-agent/pkg/audio/webrtc"
	"github.com/hieuclc/ai-voice-agent/pkg/provider/embeddings"
	"github.com/hieuclc/ai-voice-agent/pkg/provider/llm"
	"github.com/hieuclc/ai-voice-agent/pkg/provider/stt"
	"github.com/hieuclc/ai-voice-agent/pkg/provider/tts"
	"github.com/hieuclc/ai-voice-agent/pkg/provider/vad"
	"github.com/hieuclc/ai-voice-agent/pkg/store"
	"github.com/hieuclc/ai-voice-agent/pkg/store/filemirror"
	storemock "github.com/hieuclc/ai-voice-agent/pkg/store/mock"
	"github.com/hieuclc/ai-voice-agent/pkg/store/postgres"
	storeredis "github.com/hieuclc/ai-voice-agent/pkg/store/redis"
)

// shutdownTimeout bounds the HTTP server drain during Shutdown.
const shutdownTimeout = 10 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM        llm.Provider
	STT        stt.Provider
	TTS        tts.Provider
	VAD        vad.Engine
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	store     store.Store
	corrector *transcript.Corrector
	gateway   *tools.Gateway
	kbIndex   *kb.Index
	manager   *SessionManager
	rtc       *webrtc.Gateway
	httpSrv   *http.Server
	metrics   *observe.Metrics
	logger    *slog.Logger

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a transcript store instead of creating one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithToolGateway injects a tool gateway instead of creating one from config.
func WithToolGateway(g *tools.Gateway) Option {
	return func(a *App) { a.gateway = g }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		metrics:   observe.DefaultMetrics(),
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initTools(ctx); err != nil {
		return nil, fmt.Errorf("app: init tools: %w", err)
	}
	if err := a.initKB(ctx); err != nil {
		return nil, fmt.Errorf("app: init knowledge base: %w", err)
	}

	if len(cfg.Agent.Vocabulary) > 0 {
		a.corrector = transcript.NewCorrector(cfg.Agent.Vocabulary)
	}

	a.manager = NewSessionManager(a.buildPipeline, a.logger)
	a.rtc = webrtc.NewGateway(webrtc.WithFormat(a.format()))
	a.closers = append(a.closers, a.rtc.Close)

	a.initHTTP()
	return a, nil
}

// initStore sets up the transcript store backend or uses an injected one.
func (a *App) initStore(ctx context.Context) error {
	if a.store == nil {
		var (
			st  store.Store
			err error
		)
		switch a.cfg.Store.Backend {
		case "postgres":
			st, err = postgres.New(ctx, a.cfg.Store.PostgresDSN)
		case "redis":
			st, err = storeredis.New(ctx, storeredis.Options{
				Addr:     a.cfg.Store.Redis.Addr,
				Password: a.cfg.Store.Redis.Password,
				DB:       a.cfg.Store.Redis.DB,
				TTL:      a.cfg.Store.Redis.TTL(),
			})
		case "memory", "":
			st = storemock.New()
		default:
			err = fmt.Errorf("unknown backend %q", a.cfg.Store.Backend)
		}
		if err != nil {
			return err
		}
		a.store = st
	}

	if dir := a.cfg.Store.MirrorDir; dir != "" {
		mirrored, err := filemirror.New(a.store, dir)
		if err != nil {
			return err
		}
		a.store = mirrored
	}

	a.closers = append(a.closers, a.store.Close)
	return nil
}

// initTools sets up the MCP tool gateway and registers configured servers.
func (a *App) initTools(ctx context.Context) error {
	if a.gateway == nil {
		a.gateway = tools.NewGateway(a.cfg.Tools.Policies)
		a.closers = append(a.closers, a.gateway.Close)
	}

	for _, srv := range a.cfg.Tools.Servers {
		if err := a.gateway.RegisterServer(ctx, srv); err != nil {
			return fmt.Errorf("register mcp server %q: %w", srv.Name, err)
		}
		a.logger.Info("registered MCP server", "name", srv.Name, "transport", srv.Transport)
	}
	return nil
}

// initKB connects the pgvector index and exposes it as the builtin
// kb_search tool.
func (a *App) initKB(ctx context.Context) error {
	if !a.cfg.KB.Enabled {
		return nil
	}
	if a.providers.Embeddings == nil {
		return fmt.Errorf("kb.enabled requires an embeddings provider")
	}

	idx, err := kb.New(ctx, a.cfg.KBDSN(), a.providers.Embeddings, a.cfg.KB.Dimensions)
	if err != nil {
		return err
	}
	a.kbIndex = idx
	a.closers = append(a.closers, func() error {
		idx.Close()
		return nil
	})

	desc, handler := kb.SearchTool(idx, a.cfg.KB.TopK)
	if err := a.gateway.RegisterBuiltin(desc, handler); err != nil {
		return err
	}
	a.logger.Info("knowledge base tool registered", "dimensions", a.cfg.KB.Dimensions, "top_k", a.cfg.KB.TopK)
	return nil
}

// initHTTP assembles the HTTP surface.
func (a *App) initHTTP() {
	checkers := []health.Checker{{
		Name: "store",
		Check: func(ctx context.Context) error {
			_, err := a.store.List(ctx)
			return err
		},
	}}

	srv := server.New(server.Config{
		Store:          a.store,
		Sessions:       a.manager,
		Gateway:        a.rtc,
		Format:         a.format(),
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		Health:         health.New(checkers...),
		Logger:         a.logger,
	})

	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// SessionManager returns the session supervisor, mainly for tests.
func (a *App) SessionManager() *SessionManager { return a.manager }

// buildPipeline is the PipelineFactory handed to the session manager.
func (a *App) buildPipeline(ctx context.Context, sessionID string, conn audio.Conn) (*pipeline.Pipeline, error) {
	agg, err := conversation.NewAggregator(ctx, a.store, sessionID)
	if err != nil {
		return nil, fmt.Errorf("app: load transcript %q: %w", sessionID, err)
	}

	var gw pipeline.ToolGateway
	if len(a.gateway.Tools()) > 0 {
		gw = a.gateway
	}

	cfg := a.cfg
	return pipeline.New(pipeline.Config{
		SessionID: sessionID,
		Conn:      conn,
		Format:    a.format(),
		VAD:       a.providers.VAD,
		VADConfig: vad.Config{
			SampleRate:       cfg.Audio.SampleRate,
			FrameSizeMs:      cfg.Audio.FrameSizeMs,
			SpeechThreshold:  cfg.Audio.VAD.SpeechThreshold,
			SilenceThreshold: cfg.Audio.VAD.SilenceThreshold,
			MinSpeechMs:      cfg.Audio.VAD.MinSpeechMs,
			HangoverMs:       cfg.Audio.VAD.HangoverMs,
		},
		STT:           a.providers.STT,
		TTS:           a.providers.TTS,
		LLM:           a.providers.LLM,
		Tools:         gw,
		Corrector:     a.corrector,
		Aggregator:    agg,
		SystemPrompt:  cfg.Agent.SystemPrompt,
		Greeting:      cfg.Agent.Greeting,
		Temperature:   cfg.Agent.Temperature,
		MaxTokens:     cfg.Agent.MaxTokens,
		MaxToolRounds: cfg.Agent.MaxToolRounds,
		IdleTimeout:   cfg.Agent.IdleTimeout(),
		Metrics:       a.metrics,
		Logger:        a.logger,
	})
}

func (a *App) format() audio.Format {
	return audio.Format{
		SampleRate: a.cfg.Audio.SampleRate,
		Channels:   a.cfg.Audio.Channels,
	}
}

// Run serves HTTP until ctx is cancelled, then drains active sessions and
// the listener. Run returns nil on a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("listening", "addr", a.httpSrv.Addr)
		if err := a.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown stops the HTTP listener, closes active sessions, and tears down
// subsystems in reverse-init order. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down")

		if err := a.httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := a.manager.Close(); err != nil {
			errs = append(errs, err)
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", i+1)
				errs = append(errs, ctx.Err())
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.logger.Warn("closer failed", "index", i, "error", err)
			}
		}

		a.logger.Info("shutdown complete")
	})
	return errors.Join(errs...)
}
