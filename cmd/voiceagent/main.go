// Command voiceagent is the main entry point for the Vietnamese voice agent
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	oai "github.com/openai/openai-go"

	"github.com/hieuclc/ai-voice-agent/internal/app"
	"github.com/hieuclc/ai-voice-agent/internal/config"
	"github.com/hieuclc/ai-voice-agent/internal/observe"
	"github.com/hieuclc/ai-voice-agent/internal/resilience"
	"github.com/hieuclc/ai-voice-agent/pkg/provider/embeddings"
	oaembed "github.com/hieuclc/ai-voice-agent/pkg/provider/embeddings/openai"
	"github.com/hieuclc/ai-voice-agent/pkg/provider/llm"
	"github.com/hieuclc/ai-voice-agent/pkg/provider/llm/anyllm"
	"github.com/hieuclc/ai-voice-agent/pkg/provider/stt"
	oaistt "github.com/hieuclc/ai-voice-agent/pkg/provider/stt/openai"
	"github.com/hieuclc/ai-voice-agent/pkg/provider/stt/whispercpp"
	"github.com/hieuclc/ai-voice-agent/pkg/provider/stt/whisperhttp"
	"github.com/hieuclc/ai-voice-agent/pkg/provider/tts"
	oaitts "github.com/hieuclc/ai-voice-agent/pkg/provider/tts/openai"
	"github.com/hieuclc/ai-voice-agent/pkg/provider/tts/vieneu"
	"github.com/hieuclc/ai-voice-agent/pkg/provider/vad"
	"github.com/hieuclc/ai-voice-agent/pkg/provider/vad/energy"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voiceagent: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voiceagent: %v\n", err)
		}
		return 1
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel.Level(),
	}))
	slog.SetDefault(logger)

	slog.Info("voiceagent starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"language", cfg.Agent.Language,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry first so provider setup is already instrumented.
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(&cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(&cfg)

	application, err := app.New(ctx, &cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the matching
// adapter from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// openai, anthropic, gemini, deepseek, mistral, groq, llamacpp, llamafile
	// all share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"openai", "anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	reg.RegisterSTT("whisperhttp", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []whisperhttp.Option{whisperhttp.WithLanguage(optLanguage(entry))}
		if entry.Model != "" {
			opts = append(opts, whisperhttp.WithModel(entry.Model))
		}
		return whisperhttp.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whispercpp", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if p, ok := entry.StringOption("model_path"); ok {
			modelPath = p
		}
		return whispercpp.New(modelPath, whispercpp.WithLanguage(optLanguage(entry)))
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []oaistt.Option{oaistt.WithLanguage(optLanguage(entry))}
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTTS("vieneu", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []vieneu.Option
		if entry.Voice != "" {
			opts = append(opts, vieneu.WithVoice(entry.Voice))
		}
		return vieneu.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oaitts.Option
		if entry.Voice != "" {
			opts = append(opts, oaitts.WithVoice(oai.AudioSpeechNewParamsVoice(entry.Voice)))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		return oaitts.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	breaker := resilience.BreakerConfig{
		MaxFailures:    cfg.Resilience.MaxFailures,
		ResetTimeout:   cfg.Resilience.ResetTimeout(),
		HalfOpenProbes: cfg.Resilience.HalfOpenProbes,
	}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		}
		ps.LLM = p
		slog.Info("provider created", "kind", "llm", "name", name)

		if entries := cfg.Providers.LLMFallbacks; len(entries) > 0 {
			fb := resilience.NewLLM(p, name, breaker)
			for _, entry := range entries {
				alt, err := reg.CreateLLM(entry)
				if err != nil {
					return nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
				}
				fb.AddFallback(entry.Name, alt)
				slog.Info("fallback registered", "kind", "llm", "name", entry.Name)
			}
			ps.LLM = fb
		}
	}

	if name := cfg.Providers.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		}
		ps.STT = p
		slog.Info("provider created", "kind", "stt", "name", name)

		if entries := cfg.Providers.STTFallbacks; len(entries) > 0 {
			fb := resilience.NewSTT(p, name, breaker)
			for _, entry := range entries {
				alt, err := reg.CreateSTT(entry)
				if err != nil {
					return nil, fmt.Errorf("create stt fallback %q: %w", entry.Name, err)
				}
				fb.AddFallback(entry.Name, alt)
				slog.Info("fallback registered", "kind", "stt", "name", entry.Name)
			}
			ps.STT = fb
		}
	}

	if name := cfg.Providers.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTS)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		}
		ps.TTS = p
		slog.Info("provider created", "kind", "tts", "name", name)

		if entries := cfg.Providers.TTSFallbacks; len(entries) > 0 {
			fb := resilience.NewTTS(p, name, breaker)
			for _, entry := range entries {
				alt, err := reg.CreateTTS(entry)
				if err != nil {
					return nil, fmt.Errorf("create tts fallback %q: %w", entry.Name, err)
				}
				fb.AddFallback(entry.Name, alt)
				slog.Info("fallback registered", "kind", "tts", "name", entry.Name)
			}
			ps.TTS = fb
		}
	}

	if name := cfg.Providers.VAD.Name; name != "" {
		p, err := reg.CreateVAD(cfg.Providers.VAD)
		if err != nil {
			return nil, fmt.Errorf("create vad provider %q: %w", name, err)
		}
		ps.VAD = p
		slog.Info("provider created", "kind", "vad", "name", name)
	}

	// Embeddings are only needed for the knowledge base tool.
	if name := cfg.Providers.Embeddings.Name; name != "" && cfg.KB.Enabled {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		}
		ps.Embeddings = p
		slog.Info("provider created", "kind", "embeddings", "name", name)
	}

	return ps, nil
}

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       voiceagent — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("VAD", cfg.Providers.VAD.Name, "")
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	printProvider("Store", cfg.Store.Backend, "")
	fmt.Printf("║  MCP servers     : %-19d ║\n", len(cfg.Tools.Servers))
	if cfg.KB.Enabled {
		fmt.Printf("║  Knowledge base  : %-19s ║\n", "enabled")
	} else {
		fmt.Printf("║  Knowledge base  : %-19s ║\n", "(disabled)")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// optLanguage returns the configured recognition language, defaulting to
// Vietnamese.
func optLanguage(entry config.ProviderEntry) string {
	if lang, ok := entry.StringOption("language"); ok && lang != "" {
		return lang
	}
	return "vi"
}
