package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the provider names shipped with the agent, per
// kind. Validate warns (but does not fail) on names outside these lists so
// externally registered providers keep working.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":        {"whispercpp", "whisperhttp", "openai"},
	"tts":        {"vieneu", "openai"},
	"vad":        {"energy"},
	"embeddings": {"openai"},
}

// Load reads and validates the configuration file at path.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	cfg, err := LoadFromReader(f)
	if err != nil {
		return Config{}, fmt.Errorf("config: load %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r on top of Default and validates the
// result. Unknown fields are rejected to catch typos early.
func LoadFromReader(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, cfg.Validate()
		}
		return Config{}, fmt.Errorf("decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr must not be empty"))
	}

	if c.Agent.IdleTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("agent.idle_timeout_seconds must be positive"))
	}
	if c.Agent.MaxToolRounds < 0 {
		errs = append(errs, errors.New("agent.max_tool_rounds must not be negative"))
	}
	if c.Agent.Temperature < 0 || c.Agent.Temperature > 2 {
		errs = append(errs, fmt.Errorf("agent.temperature %v outside [0, 2]", c.Agent.Temperature))
	}

	if c.Audio.SampleRate <= 0 {
		errs = append(errs, errors.New("audio.sample_rate must be positive"))
	}
	if c.Audio.Channels != 1 && c.Audio.Channels != 2 {
		errs = append(errs, fmt.Errorf("audio.channels must be 1 or 2, got %d", c.Audio.Channels))
	}
	if c.Audio.FrameSizeMs <= 0 {
		errs = append(errs, errors.New("audio.frame_size_ms must be positive"))
	}
	if v := c.Audio.VAD; v.SpeechThreshold < v.SilenceThreshold {
		errs = append(errs, fmt.Errorf("audio.vad.speech_threshold %v below silence_threshold %v", v.SpeechThreshold, v.SilenceThreshold))
	}

	for kind, entry := range map[string]ProviderEntry{
		"llm":        c.Providers.LLM,
		"stt":        c.Providers.STT,
		"tts":        c.Providers.TTS,
		"vad":        c.Providers.VAD,
		"embeddings": c.Providers.Embeddings,
	} {
		if entry.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.name must not be empty", kind))
			continue
		}
		if !slices.Contains(ValidProviderNames[kind], entry.Name) {
			slog.Warn("provider name not built in, expecting external registration",
				"kind", kind, "name", entry.Name)
		}
	}

	for kind, entries := range map[string][]ProviderEntry{
		"llm_fallbacks": c.Providers.LLMFallbacks,
		"stt_fallbacks": c.Providers.STTFallbacks,
		"tts_fallbacks": c.Providers.TTSFallbacks,
	} {
		valid := ValidProviderNames[kind[:3]]
		for i, entry := range entries {
			if entry.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s[%d].name must not be empty", kind, i))
				continue
			}
			if !slices.Contains(valid, entry.Name) {
				slog.Warn("provider name not built in, expecting external registration",
					"kind", kind[:3], "name", entry.Name)
			}
		}
	}

	if c.Resilience.MaxFailures < 0 {
		errs = append(errs, errors.New("resilience.max_failures must not be negative"))
	}
	if c.Resilience.ResetTimeoutSeconds < 0 {
		errs = append(errs, errors.New("resilience.reset_timeout_seconds must not be negative"))
	}

	switch c.Store.Backend {
	case "memory":
	case "postgres":
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgres_dsn required for postgres backend"))
		}
	case "redis":
		if c.Store.Redis.Addr == "" {
			errs = append(errs, errors.New("store.redis.addr required for redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q not one of memory, postgres, redis", c.Store.Backend))
	}

	for i, srv := range c.Tools.Servers {
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("tools.servers[%d].name must not be empty", i))
		}
		switch srv.Transport {
		case TransportStdio:
			if srv.Command == "" {
				errs = append(errs, fmt.Errorf("tools.servers[%d].command required for stdio transport", i))
			}
		case TransportStreamableHTTP:
			if srv.URL == "" {
				errs = append(errs, fmt.Errorf("tools.servers[%d].url required for streamable-http transport", i))
			}
		default:
			errs = append(errs, fmt.Errorf("tools.servers[%d].transport %q not one of %s, %s",
				i, srv.Transport, TransportStdio, TransportStreamableHTTP))
		}
	}
	for i, p := range c.Tools.Policies {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("tools.policies[%d].name must not be empty", i))
		}
		if p.TimeoutSeconds < 0 {
			errs = append(errs, fmt.Errorf("tools.policies[%d].timeout_seconds must not be negative", i))
		}
	}

	if c.KB.Enabled {
		if c.KB.PostgresDSN == "" && c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("kb.postgres_dsn required when kb is enabled"))
		}
		if c.KB.Dimensions <= 0 {
			errs = append(errs, errors.New("kb.dimensions must be positive"))
		}
		if c.KB.TopK <= 0 {
			errs = append(errs, errors.New("kb.top_k must be positive"))
		}
	}

	return errors.Join(errs...)
}

// KBDSN resolves the knowledge base connection string, falling back to the
// transcript store DSN when kb.postgres_dsn is unset.
func (c *Config) KBDSN() string {
	if c.KB.PostgresDSN != "" {
		return c.KB.PostgresDSN
	}
	return c.Store.PostgresDSN
}
