package config

import (
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/hieuclc/ai-voice-agent/pkg/provider/llm"
	llmmock "github.com/hieuclc/ai-voice-agent/pkg/provider/llm/mock"
)

func TestLoadFromReaderEmpty(t *testing.T) {
	t.Parallel()
	cfg, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Agent.Language != "vi" {
		t.Errorf("Language = %q, want vi", cfg.Agent.Language)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.Channels != 1 {
		t.Errorf("audio defaults = %d/%d, want 16000/1", cfg.Audio.SampleRate, cfg.Audio.Channels)
	}
}

func TestLoadFromReaderOverrides(t *testing.T) {
	t.Parallel()
	in := `
server:
  listen_addr: ":9090"
  log_level: debug
agent:
  system_prompt: "Bạn là lễ tân của khách sạn."
  max_tool_rounds: 3
providers:
  llm:
    name: ollama
    base_url: http://localhost:11434
    model: qwen2.5
  tts:
    name: vieneu
    base_url: http://localhost:8298
    voice: vi-female-1
store:
  backend: redis
  redis:
    addr: localhost:6379
    ttl_seconds: 86400
tools:
  servers:
    - name: booking
      transport: stdio
      command: booking-mcp --stdio
  policies:
    - name: search_rooms
      spoken_filler: true
      timeout_seconds: 20
`
	cfg, err := LoadFromReader(strings.NewReader(in))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.LogLevel.Level() != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want debug", cfg.Server.LogLevel.Level())
	}
	if cfg.Providers.LLM.Name != "ollama" || cfg.Providers.LLM.Model != "qwen2.5" {
		t.Errorf("llm entry = %+v", cfg.Providers.LLM)
	}
	if cfg.Providers.TTS.Voice != "vi-female-1" {
		t.Errorf("tts voice = %q", cfg.Providers.TTS.Voice)
	}
	if cfg.Store.Redis.TTL().Hours() != 24 {
		t.Errorf("redis ttl = %v, want 24h", cfg.Store.Redis.TTL())
	}
	if len(cfg.Tools.Servers) != 1 || cfg.Tools.Servers[0].Command != "booking-mcp --stdio" {
		t.Errorf("tools.servers = %+v", cfg.Tools.Servers)
	}
	if !cfg.Tools.Policies[0].SpokenFiller {
		t.Error("expected spoken_filler policy")
	}
	if cfg.Agent.SystemPrompt == DefaultSystemPrompt {
		t.Error("system prompt override not applied")
	}
}

func TestLoadFromReaderUnknownField(t *testing.T) {
	t.Parallel()
	_, err := LoadFromReader(strings.NewReader("server:\n  listen_adr: \":1\"\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Store.Backend = "sqlite"
	cfg.Audio.Channels = 3
	cfg.Agent.IdleTimeoutSeconds = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"store.backend", "audio.channels", "idle_timeout"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestValidateStoreBackendRequirements(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Store.Backend = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for postgres backend without dsn")
	}
	cfg.Store.PostgresDSN = "postgres://localhost/agent"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidateToolTransport(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Tools.Servers = []MCPServerConfig{{Name: "web", Transport: "websocket"}}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown transport")
	}
	cfg.Tools.Servers = []MCPServerConfig{{Name: "web", Transport: TransportStreamableHTTP}}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for streamable-http without url")
	}
}

func TestValidateFallbackEntries(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Providers.STTFallbacks = []ProviderEntry{{Name: ""}}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "stt_fallbacks[0]") {
		t.Errorf("err = %v, want stt_fallbacks[0] name error", err)
	}

	cfg = Default()
	cfg.Providers.LLMFallbacks = []ProviderEntry{{Name: "ollama", BaseURL: "http://localhost:11434"}}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestKBDSNFallback(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Store.PostgresDSN = "postgres://localhost/agent"
	if got := cfg.KBDSN(); got != cfg.Store.PostgresDSN {
		t.Errorf("KBDSN = %q, want store dsn", got)
	}
	cfg.KB.PostgresDSN = "postgres://localhost/kb"
	if got := cfg.KBDSN(); got != "postgres://localhost/kb" {
		t.Errorf("KBDSN = %q, want kb dsn", got)
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.RegisterLLM("mock", func(entry ProviderEntry) (llm.Provider, error) {
		return llmmock.New(), nil
	})

	p, err := r.CreateLLM(ProviderEntry{Name: "mock"})
	if err != nil {
		t.Fatalf("CreateLLM: %v", err)
	}
	if p == nil {
		t.Fatal("CreateLLM returned nil provider")
	}

	_, err = r.CreateLLM(ProviderEntry{Name: "missing"})
	if !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
	_, err = r.CreateTTS(ProviderEntry{Name: "missing"})
	if !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("tts err = %v, want ErrProviderNotRegistered", err)
	}
}
