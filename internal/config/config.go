// Package config defines the agent configuration schema and the provider
// registry that maps configured provider names to constructed adapters.
package config

import (
	"fmt"
	"log/slog"
	"time"
)

// LogLevel is a YAML-friendly wrapper around slog.Level.
type LogLevel slog.Level

func (l *LogLevel) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return fmt.Errorf("config: invalid log level %q: %w", raw, err)
	}
	*l = LogLevel(level)
	return nil
}

func (l LogLevel) Level() slog.Level { return slog.Level(l) }

// ProviderEntry selects and parameterises one provider adapter. Name is
// matched against the registered factories for the provider kind.
type ProviderEntry struct {
	Name    string         `yaml:"name"`
	APIKey  string         `yaml:"api_key"`
	BaseURL string         `yaml:"base_url"`
	Model   string         `yaml:"model"`
	Voice   string         `yaml:"voice"`
	Options map[string]any `yaml:"options"`
}

// StringOption returns the named entry from Options when it is a string.
func (e ProviderEntry) StringOption(key string) (string, bool) {
	v, ok := e.Options[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

type ServerConfig struct {
	ListenAddr     string   `yaml:"listen_addr"`
	LogLevel       LogLevel `yaml:"log_level"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type AgentConfig struct {
	SystemPrompt       string  `yaml:"system_prompt"`
	Greeting           string  `yaml:"greeting"`
	Language           string  `yaml:"language"`
	IdleTimeoutSeconds int     `yaml:"idle_timeout_seconds"`
	MaxToolRounds      int     `yaml:"max_tool_rounds"`
	Temperature        float64 `yaml:"temperature"`
	MaxTokens          int     `yaml:"max_tokens"`
	Vocabulary         []string `yaml:"vocabulary"`
}

func (a AgentConfig) IdleTimeout() time.Duration {
	return time.Duration(a.IdleTimeoutSeconds) * time.Second
}

type VADConfig struct {
	SpeechThreshold  float64 `yaml:"speech_threshold"`
	SilenceThreshold float64 `yaml:"silence_threshold"`
	MinSpeechMs      int     `yaml:"min_speech_ms"`
	HangoverMs       int     `yaml:"hangover_ms"`
}

type AudioConfig struct {
	SampleRate  int       `yaml:"sample_rate"`
	Channels    int       `yaml:"channels"`
	FrameSizeMs int       `yaml:"frame_size_ms"`
	VAD         VADConfig `yaml:"vad"`
}

type ProvidersConfig struct {
	LLM        ProviderEntry `yaml:"llm"`
	STT        ProviderEntry `yaml:"stt"`
	TTS        ProviderEntry `yaml:"tts"`
	VAD        ProviderEntry `yaml:"vad"`
	Embeddings ProviderEntry `yaml:"embeddings"`

	// Fallback backends tried in order when the primary fails or its
	// circuit breaker is open.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`
}

// ResilienceConfig tunes the per-backend circuit breakers used when
// provider fallbacks are configured.
type ResilienceConfig struct {
	MaxFailures         int `yaml:"max_failures"`
	ResetTimeoutSeconds int `yaml:"reset_timeout_seconds"`
	HalfOpenProbes      int `yaml:"half_open_probes"`
}

func (r ResilienceConfig) ResetTimeout() time.Duration {
	return time.Duration(r.ResetTimeoutSeconds) * time.Second
}

type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

func (r RedisConfig) TTL() time.Duration {
	return time.Duration(r.TTLSeconds) * time.Second
}

type StoreConfig struct {
	Backend     string      `yaml:"backend"`
	PostgresDSN string      `yaml:"postgres_dsn"`
	Redis       RedisConfig `yaml:"redis"`
	MirrorDir   string      `yaml:"mirror_dir"`
}

// MCP server transports.
const (
	TransportStdio          = "stdio"
	TransportStreamableHTTP = "streamable-http"
)

type MCPServerConfig struct {
	Name      string `yaml:"name"`
	Transport string `yaml:"transport"`
	Command   string `yaml:"command"`
	URL       string `yaml:"url"`
}

// ToolPolicy overrides per-tool behaviour discovered from MCP servers.
type ToolPolicy struct {
	Name           string `yaml:"name"`
	SpokenFiller   bool   `yaml:"spoken_filler"`
	Filler         string `yaml:"filler"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type ToolsConfig struct {
	Servers  []MCPServerConfig `yaml:"servers"`
	Policies []ToolPolicy      `yaml:"policies"`
}

type KBConfig struct {
	Enabled     bool   `yaml:"enabled"`
	PostgresDSN string `yaml:"postgres_dsn"`
	Dimensions  int    `yaml:"dimensions"`
	TopK        int    `yaml:"top_k"`
}

// Config is the root of the agent configuration file.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Agent      AgentConfig      `yaml:"agent"`
	Audio      AudioConfig      `yaml:"audio"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Store      StoreConfig      `yaml:"store"`
	Tools      ToolsConfig      `yaml:"tools"`
	KB         KBConfig         `yaml:"kb"`
}

// Default Vietnamese agent persona used when the file leaves agent.system_prompt empty.
const DefaultSystemPrompt = "Bạn là trợ lý ảo nói tiếng Việt của trung tâm hỗ trợ khách hàng. " +
	"Trả lời ngắn gọn, lịch sự và tự nhiên như trong hội thoại nói. " +
	"Không dùng ký hiệu, danh sách hay định dạng văn bản. " +
	"Nếu không chắc chắn về thông tin, hãy nói rõ là bạn không biết."

// DefaultGreeting is the instruction injected when a session has no history.
const DefaultGreeting = "Hãy chào người dùng bằng tiếng Việt và giới thiệu ngắn gọn bạn có thể giúp gì."

// Default returns a Config populated with working defaults. Load applies it
// before decoding so the file only needs to state what differs.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogLevel(slog.LevelInfo),
		},
		Agent: AgentConfig{
			SystemPrompt:       DefaultSystemPrompt,
			Greeting:           DefaultGreeting,
			Language:           "vi",
			IdleTimeoutSeconds: 180,
			MaxToolRounds:      2,
			Temperature:        0.7,
			MaxTokens:          512,
		},
		Audio: AudioConfig{
			SampleRate:  16000,
			Channels:    1,
			FrameSizeMs: 20,
			VAD: VADConfig{
				SpeechThreshold:  0.5,
				SilenceThreshold: 0.35,
				MinSpeechMs:      60,
				HangoverMs:       400,
			},
		},
		Providers: ProvidersConfig{
			LLM:        ProviderEntry{Name: "openai"},
			STT:        ProviderEntry{Name: "whisperhttp"},
			TTS:        ProviderEntry{Name: "vieneu"},
			VAD:        ProviderEntry{Name: "energy"},
			Embeddings: ProviderEntry{Name: "openai"},
		},
		Resilience: ResilienceConfig{
			MaxFailures:         5,
			ResetTimeoutSeconds: 30,
			HalfOpenProbes:      3,
		},
		Store: StoreConfig{
			Backend: "memory",
		},
		KB: KBConfig{
			Dimensions: 1536,
			TopK:       4,
		},
	}
}
