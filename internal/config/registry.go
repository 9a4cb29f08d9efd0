package config

import (
	"fmt"
	"sync"

	"github.com/hieuclc/ai-voice-agent/pkg/provider/embeddings"
	"github.com/hieuclc/ai-voice-agent/pkg/provider/llm"
	"github.com/hieuclc/ai-voice-agent/pkg/provider/stt"
	"github.com/hieuclc/ai-voice-agent/pkg/provider/tts"
	"github.com/hieuclc/ai-voice-agent/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// matches the configured provider name.
var ErrProviderNotRegistered = fmt.Errorf("config: provider not registered")

type (
	LLMFactory        func(entry ProviderEntry) (llm.Provider, error)
	STTFactory        func(entry ProviderEntry) (stt.Provider, error)
	TTSFactory        func(entry ProviderEntry) (tts.Provider, error)
	VADFactory        func(entry ProviderEntry) (vad.Engine, error)
	EmbeddingsFactory func(entry ProviderEntry) (embeddings.Provider, error)
)

// Registry maps provider names to factories. The zero value is not usable,
// construct with NewRegistry.
type Registry struct {
	mu         sync.RWMutex
	llm        map[string]LLMFactory
	stt        map[string]STTFactory
	tts        map[string]TTSFactory
	vad        map[string]VADFactory
	embeddings map[string]EmbeddingsFactory
}

func NewRegistry() *Registry {
	return &Registry{
		llm:        make(map[string]LLMFactory),
		stt:        make(map[string]STTFactory),
		tts:        make(map[string]TTSFactory),
		vad:        make(map[string]VADFactory),
		embeddings: make(map[string]EmbeddingsFactory),
	}
}

func (r *Registry) RegisterLLM(name string, f LLMFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = f
}

func (r *Registry) RegisterSTT(name string, f STTFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = f
}

func (r *Registry) RegisterTTS(name string, f TTSFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = f
}

func (r *Registry) RegisterVAD(name string, f VADFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = f
}

func (r *Registry) RegisterEmbeddings(name string, f EmbeddingsFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[name] = f
}

func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	f, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("llm %q: %w", entry.Name, ErrProviderNotRegistered)
	}
	return f(entry)
}

func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	f, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("stt %q: %w", entry.Name, ErrProviderNotRegistered)
	}
	return f(entry)
}

func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	f, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("tts %q: %w", entry.Name, ErrProviderNotRegistered)
	}
	return f(entry)
}

func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	r.mu.RLock()
	f, ok := r.vad[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("vad %q: %w", entry.Name, ErrProviderNotRegistered)
	}
	return f(entry)
}

func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	f, ok := r.embeddings[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("embeddings %q: %w", entry.Name, ErrProviderNotRegistered)
	}
	return f(entry)
}
