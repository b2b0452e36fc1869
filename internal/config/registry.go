package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/luna/pkg/provider/llm"
	"github.com/MrWong99/luna/pkg/provider/stt"
	"github.com/MrWong99/luna/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// is registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its configuration entry.
type Factory[T any] func(ProviderEntry) (T, error)

// Registry maps provider names to factories. Safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	llm map[string]Factory[llm.Provider]
	stt map[string]Factory[stt.Provider]
	tts map[string]Factory[tts.Provider]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		llm: make(map[string]Factory[llm.Provider]),
		stt: make(map[string]Factory[stt.Provider]),
		tts: make(map[string]Factory[tts.Provider]),
	}
}

// RegisterLLM registers an LLM factory under name, replacing any previous one.
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) { register(r, r.llm, name, f) }

// RegisterSTT registers an STT factory under name.
func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) { register(r, r.stt, name, f) }

// RegisterTTS registers a TTS factory under name.
func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) { register(r, r.tts, name, f) }

// CreateLLM builds the LLM provider named by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return create(r, r.llm, "llm", entry)
}

// CreateSTT builds the STT provider named by entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return create(r, r.stt, "stt", entry)
}

// CreateTTS builds the TTS provider named by entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return create(r, r.tts, "tts", entry)
}

// Names returns the registered names per kind.
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string][]string{
		"llm": keys(r.llm),
		"stt": keys(r.stt),
		"tts": keys(r.tts),
	}
}

func register[T any](r *Registry, m map[string]Factory[T], name string, f Factory[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m[name] = f
}

func create[T any](r *Registry, m map[string]Factory[T], kind string, entry ProviderEntry) (T, error) {
	r.mu.RLock()
	f, ok := m[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return f(entry)
}

func keys[T any](m map[string]Factory[T]) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
