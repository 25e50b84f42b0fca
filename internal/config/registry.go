package config

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/pettry/pkg/provider/embeddings"
	"github.com/MrWong99/pettry/pkg/provider/llm"
	"github.com/MrWong99/pettry/pkg/provider/stt"
	"github.com/MrWong99/pettry/pkg/provider/tts"
	"github.com/MrWong99/pettry/pkg/provider/vad"
	"github.com/MrWong99/pettry/pkg/provider/vision"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider of type T from its configuration entry.
type Factory[T any] func(ProviderEntry) (T, error)

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	llm        map[string]Factory[llm.Provider]
	vision     map[string]Factory[vision.Provider]
	stt        map[string]Factory[stt.Provider]
	tts        map[string]Factory[tts.Provider]
	embeddings map[string]Factory[embeddings.Provider]
	vad        map[string]Factory[vad.Engine]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:        make(map[string]Factory[llm.Provider]),
		vision:     make(map[string]Factory[vision.Provider]),
		stt:        make(map[string]Factory[stt.Provider]),
		tts:        make(map[string]Factory[tts.Provider]),
		embeddings: make(map[string]Factory[embeddings.Provider]),
		vad:        make(map[string]Factory[vad.Engine]),
	}
}

func register[T any](r *Registry, m map[string]Factory[T], name string, f Factory[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m[name] = f
}

func create[T any](r *Registry, m map[string]Factory[T], kind string, entry ProviderEntry) (T, error) {
	r.mu.RLock()
	factory, ok := m[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return factory(entry)
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) { register(r, r.llm, name, f) }

// RegisterVision registers an image analysis provider factory under name.
func (r *Registry) RegisterVision(name string, f Factory[vision.Provider]) {
	register(r, r.vision, name, f)
}

// RegisterSTT registers a speech recognition provider factory under name.
func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) { register(r, r.stt, name, f) }

// RegisterTTS registers a speech synthesis provider factory under name.
func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) { register(r, r.tts, name, f) }

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, f Factory[embeddings.Provider]) {
	register(r, r.embeddings, name, f)
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, f Factory[vad.Engine]) { register(r, r.vad, name, f) }

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return create(r, r.llm, "llm", entry)
}

// CreateVision instantiates an image analysis provider.
func (r *Registry) CreateVision(entry ProviderEntry) (vision.Provider, error) {
	return create(r, r.vision, "vision", entry)
}

// CreateSTT instantiates a speech recognition provider.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return create(r, r.stt, "stt", entry)
}

// CreateTTS instantiates a speech synthesis provider.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return create(r, r.tts, "tts", entry)
}

// CreateEmbeddings instantiates an embeddings provider.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	return create(r, r.embeddings, "embeddings", entry)
}

// CreateVAD instantiates a VAD engine.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	return create(r, r.vad, "vad", entry)
}

// CreateChain instantiates the primary entry followed by each fallback with
// the given create function. Fallbacks that are not registered or fail to
// build are skipped; an error is only returned when the primary fails.
func CreateChain[T any](entry ProviderEntry, create func(ProviderEntry) (T, error)) (primary T, fallbacks []NamedProvider[T], err error) {
	primary, err = create(entry)
	if err != nil {
		return primary, nil, err
	}
	for _, fb := range entry.Fallbacks {
		p, err := create(fb)
		if err != nil {
			slog.Warn("fallback provider unavailable, skipping", "name", fb.Name, "err", err)
			continue
		}
		fallbacks = append(fallbacks, NamedProvider[T]{Name: fb.Name, Provider: p})
	}
	return primary, fallbacks, nil
}

// NamedProvider pairs a built provider with the name it was configured as.
type NamedProvider[T any] struct {
	Name     string
	Provider T
}
