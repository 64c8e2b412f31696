package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/cadence/pkg/audio"
	"github.com/MrWong99/cadence/pkg/provider/llm"
	"github.com/MrWong99/cadence/pkg/provider/stt"
	"github.com/MrWong99/cadence/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// AudioBackend is a local microphone and speaker pair.
type AudioBackend struct {
	Device audio.Device
	Sink   audio.Sink

	// Close releases the backend. May be nil.
	Close func() error
}

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	llm         map[string]func(ProviderEntry) (llm.Provider, error)
	stt         map[string]func(ProviderEntry) (stt.Provider, error)
	tts         map[string]func(ProviderEntry) (tts.Provider, error)
	transcriber map[string]func(ProviderEntry) (stt.Transcriber, error)
	audio       map[string]func(ProviderEntry) (AudioBackend, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:         make(map[string]func(ProviderEntry) (llm.Provider, error)),
		stt:         make(map[string]func(ProviderEntry) (stt.Provider, error)),
		tts:         make(map[string]func(ProviderEntry) (tts.Provider, error)),
		transcriber: make(map[string]func(ProviderEntry) (stt.Transcriber, error)),
		audio:       make(map[string]func(ProviderEntry) (AudioBackend, error)),
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	register(r, r.llm, name, factory)
}

// RegisterSTT registers a streaming STT provider factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	register(r, r.stt, name, factory)
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	register(r, r.tts, name, factory)
}

// RegisterTranscriber registers a clip transcriber factory under name.
func (r *Registry) RegisterTranscriber(name string, factory func(ProviderEntry) (stt.Transcriber, error)) {
	register(r, r.transcriber, name, factory)
}

// RegisterAudio registers a local audio backend factory under name.
func (r *Registry) RegisterAudio(name string, factory func(ProviderEntry) (AudioBackend, error)) {
	register(r, r.audio, name, factory)
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return create(r, r.llm, "llm", entry)
}

// CreateSTT instantiates a streaming STT provider.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return create(r, r.stt, "stt", entry)
}

// CreateTTS instantiates a TTS provider.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return create(r, r.tts, "tts", entry)
}

// CreateTranscriber instantiates a clip transcriber.
func (r *Registry) CreateTranscriber(entry ProviderEntry) (stt.Transcriber, error) {
	return create(r, r.transcriber, "transcriber", entry)
}

// CreateAudio instantiates a local audio backend.
func (r *Registry) CreateAudio(entry ProviderEntry) (AudioBackend, error) {
	return create(r, r.audio, "audio", entry)
}

// Names returns the registered provider names for kind ("llm", "stt",
// "tts", "transcriber" or "audio").
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case "llm":
		return keys(r.llm)
	case "stt":
		return keys(r.stt)
	case "tts":
		return keys(r.tts)
	case "transcriber":
		return keys(r.transcriber)
	case "audio":
		return keys(r.audio)
	}
	return nil
}

func register[T any](r *Registry, m map[string]func(ProviderEntry) (T, error), name string, factory func(ProviderEntry) (T, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m[name] = factory
}

func create[T any](r *Registry, m map[string]func(ProviderEntry) (T, error), kind string, entry ProviderEntry) (T, error) {
	r.mu.RLock()
	factory, ok := m[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return factory(entry)
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
