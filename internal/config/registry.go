package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/localtts"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factories is one provider kind's name → constructor table.
type factories[T any] map[string]func(ProviderEntry) (T, error)

func create[T any](mu *sync.RWMutex, f factories[T], kind string, entry ProviderEntry) (T, error) {
	mu.RLock()
	factory, ok := f[entry.Name]
	mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return factory(entry)
}

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	llm      factories[llm.Provider]
	stt      factories[stt.Provider]
	tts      factories[tts.Provider]
	localTTS factories[localtts.Engine]
	vad      factories[vad.Engine]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:      make(factories[llm.Provider]),
		stt:      make(factories[stt.Provider]),
		tts:      make(factories[tts.Provider]),
		localTTS: make(factories[localtts.Engine]),
		vad:      make(factories[vad.Engine]),
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterSTT registers an STT provider factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterLocalTTS registers a local speech engine factory under name.
func (r *Registry) RegisterLocalTTS(name string, factory func(ProviderEntry) (localtts.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.localTTS[name] = factory
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory func(ProviderEntry) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return create(&r.mu, r.llm, "llm", entry)
}

// CreateSTT instantiates an STT provider using the factory registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return create(&r.mu, r.stt, "stt", entry)
}

// CreateTTS instantiates a TTS provider using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return create(&r.mu, r.tts, "tts", entry)
}

// CreateLocalTTS instantiates a local speech engine using the factory
// registered under entry.Name.
func (r *Registry) CreateLocalTTS(entry ProviderEntry) (localtts.Engine, error) {
	return create(&r.mu, r.localTTS, "local_tts", entry)
}

// CreateVAD instantiates a VAD engine using the factory registered under entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	return create(&r.mu, r.vad, "vad", entry)
}

// Names returns the registered provider names per kind, for startup logging.
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string][]string{
		"llm":       keys(r.llm),
		"stt":       keys(r.stt),
		"tts":       keys(r.tts),
		"local_tts": keys(r.localTTS),
		"vad":       keys(r.vad),
	}
}

func keys[T any](f factories[T]) []string {
	out := make([]string, 0, len(f))
	for k := range f {
		out = append(out, k)
	}
	return out
}
