package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/provider/classifier"
	"github.com/MrWong99/hearken/pkg/provider/frontend"
	"github.com/MrWong99/hearken/pkg/provider/transcribe"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Deps carries collaborators shared between providers. Front ends and
// classifiers built on speech-to-text receive the configured transcriber
// here. Transcriber may be nil.
type Deps struct {
	Transcriber transcribe.Transcriber
	Wake        WakeConfig
}

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	audio       map[string]func(ProviderEntry) (audio.Source, error)
	frontend    map[string]func(ProviderEntry, Deps) (frontend.Factory, error)
	classifier  map[string]func(ProviderEntry, Deps) (classifier.Factory, error)
	transcriber map[string]func(ProviderEntry) (transcribe.Transcriber, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		audio:       make(map[string]func(ProviderEntry) (audio.Source, error)),
		frontend:    make(map[string]func(ProviderEntry, Deps) (frontend.Factory, error)),
		classifier:  make(map[string]func(ProviderEntry, Deps) (classifier.Factory, error)),
		transcriber: make(map[string]func(ProviderEntry) (transcribe.Transcriber, error)),
	}
}

// RegisterAudio registers an audio source factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterAudio(name string, factory func(ProviderEntry) (audio.Source, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// RegisterFrontEnd registers a front-end factory constructor under name.
func (r *Registry) RegisterFrontEnd(name string, factory func(ProviderEntry, Deps) (frontend.Factory, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frontend[name] = factory
}

// RegisterClassifier registers a classifier factory constructor under name.
func (r *Registry) RegisterClassifier(name string, factory func(ProviderEntry, Deps) (classifier.Factory, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classifier[name] = factory
}

// RegisterTranscriber registers a transcriber factory under name.
func (r *Registry) RegisterTranscriber(name string, factory func(ProviderEntry) (transcribe.Transcriber, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcriber[name] = factory
}

// CreateAudio opens an audio source using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateAudio(entry ProviderEntry) (audio.Source, error) {
	r.mu.RLock()
	factory, ok := r.audio[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateFrontEnd returns the front-end factory registered under entry.Name.
func (r *Registry) CreateFrontEnd(entry ProviderEntry, deps Deps) (frontend.Factory, error) {
	r.mu.RLock()
	factory, ok := r.frontend[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: frontend/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry, deps)
}

// CreateClassifier returns the classifier factory registered under entry.Name.
func (r *Registry) CreateClassifier(entry ProviderEntry, deps Deps) (classifier.Factory, error) {
	r.mu.RLock()
	factory, ok := r.classifier[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: classifier/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry, deps)
}

// CreateTranscriber instantiates a transcriber using the factory registered under entry.Name.
func (r *Registry) CreateTranscriber(entry ProviderEntry) (transcribe.Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.transcriber[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transcriber/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// IntOption reads an integer option, accepting the numeric types YAML
// decoding produces. It returns def when key is absent or not numeric.
func (e ProviderEntry) IntOption(key string, def int) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// BoolOption reads a boolean option, returning def when key is absent.
func (e ProviderEntry) BoolOption(key string, def bool) bool {
	if v, ok := e.Options[key].(bool); ok {
		return v
	}
	return def
}

// StringOption reads a string option, returning def when key is absent.
func (e ProviderEntry) StringOption(key, def string) string {
	if v, ok := e.Options[key].(string); ok && v != "" {
		return v
	}
	return def
}
