package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/quillvoice/quill/pkg/stt"
)

// ErrRecognizerNotRegistered is returned by [Registry.CreateRecognizer] when
// no factory has been registered under the requested backend name.
var ErrRecognizerNotRegistered = errors.New("config: recognizer not registered")

// RecognizerFactory constructs a recognizer backend from its config entry.
type RecognizerFactory func(RecognizerEntry) (stt.Recognizer, error)

// Registry maps backend names to recognizer factories.
// It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	recognizers map[string]RecognizerFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		recognizers: make(map[string]RecognizerFactory),
	}
}

// RegisterRecognizer registers a backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterRecognizer(name string, factory RecognizerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognizers[name] = factory
}

// CreateRecognizer instantiates a backend using the factory registered under
// entry.Name. Returns [ErrRecognizerNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateRecognizer(entry RecognizerEntry) (stt.Recognizer, error) {
	r.mu.RLock()
	factory, ok := r.recognizers[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrRecognizerNotRegistered, entry.Name)
	}
	return factory(entry)
}

// Names returns the registered backend names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.recognizers))
}
