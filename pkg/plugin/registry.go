package plugin

import (
	"fmt"
	"sort"
	"sync"

	"firestige.xyz/ttlbridge/internal/core"
)

// registry maps plugin type names to factories.
type registry[T any] struct {
	kind      string
	mu        sync.RWMutex
	factories map[string]func() T
}

func newRegistry[T any](kind string) *registry[T] {
	return &registry[T]{kind: kind, factories: make(map[string]func() T)}
}

// register panics on programmer errors; it runs from init functions.
func (r *registry[T]) register(name string, factory func() T) {
	if name == "" {
		panic(fmt.Sprintf("plugin: empty %s name", r.kind))
	}
	if factory == nil {
		panic(fmt.Sprintf("plugin: nil factory for %s %q", r.kind, name))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[name]; dup {
		panic(fmt.Sprintf("plugin: %s %q registered twice", r.kind, name))
	}
	r.factories[name] = factory
}

func (r *registry[T]) get(name string) (func() T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s %q", core.ErrSinkNotFound, r.kind, name)
	}
	return f, nil
}

func (r *registry[T]) list() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset removes every registration. Tests only.
func (r *registry[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories = make(map[string]func() T)
}

var sinkReg = newRegistry[Sink]("sink")

// RegisterSink registers a sink factory under name.
func RegisterSink(name string, factory func() Sink) {
	sinkReg.register(name, factory)
}

// GetSinkFactory returns the factory for name or core.ErrSinkNotFound.
func GetSinkFactory(name string) (func() Sink, error) {
	return sinkReg.get(name)
}

// ListSinks returns registered sink names, sorted.
func ListSinks() []string {
	return sinkReg.list()
}
