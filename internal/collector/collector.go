package collector

import (
	"context"
	"fmt"

	"newsflow/internal/domain"
)

// Request carries all parameters required to execute one collection pass
// against a single configured source.
type Request struct {
	SourceName   string
	URL          string
	MaxEntries   int
	FetchContent bool
	Options      map[string]string
}

// Collector captures a single acquisition strategy (RSS, Atom, YouTube, etc.).
type Collector interface {
	Name() string
	Collect(ctx context.Context, req Request) ([]domain.Item, error)
}

// Registry keeps a mapping from collector names to their implementations.
type Registry struct {
	collectors map[string]Collector
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{collectors: map[string]Collector{}}
}

// Register adds or replaces a collector implementation.
func (r *Registry) Register(c Collector) {
	if r.collectors == nil {
		r.collectors = map[string]Collector{}
	}
	r.collectors[c.Name()] = c
}

// Resolve returns a collector by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Collector, error) {
	if c, ok := r.collectors[name]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("collector %s is not registered", name)
}
