package taskqueue

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/fx"
)

// Factory builds a provider on first use so unselected backends never dial out.
type Factory struct {
	Name string
	New  func() (Provider, error)
}

// FactoryResult lets backend modules contribute to the registry group.
type FactoryResult struct {
	fx.Out

	Factory Factory `group:"taskqueue_providers"`
}

type RegistryParams struct {
	fx.In

	Factories []Factory `group:"taskqueue_providers"`
}

type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	opened    map[string]Provider
}

func NewRegistry(p RegistryParams) *Registry {
	r := &Registry{
		factories: make(map[string]Factory, len(p.Factories)),
		opened:    make(map[string]Provider),
	}
	for _, f := range p.Factories {
		r.Register(f)
	}
	return r
}

// Register adds or replaces the factory for f.Name.
func (r *Registry) Register(f Factory) {
	name := normalize(f.Name)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
	delete(r.opened, name)
}

// Open returns the provider registered under name, building it once.
func (r *Registry) Open(name string) (Provider, error) {
	name = normalize(name)
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.opened[name]; ok {
		return p, nil
	}
	f, ok := r.factories[name]
	if !ok || f.New == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, name)
	}
	p, err := f.New()
	if err != nil {
		return nil, fmt.Errorf("open task provider %s: %w", name, err)
	}
	r.opened[name] = p
	return p, nil
}

func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
