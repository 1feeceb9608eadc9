package llm

import (
	"fmt"
	"sort"
	"sync"

	"agentkit/internal/domain"
)

// Registry resolves providers by name. Registration happens once at startup;
// lookups are concurrent afterwards.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]domain.LLMProvider
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]domain.LLMProvider)}
}

// Register adds a provider under its own Name. Duplicate names are rejected
// so a config typo cannot silently shadow an earlier provider.
func (r *Registry) Register(p domain.LLMProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if name == "" {
		return fmt.Errorf("provider has empty name")
	}
	if _, dup := r.byName[name]; dup {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.byName[name] = p
	return nil
}

func (r *Registry) Get(name string) (domain.LLMProvider, error) {
	r.mu.RLock()
	p, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrProviderNotFound, name)
	}
	return p, nil
}

// List returns registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}
