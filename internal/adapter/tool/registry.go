package tool

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"agentkit/internal/domain"
)

// Registry is the executor's tool lookup. Tools are registered once at
// startup and immutable afterwards; reads are concurrent.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]domain.Tool
	logger *slog.Logger
}

var _ domain.ToolExecutor = (*Registry)(nil)

// NewRegistry creates an empty registry. A non-nil logger enables schema
// validation wrapping on Register.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		byName: make(map[string]domain.Tool),
		logger: logger,
	}
}

// Register adds a tool under its own name, rejecting duplicates. When the
// registry has a logger the tool is wrapped with schema validation; a
// schema that fails to compile downgrades to an unvalidated registration
// with a warning rather than blocking startup.
func (r *Registry) Register(t domain.Tool) error {
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool has empty name")
	}

	if r.logger != nil {
		wrapped, err := WithSchemaValidation(t)
		if err != nil {
			r.logger.Warn("schema validation disabled for tool", "tool", name, "error", err)
		} else {
			t = wrapped
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byName[name]; dup {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.byName[name] = t
	return nil
}

func (r *Registry) Get(name string) (domain.Tool, error) {
	r.mu.RLock()
	t, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrToolNotFound, name)
	}
	return t, nil
}

// List returns the registered tools sorted by name.
func (r *Registry) List() []domain.Tool {
	r.mu.RLock()
	tools := make([]domain.Tool, 0, len(r.byName))
	for _, t := range r.byName {
		tools = append(tools, t)
	}
	r.mu.RUnlock()
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// Schemas returns every tool's schema in List order, the shape providers
// expect for function calling.
func (r *Registry) Schemas() []domain.ToolSchema {
	tools := r.List()
	schemas := make([]domain.ToolSchema, len(tools))
	for i, t := range tools {
		schemas[i] = t.Schema()
	}
	return schemas
}
