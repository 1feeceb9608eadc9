package swarm

import (
	"fmt"
	"strings"
)

// Strategy plans which specialists handle a task and in what order.
// available lists registered specialist names in registration order.
type Strategy interface {
	Plan(task string, available []string) ([]string, error)
}

// Pipeline runs a fixed sequence of specialists, each consuming the output
// of the previous one. An empty Order means "all specialists, registration
// order".
type Pipeline struct {
	Order []string
}

func (p Pipeline) Plan(_ string, available []string) ([]string, error) {
	if len(p.Order) == 0 {
		return available, nil
	}
	return p.Order, nil
}

// KeywordRouter picks a single specialist by keyword match against the
// task. The first route whose keyword appears in the task (case
// insensitive) wins; routes are checked in Routes slice order. Tasks that
// match nothing go to Default.
type KeywordRouter struct {
	Routes  []Route
	Default string
}

// Route binds keywords to one specialist.
type Route struct {
	Agent    string
	Keywords []string
}

func (r KeywordRouter) Plan(task string, _ []string) ([]string, error) {
	lower := strings.ToLower(task)
	for _, route := range r.Routes {
		for _, kw := range route.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				return []string{route.Agent}, nil
			}
		}
	}
	if r.Default == "" {
		return nil, fmt.Errorf("no route matched and no default specialist configured")
	}
	return []string{r.Default}, nil
}
