package swarm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"agentkit/internal/domain"
)

// Runner executes one agent run. *usecase.AgentExecutor satisfies this.
type Runner interface {
	Run(ctx context.Context, input string) *domain.AgentResult
}

// Swarm coordinates a set of named specialist agents. A Strategy decides
// which specialists handle a task and in what order; the swarm runs them
// and merges their traces into a single result.
type Swarm struct {
	specialists map[string]Runner
	names       []string // registration order
	strategy    Strategy
	bus         domain.EventBus
	logger      *slog.Logger
}

// New creates a swarm with the given routing strategy. bus may be nil.
func New(strategy Strategy, bus domain.EventBus, logger *slog.Logger) *Swarm {
	if logger == nil {
		logger = slog.Default()
	}
	return &Swarm{
		specialists: make(map[string]Runner),
		strategy:    strategy,
		bus:         bus,
		logger:      logger,
	}
}

// AddSpecialist registers a named agent. Re-registering a name replaces
// the previous runner but keeps its position.
func (s *Swarm) AddSpecialist(name string, r Runner) {
	if _, exists := s.specialists[name]; !exists {
		s.names = append(s.names, name)
	}
	s.specialists[name] = r
}

// Specialists returns the registered agent names in registration order.
func (s *Swarm) Specialists() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Delegate routes a task through the strategy's plan. Specialists run in
// plan order, each receiving the previous specialist's output as input.
// A failed specialist aborts the swarm; steps from specialists that already
// completed stay in the merged trace.
func (s *Swarm) Delegate(ctx context.Context, task string) *domain.SwarmResult {
	start := time.Now()
	result := &domain.SwarmResult{}

	plan, err := s.strategy.Plan(task, s.Specialists())
	if err != nil {
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}
	if len(plan) == 0 {
		result.Error = "strategy produced an empty plan"
		result.Duration = time.Since(start)
		return result
	}

	input := task
	for _, name := range plan {
		runner, ok := s.specialists[name]
		if !ok {
			result.Error = fmt.Sprintf("unknown specialist %q in plan", name)
			result.Duration = time.Since(start)
			return result
		}

		s.publish(ctx, domain.EventSwarmDelegated, map[string]string{"agent": name})
		s.logger.Debug("delegating to specialist", "agent", name)

		agentResult := runner.Run(ctx, input)
		result.AgentsInvolved = append(result.AgentsInvolved, name)
		result.Steps = append(result.Steps, agentResult.Steps...)
		result.TotalTokens += agentResult.TotalTokens
		result.TotalCost += agentResult.TotalCost

		if !agentResult.Success {
			result.Error = fmt.Sprintf("specialist %q failed: %s", name, agentResult.Error)
			result.Duration = time.Since(start)
			return result
		}

		result.Output = agentResult.Output
		input = agentResult.Output
	}

	result.Success = true
	result.Duration = time.Since(start)
	return result
}

func (s *Swarm) publish(ctx context.Context, eventType domain.EventType, payload any) {
	if s.bus == nil {
		return
	}
	var raw json.RawMessage
	if b, err := json.Marshal(payload); err == nil {
		raw = b
	}
	s.bus.Publish(ctx, domain.Event{Type: eventType, Timestamp: time.Now(), Payload: raw})
}
