package usecase

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"agentkit/internal/domain"
)

// StateListener observes execution state transitions. Listeners receive a
// copy of the state after every successful mutation.
type StateListener func(state domain.ExecutionState)

// StateManager tracks the lifecycle of runs. Each run gets an ExecutionState
// keyed by a ULID; mutations are validated against the status machine and
// fan out to subscribed listeners. Lifecycle is caller-managed: states stay
// until Delete.
type StateManager struct {
	mu        sync.RWMutex
	states    map[string]*domain.ExecutionState
	listeners []StateListener
	logger    *slog.Logger
}

// NewStateManager creates an empty state manager.
func NewStateManager(logger *slog.Logger) *StateManager {
	return &StateManager{
		states: make(map[string]*domain.ExecutionState),
		logger: logger,
	}
}

// Subscribe registers a listener for state transitions. Listeners run
// synchronously inside the mutating call; panics are recovered and logged.
func (m *StateManager) Subscribe(fn StateListener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Create registers a new idle state and returns its id.
func (m *StateManager) Create(agentName string) string {
	id := newULID()
	state := &domain.ExecutionState{
		ID:        id,
		AgentName: agentName,
		Status:    domain.StatusIdle,
	}

	m.mu.Lock()
	m.states[id] = state
	listeners := m.snapshotListeners()
	snapshot := *state
	m.mu.Unlock()

	m.notify(listeners, snapshot)
	return id
}

// Get returns a copy of the state for id.
func (m *StateManager) Get(id string) (domain.ExecutionState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[id]
	if !ok {
		return domain.ExecutionState{}, domain.NewDomainError("StateManager.Get", domain.ErrStateNotFound, id)
	}
	return *state, nil
}

// List returns copies of all tracked states.
func (m *StateManager) List() []domain.ExecutionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.ExecutionState, 0, len(m.states))
	for _, state := range m.states {
		out = append(out, *state)
	}
	return out
}

// SetRunning moves a state from idle to running and stamps the start time.
func (m *StateManager) SetRunning(id string, totalSteps int) error {
	return m.transition(id, domain.StatusRunning, func(state *domain.ExecutionState) {
		state.StartedAt = time.Now().UTC()
		state.TotalSteps = totalSteps
	})
}

// SetStep updates the current step counter of a running state.
func (m *StateManager) SetStep(id string, step int) error {
	m.mu.Lock()
	state, ok := m.states[id]
	if !ok {
		m.mu.Unlock()
		return domain.NewDomainError("StateManager.SetStep", domain.ErrStateNotFound, id)
	}
	if state.Status != domain.StatusRunning {
		m.mu.Unlock()
		return domain.NewDomainError("StateManager.SetStep", domain.ErrInvalidTransition,
			fmt.Sprintf("cannot set step in status %q", state.Status))
	}
	state.Step = step
	listeners := m.snapshotListeners()
	snapshot := *state
	m.mu.Unlock()

	m.notify(listeners, snapshot)
	return nil
}

// Complete moves a state from running to completed with the final result.
func (m *StateManager) Complete(id, result string) error {
	return m.transition(id, domain.StatusCompleted, func(state *domain.ExecutionState) {
		state.Result = result
		state.EndedAt = time.Now().UTC()
	})
}

// Fail moves a state from running to failed with the error message.
func (m *StateManager) Fail(id, errMsg string) error {
	return m.transition(id, domain.StatusFailed, func(state *domain.ExecutionState) {
		state.Error = errMsg
		state.EndedAt = time.Now().UTC()
	})
}

// Delete removes a state. Deleting a missing id is a no-op.
func (m *StateManager) Delete(id string) {
	m.mu.Lock()
	delete(m.states, id)
	m.mu.Unlock()
}

func (m *StateManager) transition(id string, to domain.ExecutionStatus, mutate func(*domain.ExecutionState)) error {
	m.mu.Lock()
	state, ok := m.states[id]
	if !ok {
		m.mu.Unlock()
		return domain.NewDomainError("StateManager.transition", domain.ErrStateNotFound, id)
	}
	if !state.Status.CanTransition(to) {
		m.mu.Unlock()
		return domain.NewDomainError("StateManager.transition", domain.ErrInvalidTransition,
			fmt.Sprintf("%s -> %s", state.Status, to))
	}
	state.Status = to
	mutate(state)
	listeners := m.snapshotListeners()
	snapshot := *state
	m.mu.Unlock()

	m.notify(listeners, snapshot)
	return nil
}

// snapshotListeners must be called with mu held.
func (m *StateManager) snapshotListeners() []StateListener {
	out := make([]StateListener, len(m.listeners))
	copy(out, m.listeners)
	return out
}

func (m *StateManager) notify(listeners []StateListener, state domain.ExecutionState) {
	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("state listener panicked", "state_id", state.ID, "panic", r)
				}
			}()
			fn(state)
		}()
	}
}
