package domain

import "time"

// ExecutionStatus is the lifecycle state of one run.
type ExecutionStatus string

const (
	StatusIdle      ExecutionStatus = "idle"
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
)

// CanTransition reports whether a status change is a legal forward move.
// Legal sequences: idle -> running -> completed|failed. Nothing moves
// backward and terminal states accept no further transitions.
func (s ExecutionStatus) CanTransition(to ExecutionStatus) bool {
	switch s {
	case StatusIdle:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// Terminal reports whether the status is completed or failed.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ExecutionState is a per-run status record. Created at run start, mutated
// by the executor at step boundaries, read by subscribers. Lifecycle is
// caller-managed; there is no automatic retention policy.
type ExecutionState struct {
	ID         string          `json:"id"`
	AgentName  string          `json:"agent_name,omitempty"`
	Status     ExecutionStatus `json:"status"`
	Step       int             `json:"step"`
	TotalSteps int             `json:"total_steps,omitempty"`
	StartedAt  time.Time       `json:"started_at,omitempty"`
	EndedAt    time.Time       `json:"ended_at,omitempty"`
	Result     string          `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
}
