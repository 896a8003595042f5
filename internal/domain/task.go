package domain

import (
	"fmt"
	"strings"
	"time"
)

type TaskID string

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

func (s TaskStatus) rank() int {
	switch s {
	case TaskPending:
		return 1
	case TaskProcessing:
		return 2
	case TaskCompleted, TaskFailed:
		return 3
	default:
		return 0
	}
}

func (s TaskStatus) Valid() bool {
	return s.rank() > 0
}

func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// CanAdvance reports whether a task may move from s to next. Status only
// moves forward and terminal statuses never change.
func (s TaskStatus) CanAdvance(next TaskStatus) bool {
	if !next.Valid() || s.Terminal() {
		return false
	}
	return next.rank() > s.rank()
}

// Phrase is the progress text shown while a task is observed.
func (s TaskStatus) Phrase() string {
	switch s {
	case TaskPending:
		return "Queued..."
	case TaskProcessing:
		return "Processing your request..."
	case TaskCompleted:
		return "Completed!"
	case TaskFailed:
		return "Failed"
	default:
		return string(s)
	}
}

type AgentName string

const (
	AgentOutliner   AgentName = "outliner"
	AgentSequential AgentName = "sequential"
)

func (a AgentName) Valid() bool {
	return a == AgentOutliner || a == AgentSequential
}

type AgentMode string

const (
	AgentModeParallel   AgentMode = "parallel"
	AgentModeSequential AgentMode = "sequential"
)

func ParseAgentMode(raw string) (AgentMode, error) {
	switch AgentMode(strings.ToLower(strings.TrimSpace(raw))) {
	case AgentModeParallel:
		return AgentModeParallel, nil
	case AgentModeSequential:
		return AgentModeSequential, nil
	default:
		return "", fmt.Errorf("%w: unknown agent mode %q (want parallel or sequential)", ErrValidation, raw)
	}
}

func (m AgentMode) AgentName() AgentName {
	if m == AgentModeSequential {
		return AgentSequential
	}
	return AgentOutliner
}

type Task struct {
	ID        TaskID     `json:"taskId"`
	RoomID    RoomID     `json:"roomId"`
	Status    TaskStatus `json:"status"`
	Prompt    string     `json:"prompt"`
	AgentName AgentName  `json:"agentName"`
	Result    string     `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

type TaskRequest struct {
	RoomID    RoomID
	Prompt    string
	AgentName AgentName
}

// TaskPhase is the client-side lifecycle of one submitted task.
type TaskPhase string

const (
	PhaseIdle       TaskPhase = "idle"
	PhaseSubmitting TaskPhase = "submitting"
	PhaseProcessing TaskPhase = "processing"
	PhaseCompleted  TaskPhase = "completed"
	PhaseFailed     TaskPhase = "failed"
	PhaseCancelled  TaskPhase = "cancelled"
)

func (p TaskPhase) InFlight() bool {
	return p == PhaseSubmitting || p == PhaseProcessing
}
