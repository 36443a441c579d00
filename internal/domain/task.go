package domain

import "time"

// TaskStatus is the lifecycle state of a Task within a Workflow.
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskReady      TaskStatus = "READY"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskFailed     TaskStatus = "FAILED"
)

// FileMode is the access mode a Task declares against a file path.
type FileMode string

const (
	FileRead      FileMode = "read"
	FileWrite     FileMode = "write"
	FileExclusive FileMode = "exclusive"
)

// Task is one node of a Workflow's dependency graph (the spec's TaskStep).
type Task struct {
	StepID          string              `json:"step_id"`
	WorkflowID      string              `json:"workflow_id"`
	Description     string              `json:"description"`
	Role            string              `json:"role"`
	Dependencies    []string            `json:"dependencies"`
	FileDependencies map[string]FileMode `json:"file_dependencies"`
	Status          TaskStatus          `json:"status"`
	ClaimedBy       string              `json:"claimed_by,omitempty"`
	ClaimedAt       *time.Time          `json:"claimed_at,omitempty"`
	UpdatedAt       time.Time           `json:"updated_at"`
	RetryCount      int                 `json:"retry_count"`
	ReworkNote      string              `json:"rework_note,omitempty"`
}

// DependenciesSatisfied reports whether every dependency in statuses is COMPLETED.
func (t *Task) DependenciesSatisfied(statuses map[string]TaskStatus) bool {
	for _, dep := range t.Dependencies {
		if statuses[dep] != TaskCompleted {
			return false
		}
	}
	return true
}
