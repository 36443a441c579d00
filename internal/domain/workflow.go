package domain

import "time"

// Status is the aggregated lifecycle state shared by Project and Workflow.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Project groups related workflows. Optional: a workflow may have no project.
type Project struct {
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Workflow is the task graph produced from a single user request.
type Workflow struct {
	WorkflowID  string                 `json:"workflow_id"`
	Name        string                 `json:"name"`
	UserRequest string                 `json:"user_request"`
	ProjectID   string                 `json:"project_id,omitempty"`
	Status      Status                 `json:"status"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	ReworkCycles int    `json:"rework_cycles"`
	Artifact     string `json:"artifact,omitempty"`
}

// DeriveStatus computes the workflow status from its task statuses.
func DeriveStatus(tasks []Task) Status {
	if len(tasks) == 0 {
		return StatusCompleted
	}
	allCompleted := true
	anyFailed := false
	anyActive := false
	for _, t := range tasks {
		switch t.Status {
		case TaskCompleted:
		case TaskFailed:
			anyFailed = true
			allCompleted = false
		case TaskInProgress, TaskReady:
			anyActive = true
			allCompleted = false
		default:
			allCompleted = false
		}
	}
	switch {
	case allCompleted:
		return StatusCompleted
	case anyFailed:
		return StatusFailed
	case anyActive:
		return StatusInProgress
	default:
		return StatusPending
	}
}
