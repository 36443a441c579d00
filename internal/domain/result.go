package domain

import "time"

// RAIteration is one thought/action/observation record produced by a worker
// while executing a task. The sequence is persisted in full, once, on report.
type RAIteration struct {
	Thought     string `json:"thought"`
	Action      string `json:"action"`
	Observation string `json:"observation"`
}

// Result is the append-only record of a worker's report for a task.
type Result struct {
	TaskStepID    string        `json:"task_step_id"`
	WorkflowID    string        `json:"workflow_id"`
	Iterations    []RAIteration `json:"iterations"`
	FinalResult   string        `json:"final_result"`
	SourceWorker  string        `json:"source_worker"`
	ExecutionTime time.Duration `json:"execution_time"`
	CreatedAt     time.Time     `json:"created_at"`
}

// ReportStatus is the status a worker reports for a task it held.
type ReportStatus string

const (
	ReportCompleted ReportStatus = "completed"
	ReportFailed    ReportStatus = "failed"
)

// Report is the inbound wire shape of POST /v1/results.
type Report struct {
	WorkflowID    string        `json:"workflow_id"`
	StepID        string        `json:"step_id"`
	WorkerID      string        `json:"worker_id"`
	Status        ReportStatus  `json:"status"`
	FinalResult   string        `json:"final_result"`
	RAHistory     []RAIteration `json:"ra_history"`
	ExecutionTime time.Duration `json:"execution_time"`
}
