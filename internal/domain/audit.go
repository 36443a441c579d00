package domain

import (
	"encoding/json"
	"time"
)

// ReworkDirective is one per-task instruction emitted by an audit failure.
type ReworkDirective struct {
	StepID   string `json:"step_id"`
	Reason   string `json:"reason"`
	Cascade  bool   `json:"cascade"`
}

// UnmarshalJSON decodes a directive, defaulting Cascade to true when the
// field is absent.
func (d *ReworkDirective) UnmarshalJSON(data []byte) error {
	type plain ReworkDirective
	p := plain{Cascade: true}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*d = ReworkDirective(p)
	return nil
}

// AuditReport is one audit pass over a completed workflow.
type AuditReport struct {
	WorkflowID       string            `json:"workflow_id"`
	IsSuccessful     bool              `json:"is_successful"`
	Feedback         string            `json:"feedback"`
	ReworkDirectives []ReworkDirective `json:"rework_directives"`
	Confidence       float64           `json:"confidence"`
	CreatedAt        time.Time         `json:"created_at"`
}
