package llmgateway

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/coriolislabs/mcs/internal/domain"
)

var validate = validator.New()

// PlanTaskWire is the wire shape of one TaskGraph entry the Planner asks
// the Gateway to produce.
type PlanTaskWire struct {
	StepID           string                     `json:"step_id" validate:"required"`
	Description      string                     `json:"description" validate:"required"`
	Role             string                     `json:"role" validate:"required"`
	Dependencies     []string                   `json:"dependencies"`
	FileDependencies map[string]domain.FileMode `json:"file_dependencies"`
}

// ParsePlan decodes and struct-validates raw as a TaskGraph array. It does
// NOT check role-set membership or DAG validity — that is the Planner's
// job (internal/domain.ValidateGraph), since it needs the deployment's
// configured roles, which the Gateway does not know about.
func ParsePlan(raw string) ([]PlanTaskWire, error) {
	var tasks []PlanTaskWire
	if err := json.Unmarshal([]byte(raw), &tasks); err != nil {
		return nil, fmt.Errorf("plan is not valid JSON: %w", err)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("plan must contain at least one task")
	}
	for i, t := range tasks {
		if err := validate.Struct(t); err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
		for path, mode := range t.FileDependencies {
			if mode != domain.FileRead && mode != domain.FileWrite && mode != domain.FileExclusive {
				return nil, fmt.Errorf("task %d: file %q has invalid mode %q", i, path, mode)
			}
		}
	}
	return tasks, nil
}

// PlanValidator returns a Gateway.Generate-compatible validate func.
func PlanValidator() func(string) error {
	return func(raw string) error {
		_, err := ParsePlan(raw)
		return err
	}
}

// AuditWire is the wire shape of the AuditReport the Auditor asks the
// Gateway to produce.
type AuditWire struct {
	IsSuccessful     bool                     `json:"is_successful"`
	Feedback         string                   `json:"feedback"`
	ReworkDirectives []domain.ReworkDirective `json:"rework_directives"`
	Confidence       float64                  `json:"confidence" validate:"gte=0,lte=1"`
}

// ParseAudit decodes and struct-validates raw as an AuditReport.
func ParseAudit(raw string) (AuditWire, error) {
	var a AuditWire
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return AuditWire{}, fmt.Errorf("audit report is not valid JSON: %w", err)
	}
	if err := validate.Struct(a); err != nil {
		return AuditWire{}, err
	}
	return a, nil
}

// AuditValidator returns a Gateway.Generate-compatible validate func.
func AuditValidator() func(string) error {
	return func(raw string) error {
		_, err := ParseAudit(raw)
		return err
	}
}
