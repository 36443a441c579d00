// Package auditor is the quality gate invoked once a workflow's tasks are
// all COMPLETED. It asks the LLM Gateway for an AuditReport and applies a
// pass/fail/rework-bound policy — an LLM Gateway failure here degrades to
// an optimistic pass, since finalizing unaudited output beats failing the
// whole workflow because the auditor itself failed.
package auditor

import (
	"context"
	"fmt"

	"github.com/coriolislabs/mcs/internal/domain"
	"github.com/coriolislabs/mcs/internal/llmgateway"
	"github.com/coriolislabs/mcs/internal/store"
)

// Auditor evaluates a completed workflow and decides finalize-vs-rework.
type Auditor struct {
	db                store.Store
	gateway           *llmgateway.Gateway
	confidenceThreshold float64
	maxReworkCycles   int
	maxAttempts       int
}

// New constructs an Auditor.
func New(db store.Store, gateway *llmgateway.Gateway, confidenceThreshold float64, maxReworkCycles, maxAttempts int) *Auditor {
	return &Auditor{db: db, gateway: gateway, confidenceThreshold: confidenceThreshold, maxReworkCycles: maxReworkCycles, maxAttempts: maxAttempts}
}

const systemPrompt = `You are the audit component of a multi-agent coordination server.
Given a completed workflow's task descriptions and their final results, judge whether the
work satisfies the original request. Respond with ONLY a JSON object: {"is_successful": bool,
"feedback": string, "rework_directives": [{"step_id": string, "reason": string, "cascade":
bool}], "confidence": number between 0 and 1}. Do not include any prose outside the object.`

// Verdict is the decision the Result Handler acts on.
type Verdict struct {
	Finalize  bool
	Directives []domain.ReworkDirective
	Report    domain.AuditReport
}

// Audit runs one audit pass over workflowID. tasks and results are the
// workflow's current state, supplied by the caller so the Auditor does not
// re-query the Store mid-decision.
func (a *Auditor) Audit(ctx context.Context, workflowID, userRequest string, tasks []domain.Task, results []domain.Result) (Verdict, error) {
	prompt := buildPrompt(userRequest, tasks, results)
	raw, err := a.gateway.Generate(ctx, systemPrompt, prompt, a.maxAttempts, llmgateway.AuditValidator())

	var report domain.AuditReport
	report.WorkflowID = workflowID

	if err != nil {
		// Treat as successful rather than stall the workflow on a failed
		// auditor call.
		report.IsSuccessful = true
		report.Feedback = "audit gateway exhausted retries; accepted without review"
		report.Confidence = 0
		if recErr := a.db.RecordAuditReport(ctx, report); recErr != nil {
			return Verdict{}, recErr
		}
		return Verdict{Finalize: true, Report: report}, nil
	}

	wire, parseErr := llmgateway.ParseAudit(raw)
	if parseErr != nil {
		report.IsSuccessful = true
		report.Feedback = "audit response failed schema validation; accepted without review"
		report.Confidence = 0
		if recErr := a.db.RecordAuditReport(ctx, report); recErr != nil {
			return Verdict{}, recErr
		}
		return Verdict{Finalize: true, Report: report}, nil
	}

	report.IsSuccessful = wire.IsSuccessful
	report.Feedback = wire.Feedback
	report.ReworkDirectives = wire.ReworkDirectives
	report.Confidence = wire.Confidence

	known := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		known[t.StepID] = true
	}
	effective := make([]domain.ReworkDirective, 0, len(report.ReworkDirectives))
	for _, d := range report.ReworkDirectives {
		if !known[d.StepID] {
			continue // unknown step_ids are discarded
		}
		effective = append(effective, d)
	}

	finalize := report.IsSuccessful && report.Confidence >= a.confidenceThreshold
	if !report.IsSuccessful && len(effective) == 0 {
		// empty effective set after filtering degrades to successful:
		// nothing actionable remains to rework.
		finalize = true
	}

	if !finalize {
		cycles, cErr := a.db.GetReworkCycles(ctx, workflowID)
		if cErr != nil {
			return Verdict{}, cErr
		}
		if cycles >= a.maxReworkCycles {
			// rework bound reached: finalize regardless of verdict, but
			// preserve the report for inspection.
			finalize = true
		}
	}

	if recErr := a.db.RecordAuditReport(ctx, report); recErr != nil {
		return Verdict{}, recErr
	}

	if finalize {
		return Verdict{Finalize: true, Report: report}, nil
	}
	return Verdict{Finalize: false, Directives: effective, Report: report}, nil
}

func buildPrompt(userRequest string, tasks []domain.Task, results []domain.Result) string {
	byStep := make(map[string]domain.Result, len(results))
	for _, r := range results {
		byStep[r.TaskStepID] = r
	}
	out := fmt.Sprintf("Original request: %s\n\nTasks:\n", userRequest)
	for _, t := range tasks {
		out += fmt.Sprintf("- [%s] (%s) %s\n", t.StepID, t.Role, t.Description)
		if r, ok := byStep[t.StepID]; ok {
			out += fmt.Sprintf("  result: %s\n", r.FinalResult)
		}
	}
	return out
}
