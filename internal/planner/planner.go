// Package planner turns a user request into a persisted Workflow with its
// TaskGraph, by asking the LLM Gateway for a plan, validating it against
// the deployment's configured role set, and falling back to a single-task
// workflow when the Gateway exhausts its retries — a planned workflow is
// never refused outright; plan failure degrades rather than rejects.
package planner

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/coriolislabs/mcs/internal/apperr"
	"github.com/coriolislabs/mcs/internal/domain"
	"github.com/coriolislabs/mcs/internal/llmgateway"
	"github.com/coriolislabs/mcs/internal/store"
)

// Planner owns workflow creation: turning a free-text request into a
// validated, persisted TaskGraph.
type Planner struct {
	db         store.Store
	gateway    *llmgateway.Gateway
	roles      map[string]bool
	maxAttempts int
}

// New constructs a Planner. roles is the deployment's closed role
// enumeration from config.Config.Roles.
func New(db store.Store, gateway *llmgateway.Gateway, roles map[string]bool, maxAttempts int) *Planner {
	return &Planner{db: db, gateway: gateway, roles: roles, maxAttempts: maxAttempts}
}

const systemPrompt = `You are the planning component of a multi-agent coordination server.
Given a user request, decompose it into a graph of discrete tasks. Respond with ONLY a JSON
array of objects, each with: step_id (string, unique), description (string), role (string,
one of the configured roles), dependencies (array of step_id strings, may be empty), and
file_dependencies (object mapping file path to one of "read", "write", "exclusive", may be
empty). Do not include any prose outside the JSON array.`

// Plan generates and persists a Workflow for userRequest, optionally scoped
// to projectID (empty means none). metadata is the submit request's raw
// metadata object; only the recognized key workflow_name affects planning
// (it overrides the derived name) — the rest passes through to Metadata
// unexamined. On Gateway exhaustion it persists a single-task fallback
// workflow so the request is never silently dropped.
func (p *Planner) Plan(ctx context.Context, userRequest, projectID string, metadata map[string]interface{}) (domain.Workflow, []domain.Task, error) {
	raw, err := p.gateway.Generate(ctx, systemPrompt, userRequest, p.maxAttempts, llmgateway.PlanValidator())
	var tasks []domain.Task
	if err != nil {
		tasks = p.fallbackPlan(userRequest)
	} else {
		wireTasks, parseErr := llmgateway.ParsePlan(raw)
		if parseErr != nil {
			tasks = p.fallbackPlan(userRequest)
		} else {
			tasks = toDomainTasks(wireTasks)
			if validateErr := domain.ValidateGraph(tasks, p.roles); validateErr != nil {
				tasks = p.fallbackPlan(userRequest)
			}
		}
	}

	name := deriveName(userRequest)
	if override, ok := metadata["workflow_name"].(string); ok && override != "" {
		name = override
	}

	wf := domain.Workflow{
		WorkflowID:  uuid.NewString(),
		Name:        name,
		UserRequest: userRequest,
		ProjectID:   projectID,
		Metadata:    metadata,
	}
	createdWF, createdTasks, err := p.db.CreateWorkflow(ctx, wf, tasks)
	if err != nil {
		return domain.Workflow{}, nil, apperr.Wrap(apperr.StoreUnavailable, "persisting workflow", err)
	}
	return createdWF, createdTasks, nil
}

// fallbackPlan returns a single task assigned to the first configured role
// in lexical order, so a workflow always has at least one dispatchable step.
func (p *Planner) fallbackPlan(userRequest string) []domain.Task {
	role := "generalist"
	names := make([]string, 0, len(p.roles))
	for r := range p.roles {
		names = append(names, r)
	}
	sort.Strings(names)
	if len(names) > 0 {
		role = names[0]
	}
	return []domain.Task{{
		StepID:      "step-1",
		Description: userRequest,
		Role:        role,
		Status:      domain.TaskPending,
	}}
}

func toDomainTasks(wire []llmgateway.PlanTaskWire) []domain.Task {
	out := make([]domain.Task, 0, len(wire))
	for _, w := range wire {
		out = append(out, domain.Task{
			StepID:           w.StepID,
			Description:      w.Description,
			Role:             w.Role,
			Dependencies:     w.Dependencies,
			FileDependencies: w.FileDependencies,
			Status:           domain.TaskPending,
		})
	}
	return out
}

// deriveName builds a workflow name from the first tokens of userRequest:
// non-alphanumerics become underscores, lowercased, capped length. The
// full request remains in UserRequest regardless.
func deriveName(userRequest string) string {
	const maxLen = 48
	var b strings.Builder
	lastUnderscore := false
	for _, r := range userRequest {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteByte('_')
			lastUnderscore = true
		}
		if b.Len() >= maxLen {
			break
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		name = "workflow"
	}
	if len(name) > maxLen {
		name = name[:maxLen]
	}
	return name
}
