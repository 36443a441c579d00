package domain

import (
	"fmt"
	"sort"
)

// validFileModes is checked by ValidateGraph; for roles, callers pass the
// deployment's configured role set (roles are a closed enumeration at
// deploy time, per the design notes).
var validFileModes = map[FileMode]bool{
	FileRead:      true,
	FileWrite:     true,
	FileExclusive: true,
}

// ValidateGraph checks unique step_ids, dependency closure, acyclicity,
// role membership and file-mode membership, mirroring the orchestrator's
// buildDAG cycle/closure checks generalized to the planner's validation step.
func ValidateGraph(tasks []Task, roles map[string]bool) error {
	seen := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.StepID == "" {
			return fmt.Errorf("task has empty step_id")
		}
		if seen[t.StepID] {
			return fmt.Errorf("duplicate step_id %q", t.StepID)
		}
		seen[t.StepID] = true
	}
	for _, t := range tasks {
		if !roles[t.Role] {
			return fmt.Errorf("task %s: role %q not in configured set", t.StepID, t.Role)
		}
		for _, dep := range t.Dependencies {
			if !seen[dep] {
				return fmt.Errorf("task %s depends on non-existent task %s", t.StepID, dep)
			}
		}
		for path, mode := range t.FileDependencies {
			if !validFileModes[mode] {
				return fmt.Errorf("task %s: file %q has invalid mode %q", t.StepID, path, mode)
			}
		}
	}
	if hasCycle(tasks) {
		return fmt.Errorf("task graph has circular dependencies")
	}
	return nil
}

// hasCycle runs Kahn's algorithm: if no topological order covering every
// node exists, a cycle is present.
func hasCycle(tasks []Task) bool {
	indeg := make(map[string]int, len(tasks))
	adj := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		if _, ok := indeg[t.StepID]; !ok {
			indeg[t.StepID] = 0
		}
		for _, dep := range t.Dependencies {
			indeg[t.StepID]++
			adj[dep] = append(adj[dep], t.StepID)
		}
	}
	queue := make([]string, 0, len(tasks))
	for id, d := range indeg {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range adj[id] {
			indeg[next]--
			if indeg[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return visited != len(tasks)
}

// ReadySet computes P = {t | t.status = PENDING ∧ every dependency COMPLETED},
// the set of tasks a promotion pass advances from PENDING to READY.
func ReadySet(tasks []Task) []string {
	statuses := make(map[string]TaskStatus, len(tasks))
	for _, t := range tasks {
		statuses[t.StepID] = t.Status
	}
	var ready []string
	for _, t := range tasks {
		if t.Status != TaskPending {
			continue
		}
		if t.DependenciesSatisfied(statuses) {
			ready = append(ready, t.StepID)
		}
	}
	return ready
}

// TopologicalOrder returns step_ids in an order consistent with the
// dependency relation, via Kahn's algorithm — used by the synthesizer to
// concatenate results in dependency order. Assumes an acyclic graph; callers
// validate acyclicity with ValidateGraph before relying on this order.
func TopologicalOrder(tasks []Task) []string {
	indeg := make(map[string]int, len(tasks))
	adj := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		if _, ok := indeg[t.StepID]; !ok {
			indeg[t.StepID] = 0
		}
		for _, dep := range t.Dependencies {
			indeg[t.StepID]++
			adj[dep] = append(adj[dep], t.StepID)
		}
	}
	queue := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if indeg[t.StepID] == 0 {
			queue = append(queue, t.StepID)
		}
	}
	sort.Strings(queue)
	order := make([]string, 0, len(tasks))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		next := append([]string{}, adj[id]...)
		sort.Strings(next)
		for _, n := range next {
			indeg[n]--
			if indeg[n] == 0 {
				queue = append(queue, n)
				sort.Strings(queue)
			}
		}
	}
	return order
}

// TransitiveDependents returns the set of step_ids that depend, directly or
// transitively, on any of the seed step_ids — used to cascade audit resets.
func TransitiveDependents(tasks []Task, seeds []string) map[string]bool {
	dependents := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			dependents[dep] = append(dependents[dep], t.StepID)
		}
	}
	result := make(map[string]bool)
	queue := append([]string{}, seeds...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range dependents[id] {
			if !result[next] {
				result[next] = true
				queue = append(queue, next)
			}
		}
	}
	return result
}
