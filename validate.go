package stepflow

import (
	"fmt"
)

// findStartStep returns the unique step no other step references in its
// Next list. Zero or more than one candidate is a configuration error.
func findStartStep(wf *Workflow) (*WorkflowStep, error) {
	referenced := make(map[string]bool, len(wf.Steps))
	for _, step := range wf.Steps {
		for _, next := range step.Next {
			referenced[next] = true
		}
	}

	var start *WorkflowStep
	for i := range wf.Steps {
		if referenced[wf.Steps[i].ID] {
			continue
		}

		if start != nil {
			return nil, fmt.Errorf("multiple start steps: %s and %s", start.ID, wf.Steps[i].ID)
		}
		start = &wf.Steps[i]
	}

	if start == nil {
		return nil, fmt.Errorf("no start step: every step has an incoming edge")
	}

	return start, nil
}

// ValidateWorkflow checks the definition before any execution is created:
// non-empty and unique steps, resolvable successor references, condition
// targets that are actual successors, a single start step and an acyclic
// graph (visited-set DFS, so a bad definition fails fast instead of
// recursing forever at run time).
func ValidateWorkflow(wf *Workflow) error {
	if wf == nil {
		return fmt.Errorf("workflow is nil")
	}
	if wf.ID == "" {
		return fmt.Errorf("workflow id is required")
	}
	if len(wf.Steps) == 0 {
		return fmt.Errorf("workflow %s: at least one step is required", wf.ID)
	}

	steps := make(map[string]*WorkflowStep, len(wf.Steps))
	for i := range wf.Steps {
		step := &wf.Steps[i]
		if step.ID == "" {
			return fmt.Errorf("workflow %s: step with empty id", wf.ID)
		}
		if _, dup := steps[step.ID]; dup {
			return fmt.Errorf("workflow %s: duplicate step id %s", wf.ID, step.ID)
		}
		steps[step.ID] = step
	}

	for _, step := range wf.Steps {
		for _, next := range step.Next {
			if _, ok := steps[next]; !ok {
				return fmt.Errorf("workflow %s: step %s references unknown step %s", wf.ID, step.ID, next)
			}
		}

		for _, cond := range step.Conditions {
			if cond.Target == "" {
				continue
			}

			isSuccessor := false
			for _, next := range step.Next {
				if next == cond.Target {
					isSuccessor = true

					break
				}
			}
			if !isSuccessor {
				return fmt.Errorf("workflow %s: step %s condition targets %s which is not a successor",
					wf.ID, step.ID, cond.Target)
			}
		}
	}

	if _, err := findStartStep(wf); err != nil {
		return fmt.Errorf("workflow %s: %w", wf.ID, err)
	}

	if cycle := findCycle(wf, steps); cycle != "" {
		return fmt.Errorf("workflow %s: step graph contains a cycle through %s", wf.ID, cycle)
	}

	return nil
}

// findCycle runs a three-color DFS over the step graph and returns a step
// id on any back edge, or "" for an acyclic graph.
func findCycle(wf *Workflow, steps map[string]*WorkflowStep) string {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	colors := make(map[string]int, len(steps))

	var visit func(id string) string
	visit = func(id string) string {
		colors[id] = gray
		for _, next := range steps[id].Next {
			switch colors[next] {
			case gray:
				return next
			case white:
				if found := visit(next); found != "" {
					return found
				}
			}
		}
		colors[id] = black

		return ""
	}

	for _, step := range wf.Steps {
		if colors[step.ID] == white {
			if found := visit(step.ID); found != "" {
				return found
			}
		}
	}

	return ""
}
