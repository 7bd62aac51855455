package stepflow

import (
	"fmt"
	"time"
)

// Builder assembles a Workflow definition step by step. Each Step call
// links the new step as a successor of the current one; From moves the
// cursor back for branching. Errors are collected and surfaced by Build.
type Builder struct {
	id        string
	name      string
	tenantID  string
	version   int
	steps     []WorkflowStep
	index     map[string]int
	variables []WorkflowVariable
	settings  WorkflowSettings
	current   string
	err       error
}

func NewWorkflow(name string, opts ...WorkflowOption) *Builder {
	builder := &Builder{
		name:    name,
		version: 1,
		index:   make(map[string]int),
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder
}

// Step appends a step and links it after the current one.
func (builder *Builder) Step(id string, stepType StepType, opts ...StepOption) *Builder {
	if _, exists := builder.index[id]; exists {
		builder.fail(fmt.Errorf("duplicate step id %q", id))

		return builder
	}

	step := WorkflowStep{
		ID:   id,
		Type: stepType,
		Name: id,
	}
	for _, opt := range opts {
		opt(&step)
	}

	builder.index[id] = len(builder.steps)
	builder.steps = append(builder.steps, step)

	if builder.current != "" {
		builder.link(builder.current, id)
	}
	builder.current = id

	return builder
}

// StepIf appends a step reachable from the current one only when the
// condition holds: the condition is attached to the current step with the
// new step as its target.
func (builder *Builder) StepIf(id string, stepType StepType, cond Condition, opts ...StepOption) *Builder {
	if builder.current == "" {
		builder.fail(fmt.Errorf("StepIf %q called before any step", id))

		return builder
	}

	parent := builder.current
	builder.Step(id, stepType, opts...)

	cond.Target = id
	parentStep := builder.stepByID(parent)
	parentStep.Conditions = append(parentStep.Conditions, cond)

	return builder
}

// Where adds an untargeted condition to the current step, gating its whole
// successor set.
func (builder *Builder) Where(field string, operator ConditionOperator, value any) *Builder {
	step := builder.stepByID(builder.current)
	if step == nil {
		builder.fail(fmt.Errorf("Where called before any step"))

		return builder
	}

	step.Conditions = append(step.Conditions, Condition{
		Field:    field,
		Operator: operator,
		Value:    value,
	})

	return builder
}

// From moves the cursor to an existing step so the next Step call branches
// off it.
func (builder *Builder) From(id string) *Builder {
	if _, exists := builder.index[id]; !exists {
		builder.fail(fmt.Errorf("From %q: step not defined", id))

		return builder
	}
	builder.current = id

	return builder
}

// Then links the current step to an already defined step, closing a
// diamond without adding a new node.
func (builder *Builder) Then(id string) *Builder {
	if _, exists := builder.index[id]; !exists {
		builder.fail(fmt.Errorf("Then %q: step not defined", id))

		return builder
	}
	if builder.current == "" {
		builder.fail(fmt.Errorf("Then %q called before any step", id))

		return builder
	}

	builder.link(builder.current, id)
	builder.current = id

	return builder
}

func (builder *Builder) Build() (*Workflow, error) {
	if builder.err != nil {
		return nil, builder.err
	}

	id := builder.id
	if id == "" {
		id = fmt.Sprintf("%s-v%d", builder.name, builder.version)
	}

	wf := &Workflow{
		ID:        id,
		TenantID:  builder.tenantID,
		Name:      builder.name,
		Version:   builder.version,
		Steps:     builder.steps,
		Variables: builder.variables,
		Settings:  builder.settings,
		CreatedAt: time.Now(),
	}

	if err := ValidateWorkflow(wf); err != nil {
		return nil, err
	}

	return wf, nil
}

func (builder *Builder) link(from, to string) {
	step := builder.stepByID(from)
	for _, next := range step.Next {
		if next == to {
			return
		}
	}
	step.Next = append(step.Next, to)
}

func (builder *Builder) stepByID(id string) *WorkflowStep {
	idx, ok := builder.index[id]
	if !ok {
		return nil
	}

	return &builder.steps[idx]
}

func (builder *Builder) fail(err error) {
	if builder.err == nil {
		builder.err = err
	}
}
