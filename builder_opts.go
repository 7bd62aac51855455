package stepflow

import (
	"time"
)

type WorkflowOption func(builder *Builder)

func WithWorkflowID(id string) WorkflowOption {
	return func(builder *Builder) {
		builder.id = id
	}
}

func WithTenant(tenantID string) WorkflowOption {
	return func(builder *Builder) {
		builder.tenantID = tenantID
	}
}

func WithVersion(version int) WorkflowOption {
	return func(builder *Builder) {
		builder.version = version
	}
}

func WithParallelExecution() WorkflowOption {
	return func(builder *Builder) {
		builder.settings.ParallelExecution = true
	}
}

func WithRequireApproval() WorkflowOption {
	return func(builder *Builder) {
		builder.settings.RequireApproval = true
	}
}

func WithNotifyOnCompletion() WorkflowOption {
	return func(builder *Builder) {
		builder.settings.NotifyOnCompletion = true
	}
}

// WithGlobalTimeout sets the per-step timeout applied to every step that
// does not declare its own.
func WithGlobalTimeout(timeout time.Duration) WorkflowOption {
	return func(builder *Builder) {
		builder.settings.Timeout = timeout
	}
}

func WithVariable(name, varType string, defaultValue any) WorkflowOption {
	return func(builder *Builder) {
		builder.variables = append(builder.variables, WorkflowVariable{
			Name:    name,
			Type:    varType,
			Default: defaultValue,
		})
	}
}

type StepOption func(step *WorkflowStep)

func WithStepName(name string) StepOption {
	return func(step *WorkflowStep) {
		step.Name = name
	}
}

func WithStepConfig(config map[string]any) StepOption {
	return func(step *WorkflowStep) {
		step.Config = config
	}
}

func WithStepTimeout(timeout time.Duration) StepOption {
	return func(step *WorkflowStep) {
		step.Timeout = timeout
	}
}
