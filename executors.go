package stepflow

import (
	"context"
	"fmt"
	"time"
)

// IntegrationService is the external collaborator behind integration steps.
type IntegrationService interface {
	ExecuteIntegration(ctx context.Context, config map[string]any, data map[string]any) (map[string]any, error)
}

// DataEntryExecutor seeds the data bag with the field defaults declared in
// the step config. The real form-capture flow lives outside the engine;
// this executor only materializes its outcome.
type DataEntryExecutor struct{}

func (e *DataEntryExecutor) Execute(_ context.Context, step *WorkflowStep, execution *WorkflowExecution) error {
	var cfg struct {
		Fields map[string]any `json:"fields"`
	}
	if err := decodeConfig(step.Config, &cfg); err != nil {
		return fmt.Errorf("data-entry step %s: %w", step.ID, err)
	}

	for name, value := range cfg.Fields {
		if _, exists := execution.Data.Get(name); !exists {
			execution.Data.Set(name, value)
		}
	}
	execution.Data.Set(step.ID+"_entered_at", time.Now().Format(time.RFC3339))

	return nil
}

// DocumentGenExecutor records a document reference produced from the
// configured template. Rendering is a collaborator concern.
type DocumentGenExecutor struct{}

func (e *DocumentGenExecutor) Execute(_ context.Context, step *WorkflowStep, execution *WorkflowExecution) error {
	var cfg struct {
		Template string `json:"template"`
		Format   string `json:"format"`
	}
	if err := decodeConfig(step.Config, &cfg); err != nil {
		return fmt.Errorf("document-gen step %s: %w", step.ID, err)
	}

	format := cfg.Format
	if format == "" {
		format = "pdf"
	}

	execution.Data.Set(step.ID+"_document", map[string]any{
		"template":     cfg.Template,
		"format":       format,
		"generated_at": time.Now().Format(time.RFC3339),
	})

	return nil
}

// DecisionExecutor evaluates the step's own conditions against the current
// data and records the outcome; branching itself is next-step resolution.
type DecisionExecutor struct{}

func (e *DecisionExecutor) Execute(_ context.Context, step *WorkflowStep, execution *WorkflowExecution) error {
	data := execution.Data.Snapshot()

	outcome := make(map[string]bool, len(step.Conditions))
	for _, cond := range step.Conditions {
		key := cond.Field + " " + string(cond.Operator)
		outcome[key] = EvaluateCondition(cond, data)
	}

	execution.Data.Set(step.ID+"_decision", outcome)

	return nil
}

// IntegrationExecutor delegates to the IntegrationService collaborator and
// merges the result into the data bag.
type IntegrationExecutor struct {
	Service IntegrationService
}

func (e *IntegrationExecutor) Execute(ctx context.Context, step *WorkflowStep, execution *WorkflowExecution) error {
	if e.Service == nil {
		return fmt.Errorf("integration step %s: no integration service configured", step.ID)
	}

	result, err := e.Service.ExecuteIntegration(ctx, step.Config, execution.Data.Snapshot())
	if err != nil {
		return fmt.Errorf("integration step %s: %w", step.ID, err)
	}

	execution.Data.Merge(result)

	return nil
}

// NotificationExecutor records the notification that an external delivery
// channel would send. Sender, when set, performs the actual delivery.
type NotificationExecutor struct {
	Sender func(ctx context.Context, channel string, recipients []string, data map[string]any) error
}

func (e *NotificationExecutor) Execute(ctx context.Context, step *WorkflowStep, execution *WorkflowExecution) error {
	var cfg struct {
		Channel    string   `json:"channel"`
		Recipients []string `json:"recipients"`
	}
	if err := decodeConfig(step.Config, &cfg); err != nil {
		return fmt.Errorf("notification step %s: %w", step.ID, err)
	}

	if cfg.Channel == "" {
		cfg.Channel = "email"
	}

	if e.Sender != nil {
		if err := e.Sender(ctx, cfg.Channel, cfg.Recipients, execution.Data.Snapshot()); err != nil {
			return fmt.Errorf("notification step %s: %w", step.ID, err)
		}
	}

	execution.Data.Set(step.ID+"_notified", map[string]any{
		"channel":    cfg.Channel,
		"recipients": cfg.Recipients,
		"sent_at":    time.Now().Format(time.RFC3339),
	})

	return nil
}
