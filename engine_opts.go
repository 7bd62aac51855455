package stepflow

import (
	"log/slog"
	"time"
)

type EngineOption func(engine *Engine)

func WithTracker(tracker ExecutionTracker) EngineOption {
	return func(engine *Engine) {
		engine.tracker = tracker
	}
}

func WithWorkflowRepository(repository WorkflowRepository) EngineOption {
	return func(engine *Engine) {
		engine.repository = repository
	}
}

func WithRegistry(registry *ExecutorRegistry) EngineOption {
	return func(engine *Engine) {
		engine.registry = registry
	}
}

func WithEventBus(bus *EventBus) EngineOption {
	return func(engine *Engine) {
		engine.bus = bus
	}
}

func WithLogger(logger *slog.Logger) EngineOption {
	return func(engine *Engine) {
		engine.logger = logger
	}
}

// WithIntegrationService wires the collaborator behind integration steps
// into the default registry.
func WithIntegrationService(service IntegrationService) EngineOption {
	return func(engine *Engine) {
		engine.integrations = service
	}
}

// WithDefaultStepTimeout overrides the 300-second fallback used when
// neither the step nor the workflow settings declare a timeout.
func WithDefaultStepTimeout(timeout time.Duration) EngineOption {
	return func(engine *Engine) {
		if timeout > 0 {
			engine.stepTimeout = timeout
		}
	}
}

// WithRetryBaseDelay sets the base for the exponential backoff between
// whole-workflow retries (delay = base * 2^retryCount).
func WithRetryBaseDelay(delay time.Duration) EngineOption {
	return func(engine *Engine) {
		if delay > 0 {
			engine.retryBaseDelay = delay
		}
	}
}

// WithEvictionGrace sets how long terminal executions stay in the live
// map before being evicted; zero disables eviction.
func WithEvictionGrace(grace time.Duration) EngineOption {
	return func(engine *Engine) {
		engine.evictionGrace = grace
	}
}
