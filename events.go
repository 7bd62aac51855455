package stepflow

import (
	"log/slog"
	"sync"
	"time"
)

type EventType string

const (
	EventWorkflowStarted    EventType = "workflow.started"
	EventWorkflowCompleted  EventType = "workflow.completed"
	EventWorkflowFailed     EventType = "workflow.failed"
	EventStepStarted        EventType = "step.started"
	EventStepCompleted      EventType = "step.completed"
	EventStepFailed         EventType = "step.failed"
	EventApprovalRequested  EventType = "approval.requested"
	EventApprovalSubmitted  EventType = "approval.submitted"
	EventExecutionCancelled EventType = "execution.cancelled"
)

// Event is a lifecycle notification. Execution is a snapshot taken at
// emission time; handlers can hold on to it without racing the engine.
type Event struct {
	Type      EventType          `json:"type"`
	Workflow  *Workflow          `json:"workflow,omitempty"`
	Execution *WorkflowExecution `json:"execution,omitempty"`
	Step      *WorkflowStep      `json:"step,omitempty"`
	Approval  *Approval          `json:"approval,omitempty"`
	Err       *ExecutionError    `json:"error,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

type EventHandler func(event Event)

// EventBus is a typed publish/subscribe channel per event name. Dispatch is
// fire-and-forget: a panicking handler is recovered and logged, never
// allowed back into the engine's traversal.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]EventHandler
	all      []EventHandler
	logger   *slog.Logger
}

func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]EventHandler),
		logger:   slog.Default(),
	}
}

func (bus *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.handlers[eventType] = append(bus.handlers[eventType], handler)
}

// SubscribeAll registers a handler for every event name.
func (bus *EventBus) SubscribeAll(handler EventHandler) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.all = append(bus.all, handler)
}

func (bus *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	bus.mu.RLock()
	handlers := make([]EventHandler, 0, len(bus.handlers[event.Type])+len(bus.all))
	handlers = append(handlers, bus.handlers[event.Type]...)
	handlers = append(handlers, bus.all...)
	bus.mu.RUnlock()

	for _, handler := range handlers {
		bus.dispatch(handler, event)
	}
}

func (bus *EventBus) dispatch(handler EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			bus.logger.Error("[stepflow] event handler panic",
				"event", event.Type, "panic", r)
		}
	}()

	handler(event)
}
