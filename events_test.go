package stepflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBusTypedSubscription(t *testing.T) {
	bus := NewEventBus()

	var started, completed int
	bus.Subscribe(EventStepStarted, func(Event) { started++ })
	bus.Subscribe(EventStepCompleted, func(Event) { completed++ })

	bus.Publish(Event{Type: EventStepStarted})
	bus.Publish(Event{Type: EventStepStarted})
	bus.Publish(Event{Type: EventStepCompleted})

	assert.Equal(t, 2, started)
	assert.Equal(t, 1, completed)
}

func TestEventBusSubscribeAll(t *testing.T) {
	bus := NewEventBus()

	var seen []EventType
	bus.SubscribeAll(func(event Event) { seen = append(seen, event.Type) })

	bus.Publish(Event{Type: EventWorkflowStarted})
	bus.Publish(Event{Type: EventWorkflowCompleted})

	assert.Equal(t, []EventType{EventWorkflowStarted, EventWorkflowCompleted}, seen)
}

func TestEventBusTimestampDefaulted(t *testing.T) {
	bus := NewEventBus()

	var got Event
	bus.Subscribe(EventWorkflowStarted, func(event Event) { got = event })

	bus.Publish(Event{Type: EventWorkflowStarted})
	assert.False(t, got.Timestamp.IsZero())
}

func TestEventBusHandlerPanicIsIsolated(t *testing.T) {
	bus := NewEventBus()

	var after int
	bus.Subscribe(EventWorkflowFailed, func(Event) { panic("bad handler") })
	bus.Subscribe(EventWorkflowFailed, func(Event) { after++ })

	assert.NotPanics(t, func() {
		bus.Publish(Event{Type: EventWorkflowFailed})
	})
	assert.Equal(t, 1, after, "handlers after the panicking one still run")
}
