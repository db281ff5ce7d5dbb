// Package event defines the event stream exposed to observers and the bus
// that carries it. Rendering (UI, log files, status bars) is a pure consumer
// of these events; delivery is fire-and-forget and a missed render is not a
// correctness issue.
package event

import (
	"time"

	"artistbatch/internal/sentinel"
)

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "task.started", "session.state").
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// Source identifies which supervised process emitted an output line.
type Source string

const (
	SourceService Source = "service"
	SourceWorker  Source = "worker"
)

// LogEvent carries one raw output line from a supervised process, tagged
// with its origin and a severity derived from the line's keywords. Every
// line is re-emitted as a LogEvent regardless of whether it matched a
// sentinel rule.
type LogEvent struct {
	baseEvent
	Source   Source
	Severity sentinel.Severity
	Text     string
}

// NewLogEvent creates a LogEvent.
func NewLogEvent(source Source, severity sentinel.Severity, text string) LogEvent {
	return LogEvent{
		baseEvent: newBaseEvent("process.line"),
		Source:    source,
		Severity:  severity,
		Text:      text,
	}
}

// StatusEvent carries a human-readable status update from the engine:
// retries, delays, budget stops, cleanup notices. Emitted before any delay
// begins so an observer always sees why the system is waiting.
type StatusEvent struct {
	baseEvent
	Text string
}

// NewStatusEvent creates a StatusEvent.
func NewStatusEvent(text string) StatusEvent {
	return StatusEvent{
		baseEvent: newBaseEvent("session.status"),
		Text:      text,
	}
}

// TaskStartedEvent is emitted when the controller hands a task to the
// supervisor.
type TaskStartedEvent struct {
	baseEvent
	TaskID string
}

// NewTaskStartedEvent creates a TaskStartedEvent.
func NewTaskStartedEvent(taskID string) TaskStartedEvent {
	return TaskStartedEvent{
		baseEvent: newBaseEvent("task.started"),
		TaskID:    taskID,
	}
}

// TaskFinishedEvent is emitted once per attempt with the resolved outcome.
// Units is the metric contribution of the task (zero unless the attempt
// succeeded and the metadata store knew the task).
type TaskFinishedEvent struct {
	baseEvent
	TaskID  string
	Outcome string
	Reason  string
	Units   int
}

// NewTaskFinishedEvent creates a TaskFinishedEvent.
func NewTaskFinishedEvent(taskID, outcome, reason string, units int) TaskFinishedEvent {
	return TaskFinishedEvent{
		baseEvent: newBaseEvent("task.finished"),
		TaskID:    taskID,
		Outcome:   outcome,
		Reason:    reason,
		Units:     units,
	}
}

// SessionStateEvent is emitted on every controller state transition.
type SessionStateEvent struct {
	baseEvent
	From string
	To   string
}

// NewSessionStateEvent creates a SessionStateEvent.
func NewSessionStateEvent(from, to string) SessionStateEvent {
	return SessionStateEvent{
		baseEvent: newBaseEvent("session.state"),
		From:      from,
		To:        to,
	}
}
