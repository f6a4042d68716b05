// Package commbus message definitions.
//
// Categories:
//   - EVENT: fire-and-forget, fan-out to subscribers
//   - QUERY: request-response, single handler
//   - COMMAND: fire-and-forget, single handler
package commbus

// MessageCategory represents message routing categories.
type MessageCategory string

const (
	// MessageCategoryEvent represents fire-and-forget, fan-out to all subscribers.
	MessageCategoryEvent MessageCategory = "event"
	// MessageCategoryQuery represents request-response, single handler.
	MessageCategoryQuery MessageCategory = "query"
	// MessageCategoryCommand represents fire-and-forget, single handler.
	MessageCategoryCommand MessageCategory = "command"
)

// =============================================================================
// TASK LIFECYCLE EVENTS
// =============================================================================

// TaskSubmitted is emitted when the endpoint accepts a new task.
// Subscribers: telemetry, trace logging.
type TaskSubmitted struct {
	TaskID    string `json:"task_id"`
	ContextID string `json:"context_id"`
	AgentName string `json:"agent_name"`
}

// Category implements the Message interface.
func (m *TaskSubmitted) Category() string { return string(MessageCategoryEvent) }

// TaskFinished is emitted when a task reaches a terminal state.
// Subscribers: telemetry, trace logging.
type TaskFinished struct {
	TaskID     string  `json:"task_id"`
	ContextID  string  `json:"context_id"`
	AgentName  string  `json:"agent_name"`
	State      string  `json:"state"` // "completed", "failed", "canceled"
	DurationMS int     `json:"duration_ms"`
	Error      *string `json:"error,omitempty"`
}

// Category implements the Message interface.
func (m *TaskFinished) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// DELEGATION EVENTS
// =============================================================================

// DelegationCompleted is emitted by the manager after a delegation
// round trip, successful or not.
type DelegationCompleted struct {
	TaskID     string  `json:"task_id"`
	Label      string  `json:"label"`
	Endpoint   string  `json:"endpoint"`
	Status     string  `json:"status"` // "success", "error"
	DurationMS int     `json:"duration_ms"`
	Error      *string `json:"error,omitempty"`
}

// Category implements the Message interface.
func (m *DelegationCompleted) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// QUERIES
// =============================================================================

// GetTaskSnapshot requests the current snapshot of a task by ID.
// Handler: the endpoint's task manager adapter.
type GetTaskSnapshot struct {
	TaskID string `json:"task_id"`
}

// Category implements the Message interface.
func (m *GetTaskSnapshot) Category() string { return string(MessageCategoryQuery) }

// IsQuery implements the Query interface.
func (m *GetTaskSnapshot) IsQuery() {}

// =============================================================================
// MESSAGE TYPE RESOLUTION
// =============================================================================

// TypedMessage lets a message declare its own type name.
type TypedMessage interface {
	MessageType() string
}

// GetMessageType resolves the routing key for a message.
func GetMessageType(msg Message) string {
	if typed, ok := msg.(TypedMessage); ok {
		return typed.MessageType()
	}

	switch msg.(type) {
	case *TaskSubmitted:
		return "TaskSubmitted"
	case *TaskFinished:
		return "TaskFinished"
	case *DelegationCompleted:
		return "DelegationCompleted"
	case *GetTaskSnapshot:
		return "GetTaskSnapshot"
	default:
		return "Unknown"
	}
}
