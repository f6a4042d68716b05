// Package protocol defines the wire types exchanged between agent
// processes: messages, task snapshots, lifecycle events, and the agent
// discovery card.
//
// Field names use snake_case JSON tags to match the envelope payloads the
// agents exchange. Every event stream is scoped to one task_id/context_id
// pair and contains exactly one terminal status event, always last.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// =============================================================================
// Task States
// =============================================================================

// TaskState represents the lifecycle state of a task.
// State transitions:
//
//	submitted -> working -> (completed | failed | canceled)
type TaskState string

const (
	// TaskStateSubmitted indicates the task was accepted but not started.
	TaskStateSubmitted TaskState = "submitted"
	// TaskStateWorking indicates the responder is processing the task.
	TaskStateWorking TaskState = "working"
	// TaskStateCompleted indicates the task finished with a result.
	TaskStateCompleted TaskState = "completed"
	// TaskStateFailed indicates the responder could not produce a result.
	TaskStateFailed TaskState = "failed"
	// TaskStateCanceled indicates the task was canceled before completion.
	TaskStateCanceled TaskState = "canceled"
)

// IsTerminal returns true if this is a terminal state.
// Once a task reaches a terminal state it never changes again.
func (s TaskState) IsTerminal() bool {
	return s == TaskStateCompleted || s == TaskStateFailed || s == TaskStateCanceled
}

// TaskStatus is a task state snapshot with its transition timestamp.
type TaskStatus struct {
	State     TaskState `json:"state"`
	Timestamp string    `json:"timestamp,omitempty"`
}

// =============================================================================
// Content Parts
// =============================================================================

// PartType identifies a content part variant.
type PartType string

const (
	// PartTypeText is the only part variant this core produces.
	PartTypeText PartType = "text"
)

// Part is a closed content-part variant. A future binary part extends the
// variant set here; callers match on Type instead of probing capabilities.
type Part struct {
	Type PartType `json:"type"`
	Text string   `json:"text,omitempty"`
}

// TextPart builds a text content part.
func TextPart(text string) Part {
	return Part{Type: PartTypeText, Text: text}
}

// FirstText returns the text of the first text part. It is total over the
// variant set: unknown part types are skipped, and the second return value
// reports whether a text part was found.
func FirstText(parts []Part) (string, bool) {
	for _, p := range parts {
		if p.Type == PartTypeText {
			return p.Text, true
		}
	}
	return "", false
}

// =============================================================================
// Messages
// =============================================================================

// Role is the author role of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is the unit a caller sends to start a task. This core uses
// exactly one text part carrying the serialized conversation envelope.
type Message struct {
	MessageID string `json:"message_id"`
	ContextID string `json:"context_id,omitempty"`
	Role      Role   `json:"role"`
	Parts     []Part `json:"parts"`
}

// NewUserMessage builds a user message with one text part and a fresh
// message ID. An empty contextID leaves session threading to the server.
func NewUserMessage(contextID, text string) Message {
	return Message{
		MessageID: uuid.NewString(),
		ContextID: contextID,
		Role:      RoleUser,
		Parts:     []Part{TextPart(text)},
	}
}

// Text returns the text of the message's first text part, or "" when the
// message carries none.
func (m Message) Text() string {
	text, _ := FirstText(m.Parts)
	return text
}

// SendMessageRequest is the body of a message-send exchange.
type SendMessageRequest struct {
	Message Message `json:"message"`
}

// =============================================================================
// Artifacts
// =============================================================================

// Artifact is one produced result attached to a task. This core never
// streams partial chunks: every artifact is emitted whole with
// is_final_chunk set.
type Artifact struct {
	ArtifactID string `json:"artifact_id"`
	Parts      []Part `json:"parts"`
	LastChunk  bool   `json:"is_final_chunk"`
}

// NewTextArtifact builds a whole text artifact with a fresh ID.
func NewTextArtifact(text string) Artifact {
	return Artifact{
		ArtifactID: uuid.NewString(),
		Parts:      []Part{TextPart(text)},
		LastChunk:  true,
	}
}

// =============================================================================
// Task Snapshot
// =============================================================================

// Task is the denormalized view of one request's lifecycle: its current
// status and the artifacts accumulated so far, in emission order.
type Task struct {
	TaskID    string     `json:"task_id"`
	ContextID string     `json:"context_id"`
	Status    TaskStatus `json:"status"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// =============================================================================
// Lifecycle Events
// =============================================================================

// EventKind identifies an event variant.
type EventKind string

const (
	EventKindStatus   EventKind = "status"
	EventKindArtifact EventKind = "artifact"
)

// Event is one unit pushed through a task's event channel.
type Event interface {
	// EventKind identifies the concrete variant.
	EventKind() EventKind
	// IsTerminal reports whether this event ends the task's stream.
	IsTerminal() bool
}

// TaskStatusUpdateEvent reports a task state transition. Final marks the
// terminal event; for a given task at most one final event is ever
// emitted, and it is always the last event a consumer observes.
type TaskStatusUpdateEvent struct {
	Kind      EventKind `json:"kind"`
	TaskID    string    `json:"task_id"`
	ContextID string    `json:"context_id"`
	Status    TaskState `json:"status"`
	Final     bool      `json:"final"`
}

func (e TaskStatusUpdateEvent) EventKind() EventKind { return EventKindStatus }
func (e TaskStatusUpdateEvent) IsTerminal() bool     { return e.Final }

// TaskArtifactUpdateEvent carries one whole artifact.
type TaskArtifactUpdateEvent struct {
	Kind      EventKind `json:"kind"`
	TaskID    string    `json:"task_id"`
	ContextID string    `json:"context_id"`
	Artifact  Artifact  `json:"artifact"`
}

func (e TaskArtifactUpdateEvent) EventKind() EventKind { return EventKindArtifact }
func (e TaskArtifactUpdateEvent) IsTerminal() bool     { return false }

// NewStatusEvent builds a status update event.
func NewStatusEvent(taskID, contextID string, state TaskState, final bool) TaskStatusUpdateEvent {
	return TaskStatusUpdateEvent{
		Kind:      EventKindStatus,
		TaskID:    taskID,
		ContextID: contextID,
		Status:    state,
		Final:     final,
	}
}

// NewArtifactEvent builds an artifact update event.
func NewArtifactEvent(taskID, contextID string, artifact Artifact) TaskArtifactUpdateEvent {
	return TaskArtifactUpdateEvent{
		Kind:      EventKindArtifact,
		TaskID:    taskID,
		ContextID: contextID,
		Artifact:  artifact,
	}
}

// UnmarshalEvent decodes a wire event by its kind discriminator.
func UnmarshalEvent(data []byte) (Event, error) {
	var probe struct {
		Kind EventKind `json:"kind"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	switch probe.Kind {
	case EventKindStatus:
		var ev TaskStatusUpdateEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode status event: %w", err)
		}
		return ev, nil
	case EventKindArtifact:
		var ev TaskArtifactUpdateEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode artifact event: %w", err)
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", probe.Kind)
	}
}
