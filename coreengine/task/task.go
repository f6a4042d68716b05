// Package task implements the server-side task lifecycle: the task record,
// the per-task event queue, and the in-memory manager that owns them.
//
// Key invariants:
//   - Once a task reaches a terminal state it never changes again.
//   - Artifacts only grow before the terminal status event, never after.
//   - A task's event sequence contains exactly one terminal status event,
//     and it is always the last event a consumer observes.
//
// Tasks live only as long as the process; there is no durability layer.
package task

import (
	"errors"
	"time"

	"expertmesh/coreengine/protocol"
)

var (
	// ErrTerminalState is returned when an event arrives after the task's
	// terminal status event. Emitters racing a cancellation observe this
	// error and stop; it is not a fault.
	ErrTerminalState = errors.New("task already in terminal state")

	// ErrNotFound is returned for operations on an unknown task ID.
	ErrNotFound = errors.New("task not found")

	// ErrQueueFull is returned when a task's event queue overflows. The
	// protocol emits a handful of events per task, so this indicates a
	// misbehaving emitter rather than backpressure.
	ErrQueueFull = errors.New("task event queue full")
)

// Task is the record of one request's lifecycle. It is owned exclusively
// by the Manager that created it; callers only ever see snapshots.
type Task struct {
	ID        string
	ContextID string
	State     protocol.TaskState
	Artifacts []protocol.Artifact
	CreatedAt time.Time
	UpdatedAt time.Time
}

// apply mutates the record with one event. The caller holds the manager
// lock. Events after the terminal state are rejected.
func (t *Task) apply(ev protocol.Event) error {
	if t.State.IsTerminal() {
		return ErrTerminalState
	}

	switch ev := ev.(type) {
	case protocol.TaskStatusUpdateEvent:
		t.State = ev.Status
	case protocol.TaskArtifactUpdateEvent:
		t.Artifacts = append(t.Artifacts, ev.Artifact)
	}
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// snapshot returns a caller-safe copy.
func (t *Task) snapshot() protocol.Task {
	artifacts := make([]protocol.Artifact, len(t.Artifacts))
	copy(artifacts, t.Artifacts)

	return protocol.Task{
		TaskID:    t.ID,
		ContextID: t.ContextID,
		Status: protocol.TaskStatus{
			State:     t.State,
			Timestamp: t.UpdatedAt.Format(time.RFC3339),
		},
		Artifacts: artifacts,
	}
}
