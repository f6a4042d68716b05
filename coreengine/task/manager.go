package task

import (
	"time"

	"sync"

	"github.com/google/uuid"

	"expertmesh/coreengine/protocol"
)

// Manager owns every live task in the process. Each task's record is
// mutated only through Apply, so per-task state needs no locking beyond
// the manager's own map guard.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	task  *Task
	queue *EventQueue
}

// NewManager creates an empty task manager.
func NewManager() *Manager {
	return &Manager{
		entries: make(map[string]*entry),
	}
}

// Create registers a new task in the submitted state and returns its
// snapshot together with the event queue the responder will emit on.
// An empty contextID gets a fresh server-assigned one.
func (m *Manager) Create(contextID string) (protocol.Task, *EventQueue) {
	if contextID == "" {
		contextID = uuid.NewString()
	}
	now := time.Now().UTC()
	t := &Task{
		ID:        uuid.NewString(),
		ContextID: contextID,
		State:     protocol.TaskStateSubmitted,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.entries[t.ID] = &entry{task: t, queue: NewEventQueue()}
	snap := t.snapshot()
	queue := m.entries[t.ID].queue
	m.mu.Unlock()

	return snap, queue
}

// Get returns a snapshot of the task, if known.
func (m *Manager) Get(taskID string) (protocol.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[taskID]
	if !ok {
		return protocol.Task{}, false
	}
	return e.task.snapshot(), true
}

// Apply records one event against the task. Events after the terminal
// status return ErrTerminalState; consumers forwarding a stream treat
// that as already-applied and ignore it.
func (m *Manager) Apply(taskID string, ev protocol.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[taskID]
	if !ok {
		return ErrNotFound
	}
	return e.task.apply(ev)
}

// Cancel requests cancellation of a task. Cancellation is advisory: it
// enqueues a canceled terminal event, and an in-flight responder that has
// already enqueued its own terminal event wins the race. Cancel after
// completion is a no-op from the caller's perspective; the returned
// snapshot shows the settled state.
func (m *Manager) Cancel(taskID string) (protocol.Task, error) {
	m.mu.Lock()
	e, ok := m.entries[taskID]
	m.mu.Unlock()
	if !ok {
		return protocol.Task{}, ErrNotFound
	}

	ev := protocol.NewStatusEvent(e.task.ID, e.task.ContextID, protocol.TaskStateCanceled, true)
	if err := e.queue.Enqueue(ev); err == nil {
		// Reflect the cancellation immediately; the stream consumer's
		// later Apply of the same event lands on a terminal record and
		// is ignored.
		_ = m.Apply(taskID, ev)
	}

	snap, _ := m.Get(taskID)
	return snap, nil
}
