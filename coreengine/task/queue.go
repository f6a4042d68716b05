package task

import (
	"sync"

	"expertmesh/coreengine/protocol"
)

// defaultQueueDepth is far above the protocol's short event lifecycle;
// a full queue means an emitter is looping, not that a consumer is slow.
const defaultQueueDepth = 16

// EventQueue is the ordered, append-only event channel for one task.
//
// The queue is where the cancel/complete race becomes explicit: whichever
// terminal status event is enqueued first wins, the channel closes, and
// the losing emitter observes ErrTerminalState. Consumers reading to
// completion therefore see exactly one terminal event, positionally last.
type EventQueue struct {
	mu       sync.Mutex
	ch       chan protocol.Event
	terminal bool
}

// NewEventQueue creates an event queue for one task.
func NewEventQueue() *EventQueue {
	return &EventQueue{
		ch: make(chan protocol.Event, defaultQueueDepth),
	}
}

// Enqueue appends one event. After a terminal status event has been
// accepted, all further writes fail with ErrTerminalState.
//
// The last buffer slot is reserved for the terminal event: a consumer
// ranging the channel must always reach the close, so the terminal
// event can never be the one turned away with ErrQueueFull.
func (q *EventQueue) Enqueue(ev protocol.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.terminal {
		return ErrTerminalState
	}

	if !ev.IsTerminal() && len(q.ch) >= cap(q.ch)-1 {
		return ErrQueueFull
	}

	select {
	case q.ch <- ev:
	default:
		return ErrQueueFull
	}

	if ev.IsTerminal() {
		q.terminal = true
		close(q.ch)
	}
	return nil
}

// Events returns the receive side of the queue. The channel preserves
// emission order and is closed after the terminal status event is
// delivered.
func (q *EventQueue) Events() <-chan protocol.Event {
	return q.ch
}

// Terminated reports whether the terminal status event has been enqueued.
func (q *EventQueue) Terminated() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.terminal
}
