// Package testutil provides shared test doubles for the coreengine
// packages: a scripted completion client, a recording logger, and
// helpers for draining task event queues.
package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"expertmesh/coreengine/agents"
	"expertmesh/coreengine/protocol"
	"expertmesh/coreengine/task"
)

// =============================================================================
// MOCK COMPLETION CLIENT
// =============================================================================

// MockCompletionClient implements agents.CompletionClient for testing.
// Configure responses keyed by a substring of the last user message, or
// set DefaultResponse for everything else.
type MockCompletionClient struct {
	// Responses maps substrings of the final user message to answers.
	// First matching entry wins; iteration order follows insertion via
	// WithResponse.
	Responses map[string]string

	// keys preserves WithResponse insertion order for deterministic
	// matching.
	keys []string

	// DefaultResponse is returned when no substring matches.
	DefaultResponse string

	// Delay simulates completion-service latency.
	Delay time.Duration

	// Err causes Complete to return this error.
	Err error

	// CallCount tracks the number of Complete calls.
	CallCount int

	// Calls records all requests for assertion.
	Calls []agents.CompletionRequest

	// CompleteFunc allows custom logic. If set, it is called instead of
	// the Responses table.
	CompleteFunc func(context.Context, agents.CompletionRequest) (string, error)

	mu sync.Mutex
}

// NewMockCompletionClient creates a mock with a recognizable default
// answer.
func NewMockCompletionClient() *MockCompletionClient {
	return &MockCompletionClient{
		Responses:       make(map[string]string),
		DefaultResponse: "mock answer",
	}
}

// Complete implements agents.CompletionClient.
func (m *MockCompletionClient) Complete(ctx context.Context, req agents.CompletionRequest) (string, error) {
	m.mu.Lock()
	m.CallCount++
	m.Calls = append(m.Calls, req)
	customFunc := m.CompleteFunc
	m.mu.Unlock()

	if customFunc != nil {
		return customFunc(ctx, req)
	}

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if m.Err != nil {
		return "", m.Err
	}

	prompt := lastUserContent(req.Messages)
	for _, key := range m.keys {
		if strings.Contains(prompt, key) {
			return m.Responses[key], nil
		}
	}
	return m.DefaultResponse, nil
}

// WithResponse registers an answer for prompts containing substr.
func (m *MockCompletionClient) WithResponse(substr, response string) *MockCompletionClient {
	if _, ok := m.Responses[substr]; !ok {
		m.keys = append(m.keys, substr)
	}
	m.Responses[substr] = response
	return m
}

// WithError configures the mock to fail every call.
func (m *MockCompletionClient) WithError(err error) *MockCompletionClient {
	m.Err = err
	return m
}

// WithDelay adds latency simulation.
func (m *MockCompletionClient) WithDelay(d time.Duration) *MockCompletionClient {
	m.Delay = d
	return m
}

// GetCallCount returns the number of calls (thread-safe).
func (m *MockCompletionClient) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// LastCall returns the most recent request, or false when none were made.
func (m *MockCompletionClient) LastCall() (agents.CompletionRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return agents.CompletionRequest{}, false
	}
	return m.Calls[len(m.Calls)-1], true
}

func lastUserContent(msgs []agents.ChatMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == agents.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

var _ agents.CompletionClient = (*MockCompletionClient)(nil)

// =============================================================================
// RECORDING LOGGER
// =============================================================================

// LogEntry is one recorded logger call.
type LogEntry struct {
	Level  string
	Msg    string
	Fields []any
}

// RecordingLogger implements agents.Logger and records every call.
type RecordingLogger struct {
	mu      sync.Mutex
	Entries []LogEntry
}

// NewRecordingLogger creates an empty recording logger.
func NewRecordingLogger() *RecordingLogger {
	return &RecordingLogger{}
}

func (l *RecordingLogger) log(level, msg string, fields []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Entries = append(l.Entries, LogEntry{Level: level, Msg: msg, Fields: fields})
}

func (l *RecordingLogger) Debug(msg string, fields ...any) { l.log("debug", msg, fields) }
func (l *RecordingLogger) Info(msg string, fields ...any)  { l.log("info", msg, fields) }
func (l *RecordingLogger) Warn(msg string, fields ...any)  { l.log("warn", msg, fields) }
func (l *RecordingLogger) Error(msg string, fields ...any) { l.log("error", msg, fields) }

// Has reports whether a message was logged at the given level.
func (l *RecordingLogger) Has(level, msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.Entries {
		if e.Level == level && e.Msg == msg {
			return true
		}
	}
	return false
}

var _ agents.Logger = (*RecordingLogger)(nil)

// =============================================================================
// EVENT QUEUE HELPERS
// =============================================================================

// DrainQueue reads events from the queue until the channel closes or the
// timeout elapses, returning everything observed in order.
func DrainQueue(q *task.EventQueue, timeout time.Duration) []protocol.Event {
	deadline := time.After(timeout)
	var events []protocol.Event
	for {
		select {
		case ev, ok := <-q.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			return events
		}
	}
}

// States extracts the status sequence from a drained event slice,
// skipping artifact events.
func States(events []protocol.Event) []protocol.TaskState {
	var states []protocol.TaskState
	for _, ev := range events {
		if st, ok := ev.(protocol.TaskStatusUpdateEvent); ok {
			states = append(states, st.Status)
		}
	}
	return states
}

// ArtifactTexts extracts the text of every artifact event, in order.
func ArtifactTexts(events []protocol.Event) []string {
	var texts []string
	for _, ev := range events {
		if ae, ok := ev.(protocol.TaskArtifactUpdateEvent); ok {
			if text, ok := protocol.FirstText(ae.Artifact.Parts); ok {
				texts = append(texts, text)
			}
		}
	}
	return texts
}
