package runtime_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expertmesh/commbus"
	"expertmesh/coreengine/agents"
	"expertmesh/coreengine/envelope"
	"expertmesh/coreengine/protocol"
	"expertmesh/coreengine/routing"
	"expertmesh/coreengine/runtime"
	"expertmesh/coreengine/task"
	"expertmesh/coreengine/testutil"
)

// stubDelegator scripts delegation outcomes per endpoint.
type stubDelegator struct {
	mu       sync.Mutex
	answer   string
	err      error
	asked    []string
	messages []protocol.Message
}

func (d *stubDelegator) Ask(ctx context.Context, endpoint string, msg protocol.Message) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.asked = append(d.asked, endpoint)
	d.messages = append(d.messages, msg)
	return d.answer, d.err
}

func testRegistry() runtime.Registry {
	return runtime.Registry{
		routing.LabelTech:   "http://localhost:8001",
		routing.LabelHR:     "http://localhost:8000",
		routing.LabelDesign: "http://localhost:8003",
	}
}

func newPipeline(t *testing.T, classifierOutput string, delegate runtime.Delegator) *runtime.ManagerPipeline {
	t.Helper()
	llm := testutil.NewMockCompletionClient()
	llm.DefaultResponse = classifierOutput

	router, err := routing.NewEngine(routing.Config{Model: "test-model"}, llm, testutil.NewRecordingLogger())
	require.NoError(t, err)

	pipeline, err := runtime.NewManagerPipeline(router, delegate, testRegistry(), nil, testutil.NewRecordingLogger())
	require.NoError(t, err)
	return pipeline
}

// =============================================================================
// CONSTRUCTION TESTS
// =============================================================================

func TestNewManagerPipelineRequiresFullRegistry(t *testing.T) {
	llm := testutil.NewMockCompletionClient()
	router, err := routing.NewEngine(routing.Config{}, llm, testutil.NewRecordingLogger())
	require.NoError(t, err)

	registry := testRegistry()
	delete(registry, routing.LabelDesign)

	_, err = runtime.NewManagerPipeline(router, &stubDelegator{}, registry, nil, testutil.NewRecordingLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DESIGN")
}

// =============================================================================
// PIPELINE TESTS
// =============================================================================

func TestExecuteHappyPath(t *testing.T) {
	delegate := &stubDelegator{answer: "Use PostgreSQL."}
	pipeline := newPipeline(t, "TECH", delegate)

	queue := task.NewEventQueue()
	rc := agents.RequestContext{TaskID: "t1", ContextID: "c1", Input: "What database should I use?"}
	require.NoError(t, pipeline.Execute(context.Background(), rc, queue))

	events := testutil.DrainQueue(queue, time.Second)
	assert.Equal(t, []protocol.TaskState{protocol.TaskStateWorking, protocol.TaskStateCompleted}, testutil.States(events))

	texts := testutil.ArtifactTexts(events)
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "MULTI-AGENT RESPONSE REPORT")
	assert.Contains(t, texts[0], "Question routed to: Tech Expert")
	assert.Contains(t, texts[0], "Use PostgreSQL.")

	// Delegated to the endpoint registered for TECH.
	require.Len(t, delegate.asked, 1)
	assert.Equal(t, "http://localhost:8001", delegate.asked[0])
}

func TestExecuteForwardsEnvelope(t *testing.T) {
	delegate := &stubDelegator{answer: "answer"}
	pipeline := newPipeline(t, "HR", delegate)

	payload, err := envelope.Encode("follow-up question", []envelope.Turn{
		{Role: "user", Content: "original question"},
		{Role: "assistant", Content: "original answer"},
	})
	require.NoError(t, err)

	queue := task.NewEventQueue()
	rc := agents.RequestContext{TaskID: "t1", ContextID: "c1", Input: payload}
	require.NoError(t, pipeline.Execute(context.Background(), rc, queue))

	// The delegated message carries the re-encoded envelope, so the
	// expert sees the same history the manager saw.
	require.Len(t, delegate.messages, 1)
	question, history := envelope.Decode(delegate.messages[0].Text())
	assert.Equal(t, "follow-up question", question)
	require.Len(t, history, 2)
	assert.Equal(t, "original question", history[0].Content)
	assert.Equal(t, "c1", delegate.messages[0].ContextID)
}

func TestExecuteDelegationFailureStillCompletes(t *testing.T) {
	delegate := &stubDelegator{err: errors.New("connection refused")}
	pipeline := newPipeline(t, "DESIGN", delegate)

	queue := task.NewEventQueue()
	rc := agents.RequestContext{TaskID: "t1", ContextID: "c1", Input: "How do I pick a color palette?"}
	require.NoError(t, pipeline.Execute(context.Background(), rc, queue))

	events := testutil.DrainQueue(queue, time.Second)
	assert.Equal(t, []protocol.TaskState{protocol.TaskStateWorking, protocol.TaskStateCompleted}, testutil.States(events))

	texts := testutil.ArtifactTexts(events)
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "No result from Design Expert.")
}

func TestExecuteClassificationFailureFailsTask(t *testing.T) {
	llm := testutil.NewMockCompletionClient().WithError(errors.New("service down"))
	router, err := routing.NewEngine(routing.Config{}, llm, testutil.NewRecordingLogger())
	require.NoError(t, err)

	delegate := &stubDelegator{}
	pipeline, err := runtime.NewManagerPipeline(router, delegate, testRegistry(), nil, testutil.NewRecordingLogger())
	require.NoError(t, err)

	queue := task.NewEventQueue()
	rc := agents.RequestContext{TaskID: "t1", ContextID: "c1", Input: "question"}
	err = pipeline.Execute(context.Background(), rc, queue)
	assert.ErrorIs(t, err, routing.ErrServiceUnavailable)

	events := testutil.DrainQueue(queue, time.Second)
	assert.Equal(t, []protocol.TaskState{protocol.TaskStateWorking, protocol.TaskStateFailed}, testutil.States(events))
	assert.Empty(t, testutil.ArtifactTexts(events))
	assert.Empty(t, delegate.asked)
}

func TestExecuteAfterCancellation(t *testing.T) {
	delegate := &stubDelegator{answer: "answer"}
	pipeline := newPipeline(t, "TECH", delegate)

	queue := task.NewEventQueue()
	require.NoError(t, queue.Enqueue(protocol.NewStatusEvent("t1", "c1", protocol.TaskStateCanceled, true)))

	rc := agents.RequestContext{TaskID: "t1", ContextID: "c1", Input: "question"}
	require.NoError(t, pipeline.Execute(context.Background(), rc, queue))

	// No delegation happened; the terminal canceled event already won.
	assert.Empty(t, delegate.asked)
}

// =============================================================================
// BUS NOTIFICATION TESTS
// =============================================================================

func newBusPipeline(t *testing.T, classifierOutput string, delegate runtime.Delegator, bus commbus.CommBus) *runtime.ManagerPipeline {
	t.Helper()
	llm := testutil.NewMockCompletionClient()
	llm.DefaultResponse = classifierOutput

	router, err := routing.NewEngine(routing.Config{Model: "test-model"}, llm, testutil.NewRecordingLogger())
	require.NoError(t, err)

	pipeline, err := runtime.NewManagerPipeline(router, delegate, testRegistry(), bus, testutil.NewRecordingLogger())
	require.NoError(t, err)
	return pipeline
}

func TestExecutePublishesDelegationOutcome(t *testing.T) {
	bus := commbus.NewInMemoryCommBus(time.Second)
	var mu sync.Mutex
	var seen []*commbus.DelegationCompleted
	bus.Subscribe("DelegationCompleted", func(ctx context.Context, msg commbus.Message) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, msg.(*commbus.DelegationCompleted))
		return nil, nil
	})

	pipeline := newBusPipeline(t, "TECH", &stubDelegator{answer: "Use PostgreSQL."}, bus)

	queue := task.NewEventQueue()
	rc := agents.RequestContext{TaskID: "t1", ContextID: "c1", Input: "What database should I use?"}
	require.NoError(t, pipeline.Execute(context.Background(), rc, queue))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	assert.Equal(t, "t1", seen[0].TaskID)
	assert.Equal(t, "TECH", seen[0].Label)
	assert.Equal(t, "http://localhost:8001", seen[0].Endpoint)
	assert.Equal(t, "success", seen[0].Status)
	assert.Nil(t, seen[0].Error)
}

func TestExecutePublishesDelegationFailure(t *testing.T) {
	bus := commbus.NewInMemoryCommBus(time.Second)
	var mu sync.Mutex
	var seen []*commbus.DelegationCompleted
	bus.Subscribe("DelegationCompleted", func(ctx context.Context, msg commbus.Message) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, msg.(*commbus.DelegationCompleted))
		return nil, nil
	})

	pipeline := newBusPipeline(t, "DESIGN", &stubDelegator{err: errors.New("connection refused")}, bus)

	queue := task.NewEventQueue()
	rc := agents.RequestContext{TaskID: "t2", ContextID: "c1", Input: "How do I pick a color palette?"}
	require.NoError(t, pipeline.Execute(context.Background(), rc, queue))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	assert.Equal(t, "error", seen[0].Status)
	require.NotNil(t, seen[0].Error)
	assert.Contains(t, *seen[0].Error, "connection refused")
}

// =============================================================================
// REPORT TESTS
// =============================================================================

func TestFormatReport(t *testing.T) {
	report := runtime.FormatReport(routing.LabelHR, "Be specific and kind.")

	assert.Contains(t, report, "MULTI-AGENT RESPONSE REPORT")
	assert.Contains(t, report, "Question routed to: HR Expert")
	assert.Contains(t, report, "Be specific and kind.")
}

func TestFormatReportFramingStaysInsideBox(t *testing.T) {
	// Everything except the answer lives between the ╔ and ╚ rows, so a
	// client that strips the box recovers the bare answer.
	report := runtime.FormatReport(routing.LabelTech, "An architectural style.")

	lines := strings.Split(report, "\n")
	require.True(t, strings.HasPrefix(lines[0], "╔"))

	boxEnd := -1
	for i, line := range lines {
		if strings.HasPrefix(line, "╚") {
			boxEnd = i
			break
		}
	}
	require.GreaterOrEqual(t, boxEnd, 1)

	// All routing metadata sits at or above the box bottom.
	for _, line := range lines[boxEnd+1:] {
		assert.NotContains(t, line, "Question routed to:")
		assert.NotContains(t, line, "MULTI-AGENT RESPONSE REPORT")
	}

	var after []string
	for _, line := range lines[boxEnd+1:] {
		if strings.HasPrefix(line, "───") || line == "" {
			continue
		}
		after = append(after, line)
	}
	assert.Equal(t, []string{"An architectural style."}, after)
}

func TestNoResultPlaceholder(t *testing.T) {
	assert.Equal(t, "No result from Tech Expert.", runtime.NoResultPlaceholder(routing.LabelTech))
	assert.Equal(t, "No result from HR Expert.", runtime.NoResultPlaceholder(routing.LabelHR))
	assert.Equal(t, "No result from Design Expert.", runtime.NoResultPlaceholder(routing.LabelDesign))
}
