package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expertmesh/commbus"
	"expertmesh/coreengine/agents"
	"expertmesh/coreengine/client"
	"expertmesh/coreengine/protocol"
	"expertmesh/coreengine/routing"
	"expertmesh/coreengine/runtime"
	"expertmesh/coreengine/server"
	"expertmesh/coreengine/task"
	"expertmesh/coreengine/testutil"
)

func newTestServer(t *testing.T, llm agents.CompletionClient, bus commbus.CommBus) *httptest.Server {
	t.Helper()
	agent, err := agents.NewExpertAgent(agents.ExpertConfig{
		Name:         "Tech Expert",
		SystemPrompt: "You are a technology expert.",
		Model:        "test-model",
		MaxTokens:    1024,
	}, llm, testutil.NewRecordingLogger())
	require.NoError(t, err)

	s := server.New(server.Options{
		AgentName: "tech_expert",
		Card:      protocol.NewAgentCard("Tech Expert Agent", "answers tech questions", "http://localhost:8001/"),
		Executor:  agent,
		Bus:       bus,
		Logger:    testutil.NewRecordingLogger(),
	})

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

// =============================================================================
// STREAMING TESTS
// =============================================================================

func TestStreamLifecycle(t *testing.T) {
	llm := testutil.NewMockCompletionClient()
	llm.DefaultResponse = "Use a worker pool."
	srv := newTestServer(t, llm, nil)

	c := client.New()
	stream, err := c.SendMessage(context.Background(), srv.URL, protocol.NewUserMessage("c1", "How do I parallelize this?"))
	require.NoError(t, err)
	defer stream.Close()

	var states []protocol.TaskState
	var artifacts []string
	for {
		ev, err := stream.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		switch e := ev.(type) {
		case protocol.TaskStatusUpdateEvent:
			states = append(states, e.Status)
		case protocol.TaskArtifactUpdateEvent:
			if text, ok := protocol.FirstText(e.Artifact.Parts); ok {
				artifacts = append(artifacts, text)
			}
		}
	}

	assert.Equal(t, []protocol.TaskState{
		protocol.TaskStateSubmitted,
		protocol.TaskStateWorking,
		protocol.TaskStateCompleted,
	}, states)
	assert.Equal(t, []string{"Use a worker pool."}, artifacts)
}

func TestAskEndToEnd(t *testing.T) {
	llm := testutil.NewMockCompletionClient()
	llm.DefaultResponse = "Profile first."
	srv := newTestServer(t, llm, nil)

	answer, err := client.New().Ask(context.Background(), srv.URL, protocol.NewUserMessage("c1", "How do I speed this up?"))
	require.NoError(t, err)
	assert.Equal(t, "Profile first.", answer)
}

func TestSnapshotAfterCompletion(t *testing.T) {
	llm := testutil.NewMockCompletionClient()
	llm.DefaultResponse = "answer"
	srv := newTestServer(t, llm, nil)

	c := client.New()
	stream, err := c.SendMessage(context.Background(), srv.URL, protocol.NewUserMessage("c1", "question"))
	require.NoError(t, err)
	defer stream.Close()

	// First event carries the task ID.
	first, err := stream.Next()
	require.NoError(t, err)
	status, ok := first.(protocol.TaskStatusUpdateEvent)
	require.True(t, ok)
	taskID := status.TaskID

	// Drain to completion, then fetch the settled record.
	for {
		if _, err := stream.Next(); err == io.EOF {
			break
		} else {
			require.NoError(t, err)
		}
	}

	snap, err := c.GetTask(context.Background(), srv.URL, taskID)
	require.NoError(t, err)
	assert.Equal(t, protocol.TaskStateCompleted, snap.Status.State)
	require.Len(t, snap.Artifacts, 1)

	text, ok := protocol.FirstText(snap.Artifacts[0].Parts)
	require.True(t, ok)
	assert.Equal(t, "answer", text)
}

func TestCancelMidFlight(t *testing.T) {
	release := make(chan struct{})
	llm := testutil.NewMockCompletionClient()
	llm.CompleteFunc = func(ctx context.Context, req agents.CompletionRequest) (string, error) {
		select {
		case <-release:
			return "too late", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	defer close(release)

	srv := newTestServer(t, llm, nil)
	c := client.New()

	stream, err := c.SendMessage(context.Background(), srv.URL, protocol.NewUserMessage("c1", "question"))
	require.NoError(t, err)
	defer stream.Close()

	first, err := stream.Next()
	require.NoError(t, err)
	taskID := first.(protocol.TaskStatusUpdateEvent).TaskID

	// Read past working so the executor is definitely in flight.
	second, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, protocol.TaskStateWorking, second.(protocol.TaskStatusUpdateEvent).Status)

	snap, err := c.CancelTask(context.Background(), srv.URL, taskID)
	require.NoError(t, err)
	assert.Equal(t, protocol.TaskStateCanceled, snap.Status.State)

	// The stream terminates with the canceled event and nothing after.
	last, err := stream.Next()
	require.NoError(t, err)
	terminal, ok := last.(protocol.TaskStatusUpdateEvent)
	require.True(t, ok)
	assert.Equal(t, protocol.TaskStateCanceled, terminal.Status)
	assert.True(t, terminal.Final)

	_, err = stream.Next()
	assert.Equal(t, io.EOF, err)
}

func TestCancelUnknownTask(t *testing.T) {
	srv := newTestServer(t, testutil.NewMockCompletionClient(), nil)
	_, err := client.New().CancelTask(context.Background(), srv.URL, "no-such-task")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

// =============================================================================
// DISCOVERY AND HEALTH TESTS
// =============================================================================

func TestAgentCardEndpoint(t *testing.T) {
	srv := newTestServer(t, testutil.NewMockCompletionClient(), nil)

	card, err := client.New().FetchCard(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Tech Expert Agent", card.Name)
	assert.Equal(t, []string{"text/plain"}, card.DefaultInputModes)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, testutil.NewMockCompletionClient(), nil)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "tech_expert", body["agent"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, testutil.NewMockCompletionClient(), nil)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// =============================================================================
// BUS INTEGRATION TESTS
// =============================================================================

func TestBusLifecycleEvents(t *testing.T) {
	bus := commbus.NewInMemoryCommBus(5 * time.Second)

	var mu sync.Mutex
	var submitted, finished bool
	var finalState string
	bus.Subscribe("TaskSubmitted", func(ctx context.Context, msg commbus.Message) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		submitted = true
		return nil, nil
	})
	bus.Subscribe("TaskFinished", func(ctx context.Context, msg commbus.Message) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		finished = true
		finalState = msg.(*commbus.TaskFinished).State
		return nil, nil
	})

	llm := testutil.NewMockCompletionClient()
	llm.DefaultResponse = "answer"
	srv := newTestServer(t, llm, bus)

	_, err := client.New().Ask(context.Background(), srv.URL, protocol.NewUserMessage("c1", "question"))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, submitted)
	assert.True(t, finished)
	assert.Equal(t, "completed", finalState)
}

func TestSnapshotQueryOverBus(t *testing.T) {
	bus := commbus.NewInMemoryCommBus(5 * time.Second)
	llm := testutil.NewMockCompletionClient()
	llm.DefaultResponse = "answer"
	srv := newTestServer(t, llm, bus)

	c := client.New()
	stream, err := c.SendMessage(context.Background(), srv.URL, protocol.NewUserMessage("c1", "question"))
	require.NoError(t, err)
	defer stream.Close()

	first, err := stream.Next()
	require.NoError(t, err)
	taskID := first.(protocol.TaskStatusUpdateEvent).TaskID
	for {
		if _, err := stream.Next(); err == io.EOF {
			break
		} else {
			require.NoError(t, err)
		}
	}

	result, err := bus.QuerySync(context.Background(), &commbus.GetTaskSnapshot{TaskID: taskID})
	require.NoError(t, err)
	snap, ok := result.(protocol.Task)
	require.True(t, ok)
	assert.Equal(t, taskID, snap.TaskID)
	assert.Equal(t, protocol.TaskStateCompleted, snap.Status.State)

	_, err = bus.QuerySync(context.Background(), &commbus.GetTaskSnapshot{TaskID: "no-such-task"})
	assert.ErrorIs(t, err, task.ErrNotFound)
}

// =============================================================================
// MANAGER TO WORKER INTEGRATION
// =============================================================================

// The full delegation path over real HTTP: a caller asks the manager
// endpoint, the manager classifies and delegates to the worker
// endpoint, and the caller receives the framed report.
func TestManagerDelegatesToWorkerOverHTTP(t *testing.T) {
	workerLLM := testutil.NewMockCompletionClient()
	workerLLM.DefaultResponse = "Start from the content hierarchy."
	worker := newTestServer(t, workerLLM, nil)

	classifier := testutil.NewMockCompletionClient()
	classifier.DefaultResponse = "DESIGN"
	router, err := routing.NewEngine(routing.Config{Model: "test-model"}, classifier, testutil.NewRecordingLogger())
	require.NoError(t, err)

	registry := runtime.Registry{
		routing.LabelTech:   worker.URL,
		routing.LabelHR:     worker.URL,
		routing.LabelDesign: worker.URL,
	}
	pipeline, err := runtime.NewManagerPipeline(router, client.New(), registry, nil, testutil.NewRecordingLogger())
	require.NoError(t, err)

	managerSrv := server.New(server.Options{
		AgentName: "manager",
		Card:      protocol.NewAgentCard("Manager Agent", "routes questions to experts", "http://localhost:8002/"),
		Executor:  pipeline,
		Logger:    testutil.NewRecordingLogger(),
	})
	manager := httptest.NewServer(managerSrv.Handler())
	defer manager.Close()

	report, err := client.New().Ask(context.Background(), manager.URL, protocol.NewUserMessage("c1", "How should I lay out a landing page?"))
	require.NoError(t, err)

	assert.Contains(t, report, "MULTI-AGENT RESPONSE REPORT")
	assert.Contains(t, report, "Question routed to: Design Expert")
	assert.Contains(t, report, "Start from the content hierarchy.")

	// The worker actually answered; the manager did not synthesize.
	assert.Equal(t, 1, workerLLM.GetCallCount())
	assert.Equal(t, 1, classifier.GetCallCount())
}
