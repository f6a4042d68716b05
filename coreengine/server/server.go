// Package server exposes one agent endpoint over HTTP: a streaming
// message surface, task inspection and cancellation, the discovery
// card, and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"expertmesh/commbus"
	"expertmesh/coreengine/agents"
	"expertmesh/coreengine/protocol"
	"expertmesh/coreengine/task"
)

// Options configures an endpoint server.
type Options struct {
	AgentName      string
	Version        string
	Card           protocol.AgentCard
	Executor       agents.Executor
	Bus            commbus.CommBus
	Logger         agents.Logger
	ExecuteTimeout time.Duration
}

// Server is one agent endpoint.
type Server struct {
	opts   Options
	tasks  *task.Manager
	router chi.Router
}

// New builds the endpoint's HTTP surface.
func New(opts Options) *Server {
	if opts.ExecuteTimeout <= 0 {
		opts.ExecuteTimeout = 2 * time.Minute
	}
	if opts.Version == "" {
		opts.Version = "1.0.0"
	}

	s := &Server{
		opts:  opts,
		tasks: task.NewManager(),
	}

	router := chi.NewRouter()
	router.Get("/.well-known/agent-card.json", s.handleCard)
	router.Handle("/metrics", promhttp.Handler())

	api := humachi.New(router, huma.DefaultConfig(opts.AgentName, opts.Version))
	s.registerHealth(api)
	s.registerStream(api)
	s.registerTasks(api)
	s.registerBusHandlers()

	s.router = router
	return s
}

// registerBusHandlers answers in-process queries against the task
// records. A duplicate registration means another server already owns
// the query on this bus; that server keeps it.
func (s *Server) registerBusHandlers() {
	if s.opts.Bus == nil {
		return
	}
	err := s.opts.Bus.RegisterHandler("GetTaskSnapshot", func(ctx context.Context, msg commbus.Message) (any, error) {
		q := msg.(*commbus.GetTaskSnapshot)
		snap, ok := s.tasks.Get(q.TaskID)
		if !ok {
			return nil, task.ErrNotFound
		}
		return snap, nil
	})
	if err != nil {
		s.opts.Logger.Warn("bus_handler_skipped", "handler", "GetTaskSnapshot", "error", err.Error())
	}
}

// Handler returns the endpoint's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Tasks exposes the task manager, mainly for adapters and tests.
func (s *Server) Tasks() *task.Manager {
	return s.tasks
}

// ListenAndServe serves until ctx is canceled, then drains.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.opts.Logger.Info("server_started", "agent", s.opts.AgentName, "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleCard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.opts.Card)
}

func (s *Server) registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok", "agent": s.opts.AgentName}}, nil
	})
}

// =============================================================================
// STREAMING SURFACE
// =============================================================================

type streamInput struct {
	Body protocol.SendMessageRequest
}

func (s *Server) registerStream(api huma.API) {
	sse.Register(api, huma.Operation{
		OperationID: "send-message-stream",
		Method:      http.MethodPost,
		Path:        "/v1/message/stream",
		Summary:     "Send a message and stream task events",
	}, map[string]any{
		"status":   protocol.TaskStatusUpdateEvent{},
		"artifact": protocol.TaskArtifactUpdateEvent{},
	}, s.handleStream)
}

// handleStream owns the full lifecycle of one task: accept, execute,
// relay events in order, and record the terminal state. The terminal
// event is always the last one sent.
func (s *Server) handleStream(ctx context.Context, input *streamInput, send sse.Sender) {
	startTime := time.Now()

	snap, queue := s.tasks.Create(input.Body.Message.ContextID)
	s.opts.Logger.Info("task_accepted",
		"task_id", snap.TaskID,
		"context_id", snap.ContextID,
	)
	if s.opts.Bus != nil {
		_ = s.opts.Bus.Publish(ctx, &commbus.TaskSubmitted{
			TaskID:    snap.TaskID,
			ContextID: snap.ContextID,
			AgentName: s.opts.AgentName,
		})
	}

	rc := agents.RequestContext{
		TaskID:    snap.TaskID,
		ContextID: snap.ContextID,
		Input:     input.Body.Message.Text(),
	}

	// The executor outlives a dropped client connection so the task
	// record still reaches a terminal state.
	execCtx, cancelExec := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ExecuteTimeout)
	go func() {
		defer cancelExec()
		if err := s.opts.Executor.Execute(execCtx, rc, queue); err != nil {
			s.opts.Logger.Error("executor_error", "task_id", snap.TaskID, "error", err.Error())
		}
	}()

	if err := send.Data(protocol.NewStatusEvent(snap.TaskID, snap.ContextID, protocol.TaskStateSubmitted, false)); err != nil {
		s.opts.Logger.Warn("stream_send_error", "task_id", snap.TaskID, "error", err.Error())
	}

	for ev := range queue.Events() {
		// The record is updated before the event goes on the wire so a
		// snapshot fetched mid-stream never lags what the client saw.
		if err := s.tasks.Apply(snap.TaskID, ev); err != nil {
			s.opts.Logger.Debug("event_apply_skipped", "task_id", snap.TaskID, "error", err.Error())
		}
		if err := send.Data(ev); err != nil {
			s.opts.Logger.Warn("stream_send_error", "task_id", snap.TaskID, "error", err.Error())
		}
	}

	final, _ := s.tasks.Get(snap.TaskID)
	if s.opts.Bus != nil {
		_ = s.opts.Bus.Publish(ctx, &commbus.TaskFinished{
			TaskID:     snap.TaskID,
			ContextID:  snap.ContextID,
			AgentName:  s.opts.AgentName,
			State:      string(final.Status.State),
			DurationMS: int(time.Since(startTime).Milliseconds()),
		})
	}
	s.opts.Logger.Info("task_stream_closed",
		"task_id", snap.TaskID,
		"state", string(final.Status.State),
	)
}

// =============================================================================
// TASK INSPECTION
// =============================================================================

func (s *Server) registerTasks(api huma.API) {
	type taskPath struct {
		TaskID string `path:"task_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/v1/tasks/{task_id}",
		Summary:     "Get task snapshot",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body protocol.Task `json:"body"`
	}, error) {
		snap, ok := s.tasks.Get(input.TaskID)
		if !ok {
			return nil, huma.Error404NotFound("unknown task " + input.TaskID)
		}
		return &struct {
			Body protocol.Task `json:"body"`
		}{Body: snap}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-task",
		Method:      http.MethodPost,
		Path:        "/v1/tasks/{task_id}/cancel",
		Summary:     "Cancel a task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body protocol.Task `json:"body"`
	}, error) {
		snap, err := s.tasks.Cancel(input.TaskID)
		if err != nil {
			return nil, huma.Error404NotFound("unknown task " + input.TaskID)
		}
		s.opts.Logger.Info("task_cancel_requested", "task_id", input.TaskID, "state", string(snap.Status.State))
		return &struct {
			Body protocol.Task `json:"body"`
		}{Body: snap}, nil
	})
}
