package agents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"expertmesh/coreengine/envelope"
	"expertmesh/coreengine/observability"
	"expertmesh/coreengine/protocol"
	"expertmesh/coreengine/task"
)

var tracer = otel.Tracer("expertmesh/agents")

// Executor drives one task to a terminal status by emitting events on the
// task's queue. Implementations must emit at most one terminal status
// event and no artifacts after it; the queue enforces both, so an
// executor racing a cancellation simply observes ErrTerminalState and
// stops.
type Executor interface {
	Execute(ctx context.Context, rc RequestContext, queue *task.EventQueue) error
}

// ExpertConfig describes one specialist role.
type ExpertConfig struct {
	// Name is the human-readable expert name, e.g. "Tech Expert".
	Name string
	// SystemPrompt is the expert's standing instruction.
	SystemPrompt string
	// Model is the completion-service model identifier.
	Model string
	// Temperature for answer generation.
	Temperature float64
	// MaxTokens bounds the answer length.
	MaxTokens int
}

// ExpertAgent is a single-step responder: decode the envelope, build the
// ordered prompt, obtain one completion, emit one final artifact and the
// completed status. A completion-service failure becomes a failed
// terminal status with zero artifacts; it never takes the process down.
type ExpertAgent struct {
	cfg    ExpertConfig
	llm    CompletionClient
	logger Logger
}

// NewExpertAgent creates an expert agent for one role.
func NewExpertAgent(cfg ExpertConfig, llm CompletionClient, logger Logger) (*ExpertAgent, error) {
	if cfg.Name == "" {
		return nil, errors.New("expert agent requires a name")
	}
	if llm == nil {
		return nil, fmt.Errorf("expert agent '%s' requires a completion client", cfg.Name)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &ExpertAgent{cfg: cfg, llm: llm, logger: logger}, nil
}

// Execute runs exactly one processing step for the incoming message.
func (a *ExpertAgent) Execute(ctx context.Context, rc RequestContext, queue *task.EventQueue) error {
	ctx, span := tracer.Start(ctx, "agent.execute", trace.WithAttributes(
		attribute.String("expertmesh.agent.name", a.cfg.Name),
		attribute.String("expertmesh.task.id", rc.TaskID),
	))
	defer span.End()

	question, history := envelope.Decode(rc.Input)
	a.logger.Info("question_received",
		"agent", a.cfg.Name,
		"task_id", rc.TaskID,
		"history_turns", len(history),
	)

	if err := queue.Enqueue(protocol.NewStatusEvent(rc.TaskID, rc.ContextID, protocol.TaskStateWorking, false)); err != nil {
		// Canceled before we started; the terminal event is already out.
		return nil
	}

	start := time.Now()
	answer, err := a.llm.Complete(ctx, CompletionRequest{
		Model:       a.cfg.Model,
		Messages:    BuildMessages(a.cfg.SystemPrompt, history, question),
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
	})
	durationMS := int(time.Since(start).Milliseconds())

	if err != nil {
		observability.RecordTaskExecution(a.cfg.Name, string(protocol.TaskStateFailed), durationMS)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.logger.Error("completion_failed",
			"agent", a.cfg.Name,
			"task_id", rc.TaskID,
			"error", err.Error(),
			"duration_ms", durationMS,
		)
		if qerr := queue.Enqueue(protocol.NewStatusEvent(rc.TaskID, rc.ContextID, protocol.TaskStateFailed, true)); qerr != nil {
			return nil
		}
		return fmt.Errorf("agent '%s': completion failed: %w", a.cfg.Name, err)
	}

	if err := queue.Enqueue(protocol.NewArtifactEvent(rc.TaskID, rc.ContextID, protocol.NewTextArtifact(answer))); err != nil {
		// Canceled mid-flight; drop the artifact, the canceled event won.
		return nil
	}
	if err := queue.Enqueue(protocol.NewStatusEvent(rc.TaskID, rc.ContextID, protocol.TaskStateCompleted, true)); err != nil {
		return nil
	}

	observability.RecordTaskExecution(a.cfg.Name, string(protocol.TaskStateCompleted), durationMS)
	span.SetStatus(codes.Ok, "completed")
	a.logger.Info("answer_emitted",
		"agent", a.cfg.Name,
		"task_id", rc.TaskID,
		"duration_ms", durationMS,
		"answer_length", len(answer),
	)
	return nil
}

// BuildMessages assembles the ordered completion prompt: the system
// instruction, each history turn oldest-first, then the current question.
func BuildMessages(systemPrompt string, history []envelope.Turn, question string) []ChatMessage {
	msgs := make([]ChatMessage, 0, len(history)+2)
	msgs = append(msgs, ChatMessage{Role: RoleSystem, Content: systemPrompt})
	for _, turn := range history {
		msgs = append(msgs, ChatMessage{Role: turn.Role, Content: turn.Content})
	}
	msgs = append(msgs, ChatMessage{Role: RoleUser, Content: question})
	return msgs
}
