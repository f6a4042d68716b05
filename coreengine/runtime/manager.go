// Package runtime provides the ManagerPipeline - the manager-side
// orchestration engine that routes a question, delegates it to exactly
// one expert endpoint, and finalizes the answer into a report.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"expertmesh/commbus"
	"expertmesh/coreengine/agents"
	"expertmesh/coreengine/envelope"
	"expertmesh/coreengine/observability"
	"expertmesh/coreengine/protocol"
	"expertmesh/coreengine/routing"
	"expertmesh/coreengine/task"
)

var tracer = otel.Tracer("expertmesh/runtime")

// Delegator sends a question to a remote expert endpoint and returns
// the expert's answer text.
type Delegator interface {
	Ask(ctx context.Context, endpoint string, message protocol.Message) (string, error)
}

// Registry maps routing labels to expert endpoint base URLs.
type Registry map[routing.Label]string

// ManagerPipeline orchestrates route -> delegate -> finalize for each
// incoming task.
type ManagerPipeline struct {
	router   *routing.Engine
	delegate Delegator
	registry Registry
	bus      commbus.CommBus
	logger   agents.Logger
}

// NewManagerPipeline creates a manager pipeline. Every label in the
// router's label set must have a registry entry. A nil bus disables
// delegation notifications.
func NewManagerPipeline(router *routing.Engine, delegate Delegator, registry Registry, bus commbus.CommBus, logger agents.Logger) (*ManagerPipeline, error) {
	if router == nil {
		return nil, errors.New("manager pipeline requires a routing engine")
	}
	if delegate == nil {
		return nil, errors.New("manager pipeline requires a delegator")
	}
	for _, label := range routing.AllLabels() {
		if registry[label] == "" {
			return nil, fmt.Errorf("no endpoint registered for label %s", label)
		}
	}
	return &ManagerPipeline{
		router:   router,
		delegate: delegate,
		registry: registry,
		bus:      bus,
		logger:   logger,
	}, nil
}

// Execute runs the full pipeline for one task, publishing progress to
// the task's event queue. The terminal event is always last.
func (p *ManagerPipeline) Execute(ctx context.Context, rc agents.RequestContext, queue *task.EventQueue) error {
	ctx, span := tracer.Start(ctx, "manager.execute",
		trace.WithAttributes(attribute.String("task.id", rc.TaskID)),
	)
	defer span.End()

	startTime := time.Now()

	question, history := envelope.Decode(rc.Input)
	p.logger.Info("pipeline_started",
		"task_id", rc.TaskID,
		"context_id", rc.ContextID,
		"history_turns", len(history),
	)

	if err := queue.Enqueue(protocol.NewStatusEvent(rc.TaskID, rc.ContextID, protocol.TaskStateWorking, false)); err != nil {
		// Canceled before work began. Nothing to clean up.
		return nil
	}

	label, err := p.router.Classify(ctx, question)
	if err != nil {
		p.failTask(rc, queue, span, startTime, fmt.Errorf("classify question: %w", err))
		return err
	}
	span.SetAttributes(attribute.String("routing.label", string(label)))

	answer := p.delegateTo(ctx, label, question, history, rc)
	report := FormatReport(label, answer)

	if err := queue.Enqueue(protocol.NewArtifactEvent(rc.TaskID, rc.ContextID, protocol.NewTextArtifact(report))); err != nil {
		p.logger.Info("pipeline_abandoned", "task_id", rc.TaskID)
		return nil
	}
	if err := queue.Enqueue(protocol.NewStatusEvent(rc.TaskID, rc.ContextID, protocol.TaskStateCompleted, true)); err != nil {
		return nil
	}

	durationMS := int(time.Since(startTime).Milliseconds())
	observability.RecordTaskExecution("manager", string(protocol.TaskStateCompleted), durationMS)
	p.logger.Info("pipeline_completed",
		"task_id", rc.TaskID,
		"label", string(label),
		"duration_ms", durationMS,
	)
	return nil
}

// delegateTo forwards the question to the expert registered for label.
// Delegation failure is non-fatal: the pipeline still completes, with a
// placeholder answer standing in for the missing expert result.
func (p *ManagerPipeline) delegateTo(ctx context.Context, label routing.Label, question string, history []envelope.Turn, rc agents.RequestContext) string {
	endpoint := p.registry[label]

	payload, err := envelope.Encode(question, history)
	if err != nil {
		p.logger.Error("envelope_encode_error", "task_id", rc.TaskID, "error", err.Error())
		payload = question
	}

	p.logger.Info("delegation_started",
		"task_id", rc.TaskID,
		"label", string(label),
		"endpoint", endpoint,
	)

	startTime := time.Now()
	answer, err := p.delegate.Ask(ctx, endpoint, protocol.NewUserMessage(rc.ContextID, payload))
	durationMS := int(time.Since(startTime).Milliseconds())

	if err != nil {
		observability.RecordDelegation(string(label), "error")
		p.notifyDelegation(ctx, rc.TaskID, label, endpoint, durationMS, err)
		p.logger.Error("delegation_error",
			"task_id", rc.TaskID,
			"label", string(label),
			"endpoint", endpoint,
			"error", err.Error(),
		)
		return NoResultPlaceholder(label)
	}

	observability.RecordDelegation(string(label), "success")
	p.notifyDelegation(ctx, rc.TaskID, label, endpoint, durationMS, nil)
	p.logger.Info("delegation_completed",
		"task_id", rc.TaskID,
		"label", string(label),
		"answer_length", len(answer),
	)
	return answer
}

// notifyDelegation publishes the delegation outcome for telemetry
// subscribers. Best effort; a nil bus is a no-op.
func (p *ManagerPipeline) notifyDelegation(ctx context.Context, taskID string, label routing.Label, endpoint string, durationMS int, err error) {
	if p.bus == nil {
		return
	}
	ev := &commbus.DelegationCompleted{
		TaskID:     taskID,
		Label:      string(label),
		Endpoint:   endpoint,
		Status:     "success",
		DurationMS: durationMS,
	}
	if err != nil {
		msg := err.Error()
		ev.Status = "error"
		ev.Error = &msg
	}
	_ = p.bus.Publish(ctx, ev)
}

// failTask publishes a failed terminal status and records the failure.
func (p *ManagerPipeline) failTask(rc agents.RequestContext, queue *task.EventQueue, span trace.Span, startTime time.Time, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	durationMS := int(time.Since(startTime).Milliseconds())
	observability.RecordTaskExecution("manager", string(protocol.TaskStateFailed), durationMS)
	p.logger.Error("pipeline_failed",
		"task_id", rc.TaskID,
		"error", err.Error(),
		"duration_ms", durationMS,
	)

	if enqErr := queue.Enqueue(protocol.NewStatusEvent(rc.TaskID, rc.ContextID, protocol.TaskStateFailed, true)); enqErr != nil && !errors.Is(enqErr, task.ErrTerminalState) {
		p.logger.Error("terminal_event_dropped", "task_id", rc.TaskID, "error", enqErr.Error())
	}
}

// NoResultPlaceholder is the answer used when an expert could not be
// reached or produced no artifact.
func NoResultPlaceholder(label routing.Label) string {
	return fmt.Sprintf("No result from %s.", label.ExpertName())
}

// reportWidth is the inner width of the report banner box.
const reportWidth = 62

// FormatReport renders the final report: a boxed header naming the
// consulted expert, then the expert's bare answer text. Everything
// besides the answer stays inside the box so a client stripping the
// banner recovers exactly the answer.
func FormatReport(label routing.Label, answer string) string {
	var b strings.Builder
	b.WriteString("╔" + strings.Repeat("═", reportWidth) + "╗\n")
	b.WriteString(fmt.Sprintf("║  %-59s ║\n", "MULTI-AGENT RESPONSE REPORT"))
	b.WriteString("╠" + strings.Repeat("═", reportWidth) + "╣\n")
	b.WriteString(fmt.Sprintf("║  Question routed to: %-39s ║\n", label.ExpertName()))
	b.WriteString("╚" + strings.Repeat("═", reportWidth) + "╝\n")
	b.WriteString("\n")
	b.WriteString(answer)
	b.WriteString("\n\n")
	b.WriteString(strings.Repeat("─", reportWidth+1) + "\n")
	return b.String()
}
