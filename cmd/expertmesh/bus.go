package main

import (
	"context"
	"time"

	"expertmesh/commbus"
	"expertmesh/coreengine/agents"
	"expertmesh/coreengine/config"
)

// Lifecycle events are excluded from the circuit breaker: blocking
// telemetry on repeated subscriber failures would only hide problems.
var breakerExcludedTypes = []string{"TaskSubmitted", "TaskFinished", "DelegationCompleted"}

// newBus builds the endpoint's in-process bus with the standard
// middleware chain.
func newBus(cfg config.Config) *commbus.InMemoryCommBus {
	bus := commbus.NewInMemoryCommBus(cfg.DelegateTimeout())
	if cfg.LogLevel == "debug" {
		bus.AddMiddleware(commbus.NewLoggingMiddleware(cfg.LogLevel))
	}
	bus.AddMiddleware(commbus.NewCircuitBreakerMiddleware(5, 30*time.Second, breakerExcludedTypes))
	return bus
}

// subscribeTelemetry attaches the lifecycle log subscribers every
// endpoint runs: task accept/finish and, on the manager, delegation
// round trips.
func subscribeTelemetry(bus commbus.CommBus, logger agents.Logger) {
	bus.Subscribe("TaskSubmitted", func(ctx context.Context, msg commbus.Message) (any, error) {
		ev := msg.(*commbus.TaskSubmitted)
		logger.Debug("bus_task_submitted",
			"task_id", ev.TaskID,
			"context_id", ev.ContextID,
			"agent", ev.AgentName,
		)
		return nil, nil
	})
	bus.Subscribe("TaskFinished", func(ctx context.Context, msg commbus.Message) (any, error) {
		ev := msg.(*commbus.TaskFinished)
		logger.Info("bus_task_finished",
			"task_id", ev.TaskID,
			"agent", ev.AgentName,
			"state", ev.State,
			"duration_ms", ev.DurationMS,
		)
		return nil, nil
	})
	bus.Subscribe("DelegationCompleted", func(ctx context.Context, msg commbus.Message) (any, error) {
		ev := msg.(*commbus.DelegationCompleted)
		if ev.Status == "error" {
			errText := ""
			if ev.Error != nil {
				errText = *ev.Error
			}
			logger.Warn("bus_delegation_failed",
				"task_id", ev.TaskID,
				"label", ev.Label,
				"endpoint", ev.Endpoint,
				"duration_ms", ev.DurationMS,
				"error", errText,
			)
			return nil, nil
		}
		logger.Debug("bus_delegation_completed",
			"task_id", ev.TaskID,
			"label", ev.Label,
			"endpoint", ev.Endpoint,
			"duration_ms", ev.DurationMS,
		)
		return nil, nil
	})
}
