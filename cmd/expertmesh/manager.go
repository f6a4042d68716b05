package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"expertmesh/coreengine/client"
	"expertmesh/coreengine/config"
	"expertmesh/coreengine/llm"
	"expertmesh/coreengine/observability"
	"expertmesh/coreengine/protocol"
	"expertmesh/coreengine/routing"
	"expertmesh/coreengine/runtime"
	"expertmesh/coreengine/server"
)

const managerListenAddr = ":8002"

func managerCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "manager",
		Short: "Run the manager endpoint",
		Long: `The manager classifies each incoming question as TECH, HR, or
DESIGN, delegates it to the matching expert endpoint, and streams the
final report back to the caller.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.AgentName = "manager"
			cfg.ListenAddr = managerListenAddr
			if listen != "" {
				cfg.ListenAddr = listen
			}
			return runManager(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address override")
	return cmd
}

func runManager(ctx context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newLogger(cfg.AgentName, cfg.LogLevel)

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracer(cfg.AgentName, cfg.OTLPEndpoint)
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		defer shutdown(context.Background())
	}

	completions, err := llm.NewClient(llm.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return err
	}

	router, err := routing.NewEngine(routing.Config{
		Model:        cfg.Model,
		DefaultLabel: routing.Label(cfg.DefaultLabel),
	}, completions, logger)
	if err != nil {
		return err
	}

	registry := runtime.Registry{}
	for label, endpoint := range cfg.Registry {
		registry[routing.Label(label)] = endpoint
	}

	bus := newBus(cfg)
	subscribeTelemetry(bus, logger)

	pipeline, err := runtime.NewManagerPipeline(
		router,
		client.NewWithTimeout(cfg.DelegateTimeout()),
		registry,
		bus,
		logger,
	)
	if err != nil {
		return err
	}

	card := protocol.NewAgentCard(
		"Manager Agent - Multi-Expert Router",
		"Routes questions to appropriate experts (Tech, HR, or Design) and returns their responses.",
		"http://localhost"+cfg.ListenAddr,
		protocol.Skill{
			ID:          "route-and-answer",
			Name:        "Multi-Expert Router",
			Description: "Routes questions to Tech, HR, or Design experts based on content",
			Tags:        []string{"router", "manager", "tech", "hr", "design"},
		},
	)

	srv := server.New(server.Options{
		AgentName:      cfg.AgentName,
		Card:           card,
		Executor:       pipeline,
		Bus:            bus,
		Logger:         logger,
		ExecuteTimeout: cfg.ExecuteTimeout(),
	})

	return srv.ListenAndServe(ctx, cfg.ListenAddr)
}
