package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"expertmesh/coreengine/agents"
	"expertmesh/coreengine/config"
	"expertmesh/coreengine/llm"
	"expertmesh/coreengine/observability"
	"expertmesh/coreengine/protocol"
	"expertmesh/coreengine/routing"
	"expertmesh/coreengine/server"
)

// expertProfile binds one worker role to its standing instruction and
// discovery metadata.
type expertProfile struct {
	Label        routing.Label
	ListenAddr   string
	CardName     string
	CardDesc     string
	Skill        protocol.Skill
	SystemPrompt string
}

var expertProfiles = map[string]expertProfile{
	"tech": {
		Label:      routing.LabelTech,
		ListenAddr: ":8001",
		CardName:   "Tech & Code Expert Agent",
		CardDesc:   "Expert in technology, programming, and software development.",
		Skill: protocol.Skill{
			ID:          "tech-expert",
			Name:        "Technology Expert",
			Description: "Answers questions about programming, software, and technology",
			Tags:        []string{"tech", "code", "programming", "software"},
		},
		SystemPrompt: techSystemPrompt,
	},
	"hr": {
		Label:      routing.LabelHR,
		ListenAddr: ":8000",
		CardName:   "HR & Communication Expert Agent",
		CardDesc:   "Expert in human relations, communication, and interpersonal skills.",
		Skill: protocol.Skill{
			ID:          "hr-expert",
			Name:        "HR & Communication Expert",
			Description: "Answers questions about communication, relationships, and HR",
			Tags:        []string{"hr", "communication", "leadership", "relationships"},
		},
		SystemPrompt: hrSystemPrompt,
	},
	"design": {
		Label:      routing.LabelDesign,
		ListenAddr: ":8003",
		CardName:   "Design & UX Expert Agent",
		CardDesc:   "Expert in user experience design, UI/UX, and user-centered design practices.",
		Skill: protocol.Skill{
			ID:          "design-expert",
			Name:        "Design & UX Expert",
			Description: "Answers questions about UI/UX design, user research, and design systems",
			Tags:        []string{"design", "ux", "ui", "accessibility", "user-research"},
		},
		SystemPrompt: designSystemPrompt,
	},
}

func workerCmd() *cobra.Command {
	var role string
	var listen string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run one expert worker endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, ok := expertProfiles[role]
			if !ok {
				return fmt.Errorf("unknown role %q (want tech, hr, or design)", role)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.AgentName = string(profile.Label) + "-worker"
			cfg.ListenAddr = profile.ListenAddr
			if listen != "" {
				cfg.ListenAddr = listen
			}

			logger := newLogger(cfg.AgentName, cfg.LogLevel)
			return runWorker(cmd.Context(), cfg, profile, logger)
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "expert role: tech, hr, or design")
	cmd.Flags().StringVar(&listen, "listen", "", "listen address override")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func runWorker(ctx context.Context, cfg config.Config, profile expertProfile, logger agents.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	expert, err := agents.NewExpertAgent(agents.ExpertConfig{
		Name:         cfg.AgentName,
		SystemPrompt: profile.SystemPrompt,
		Model:        cfg.Model,
		Temperature:  cfg.WorkerTemperature,
		MaxTokens:    int(cfg.WorkerMaxTokens),
	}, completions, logger)
	if err != nil {
		return err
	}

	bus := newBus(cfg)
	subscribeTelemetry(bus, logger)

	card := protocol.NewAgentCard(
		profile.CardName,
		profile.CardDesc,
		"http://localhost"+cfg.ListenAddr,
		profile.Skill,
	)

	srv := server.New(server.Options{
		AgentName:      cfg.AgentName,
		Card:           card,
		Executor:       expert,
		Bus:            bus,
		Logger:         logger,
		ExecuteTimeout: cfg.ExecuteTimeout(),
	})

	return srv.ListenAndServe(ctx, cfg.ListenAddr)
}

const techSystemPrompt = `You are a world-class expert in technology and software development.

Your areas of expertise include:
- Programming languages (Python, JavaScript, TypeScript, Go, Rust, Java, C++, etc.)
- Software architecture and design patterns
- DevOps, CI/CD, and cloud infrastructure (AWS, GCP, Azure)
- Databases (SQL, NoSQL, distributed systems)
- AI/ML, data science, and emerging technologies
- System design and scalability
- Security best practices
- Open source ecosystems and tools

When answering questions:
- Provide technically accurate, detailed responses
- Include code examples when relevant
- Explain trade-offs and best practices
- Stay up-to-date with modern approaches
- Be concise but thorough

You are passionate about clean code, elegant solutions, and helping developers level up their skills.`

const hrSystemPrompt = `You are a world-class expert in human relations, communication, and interpersonal dynamics.

Your areas of expertise include:
- Workplace communication and professional relationships
- Conflict resolution and mediation
- Leadership and management skills
- Team dynamics and collaboration
- Emotional intelligence and empathy
- Career development and mentoring
- Interview preparation and negotiation
- Public speaking and presentation skills
- Written communication (emails, reports, proposals)
- Cross-cultural communication
- HR policies and workplace ethics

When answering questions:
- Provide empathetic, practical advice
- Consider different perspectives and viewpoints
- Suggest actionable steps and strategies
- Be mindful of emotional and social nuances
- Draw from best practices in organizational psychology

You are passionate about helping people communicate effectively, build strong relationships, and thrive in their professional lives.`

const designSystemPrompt = `You are a world-class expert in design and user experience (UX).

Your areas of expertise include:
- User Interface (UI) design and best practices
- User Experience (UX) research and testing
- Interaction design and user flows
- Information architecture and navigation
- Accessibility (WCAG) and inclusive design
- Design systems and component libraries
- Wireframing and prototyping
- User research methodologies
- Usability principles and heuristics
- Design tools (Figma, Adobe XD, Sketch, etc.)
- Mobile and responsive design
- Web standards and design patterns
- Conversion rate optimization (CRO)
- A/B testing and user analytics

When answering questions:
- Provide practical, user-centric advice
- Reference established design principles and best practices
- Consider accessibility and inclusivity
- Suggest data-driven approaches
- Share real-world examples and case studies
- Balance aesthetics with functionality
- Think about the end user's perspective

You are passionate about creating intuitive, accessible, and beautiful digital experiences that delight users.`
