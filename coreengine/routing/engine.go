// Package routing implements the routing decision engine: a fixed-label
// classifier over the completion service with deterministic normalization.
package routing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"expertmesh/coreengine/agents"
	"expertmesh/coreengine/observability"
)

// Label is one of the fixed expert categories.
type Label string

const (
	LabelTech   Label = "TECH"
	LabelHR     Label = "HR"
	LabelDesign Label = "DESIGN"
)

// AllLabels returns the closed label set in normalization priority order.
// Substring matching checks labels in this order, so classifier output
// mentioning more than one label resolves to the earliest.
func AllLabels() []Label {
	return []Label{LabelTech, LabelHR, LabelDesign}
}

// Known reports whether l is a member of the fixed label set.
func Known(l Label) bool {
	for _, label := range AllLabels() {
		if l == label {
			return true
		}
	}
	return false
}

// ExpertName returns the human-readable expert name used in reports.
func (l Label) ExpertName() string {
	switch l {
	case LabelTech:
		return "Tech Expert"
	case LabelHR:
		return "HR Expert"
	case LabelDesign:
		return "Design Expert"
	default:
		return "Expert"
	}
}

// ErrServiceUnavailable marks a classification failure caused by the
// completion service itself. It is fatal to the current task: defaulting
// here would mask an infrastructure failure as a policy decision.
var ErrServiceUnavailable = errors.New("routing: completion service unavailable")

// DefaultInstruction is the standing classifier instruction.
const DefaultInstruction = `You are a routing assistant. Your job is to analyze questions and determine which expert should answer them.

You have three experts available:
1. TECH - Expert in technology, programming, software development, code, databases, cloud, DevOps, AI/ML
2. HR - Expert in human relations, communication, leadership, team dynamics, conflict resolution, career advice, interpersonal skills
3. DESIGN - Expert in UI/UX design, user experience, design systems, accessibility, user research, interaction design

Analyze the user's question and respond with ONLY one word: either "TECH", "HR", or "DESIGN"

Examples:
- "How do I implement a REST API?" -> TECH
- "How do I give constructive feedback to my team?" -> HR
- "What's the best database for my startup?" -> TECH
- "How do I negotiate a salary raise?" -> HR
- "How do I design an accessible button component?" -> DESIGN
- "What are UX best practices for mobile apps?" -> DESIGN
- "How is AI changing coding interviews?" -> TECH (because it's primarily about coding/tech)
- "How do I improve team communication?" -> HR
- "How do I create an effective design system?" -> DESIGN`

// classifierMaxTokens keeps the classifier output to a bare label.
const classifierMaxTokens = 10

// Config configures the routing engine.
type Config struct {
	// Model is the completion-service model used for classification.
	Model string
	// DefaultLabel is chosen when the classifier output names no known
	// label. Defaults to TECH.
	DefaultLabel Label
	// Instruction overrides DefaultInstruction when set.
	Instruction string
}

// Engine classifies questions into exactly one label.
type Engine struct {
	cfg    Config
	llm    agents.CompletionClient
	logger agents.Logger
}

// NewEngine creates a routing engine.
func NewEngine(cfg Config, llm agents.CompletionClient, logger agents.Logger) (*Engine, error) {
	if llm == nil {
		return nil, errors.New("routing engine requires a completion client")
	}
	if cfg.DefaultLabel == "" {
		cfg.DefaultLabel = LabelTech
	}
	if !Known(cfg.DefaultLabel) {
		return nil, fmt.Errorf("unknown default label %q", cfg.DefaultLabel)
	}
	if cfg.Instruction == "" {
		cfg.Instruction = DefaultInstruction
	}
	return &Engine{cfg: cfg, llm: llm, logger: logger}, nil
}

// Classify returns exactly one label for the question. Unrecognized
// classifier output falls back to the configured default label; an
// unreachable or erroring completion service is a hard failure wrapped
// in ErrServiceUnavailable.
func (e *Engine) Classify(ctx context.Context, question string) (Label, error) {
	raw, err := e.llm.Complete(ctx, agents.CompletionRequest{
		Model: e.cfg.Model,
		Messages: []agents.ChatMessage{
			{Role: agents.RoleSystem, Content: e.cfg.Instruction},
			{Role: agents.RoleUser, Content: question},
		},
		Temperature: 0,
		MaxTokens:   classifierMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}

	label, matched := Normalize(raw)
	source := "classifier"
	if !matched {
		label = e.cfg.DefaultLabel
		source = "default"
		e.logger.Warn("classifier_output_unrecognized",
			"raw_output", strings.TrimSpace(raw),
			"default_label", string(label),
		)
	}
	observability.RecordRoutingDecision(string(label), source)
	e.logger.Info("question_routed", "label", string(label))

	return label, nil
}

// Normalize maps raw classifier output to a label by case-insensitive
// substring match in fixed priority order. The classifier is not
// contractually guaranteed to return a bare label, so surrounding
// punctuation, whitespace, and casing are tolerated. The second return
// value reports whether any known label matched.
func Normalize(raw string) (Label, bool) {
	out := strings.ToUpper(strings.TrimSpace(raw))
	for _, label := range AllLabels() {
		if strings.Contains(out, string(label)) {
			return label, true
		}
	}
	return "", false
}
