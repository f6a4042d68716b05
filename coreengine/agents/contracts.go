// Package agents defines the executor contract for agent endpoints and
// the single-step expert worker agent.
package agents

import (
	"context"
)

// Logger is the interface for logging.
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
}

// Chat roles understood by the completion service.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn of a completion-service conversation.
type ChatMessage struct {
	Role    string
	Content string
}

// CompletionRequest parameterizes one completion-service call.
type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	Temperature float64
	MaxTokens   int
}

// CompletionClient is the interface to the external language-model
// completion service. Calls are independently parameterized and carry no
// state between them, so one client is shared process-wide.
type CompletionClient interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// RequestContext identifies one accepted message and the task opened for
// it. Input is the text of the message's first part: either a serialized
// conversation envelope or a bare question.
type RequestContext struct {
	TaskID    string
	ContextID string
	Input     string
}
