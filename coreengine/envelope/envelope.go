// Package envelope implements the conversation envelope codec.
//
// The envelope is the payload carried inside a message's text part: the
// current question plus the full conversation history, oldest turn first.
// Encoding is canonical JSON; decoding is total. Any input that is not a
// well-formed envelope object degrades to a bare question with empty
// history, which lets the protocol interoperate with naive plain-text
// callers.
package envelope

import (
	"encoding/json"
	"fmt"

	"expertmesh/coreengine/typeutil"
)

// Turn is one prior conversation exchange, role "user" or "assistant".
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ConversationEnvelope pairs the current question with the conversation
// history that produced it.
type ConversationEnvelope struct {
	CurrentQuestion     string `json:"current_question"`
	ConversationHistory []Turn `json:"conversation_history"`
}

// Encode serializes the question and history into the canonical wire form.
// A nil history is encoded as an empty list.
func Encode(question string, history []Turn) (string, error) {
	env := ConversationEnvelope{
		CurrentQuestion:     question,
		ConversationHistory: history,
	}
	if env.ConversationHistory == nil {
		env.ConversationHistory = []Turn{}
	}

	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	return string(data), nil
}

// Decode is the total inverse of Encode. Input that is not a JSON object
// with a current_question key is returned as-is with an empty history;
// malformed history entries are skipped rather than rejected.
func Decode(text string) (string, []Turn) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return text, []Turn{}
	}

	question, ok := typeutil.SafeString(raw["current_question"])
	if !ok {
		return text, []Turn{}
	}

	history := []Turn{}
	if items, ok := typeutil.SafeAnySlice(raw["conversation_history"]); ok {
		for _, item := range items {
			entry, ok := typeutil.SafeMapStringAny(item)
			if !ok {
				continue
			}
			history = append(history, Turn{
				Role:    typeutil.SafeStringDefault(entry["role"], "user"),
				Content: typeutil.SafeStringDefault(entry["content"], ""),
			})
		}
	}

	return question, history
}
