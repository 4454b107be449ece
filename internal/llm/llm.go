// Package llm abstracts chat-completion backends behind a single Generator
// interface so agents never depend on a concrete provider.
package llm

import "context"

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generator produces a completion for a conversation. Implementations must
// honor ctx cancellation and return the raw assistant text.
type Generator interface {
	Generate(ctx context.Context, model string, messages []Message) (string, error)
}
