// Package llm wraps the generative providers behind one Client interface
// and parses their output into the structured reply the engine consumes.
package llm

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of conversation context sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

// Request is a provider-neutral completion request.
type Request struct {
	Model       string
	System      []string
	Messages    []Message
	MaxTokens   int32
	Temperature float32
	TopP        float32
}

// Response carries the raw model text plus accounting.
type Response struct {
	Text       string
	Usage      TokenUsage
	StopReason string
}

// Client is the completion surface every provider implements.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
