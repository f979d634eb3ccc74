// Package llm defines the boundary between a repair session and the model
// provider.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned by providers when the model replies with no
// text.
var ErrEmptyResponse = errors.New("model returned an empty response")

// Role tags a message in the conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged entry of the conversation sent to the model.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Usage counts tokens for one call or an accumulated session.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add returns the sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// Response is the model's reply to one Send.
type Response struct {
	Text         string `json:"text"`
	Usage        Usage  `json:"usage"`
	Model        string `json:"model,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// Provider sends a conversation to a model. Implementations must be safe
// to call from one goroutine at a time per session; sessions never share a
// conversation.
type Provider interface {
	// Name identifies the provider, e.g. "openai".
	Name() string
	// Model is the model the provider talks to.
	Model() string
	// Send returns the model's reply to msgs. Errors are transport
	// failures: the caller may retry.
	Send(ctx context.Context, msgs []Message) (Response, error)
}

// charsPerToken approximates the tokenizer of every supported model.
const charsPerToken = 4

// EstimateTokens approximates the prompt size of msgs in tokens.
func EstimateTokens(msgs []Message) int {
	n := 0
	for _, m := range msgs {
		n += len(m.Content)
	}
	return (n + charsPerToken - 1) / charsPerToken
}
