// Package openai talks to OpenAI-compatible chat completion endpoints.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gopenai "github.com/sashabaranov/go-openai"

	"github.com/colonyops/mender/internal/core/llm"
)

// ErrNoChoices is returned when the endpoint answers without a choice.
var ErrNoChoices = errors.New("response has no choices")

// Options configures a Provider.
type Options struct {
	Model  string
	APIKey string
	// BaseURL points at an OpenAI-compatible endpoint. Empty uses the
	// public API.
	BaseURL     string
	Temperature float32
	MaxTokens   int
}

// Provider is an llm.Provider backed by the chat completions API.
type Provider struct {
	client *gopenai.Client
	opts   Options
}

// New creates a Provider.
func New(opts Options) (*Provider, error) {
	if opts.Model == "" {
		return nil, errors.New("openai: model is required")
	}

	cfg := gopenai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}

	return &Provider{client: gopenai.NewClientWithConfig(cfg), opts: opts}, nil
}

func (p *Provider) Name() string  { return "openai" }
func (p *Provider) Model() string { return p.opts.Model }

func (p *Provider) Send(ctx context.Context, msgs []llm.Message) (llm.Response, error) {
	req := gopenai.ChatCompletionRequest{
		Model:               p.opts.Model,
		Messages:            toMessages(msgs),
		Temperature:         p.opts.Temperature,
		MaxCompletionTokens: p.opts.MaxTokens,
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return llm.Response{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return llm.Response{}, ErrNoChoices
	}

	choice := resp.Choices[0]
	if strings.TrimSpace(choice.Message.Content) == "" {
		return llm.Response{}, fmt.Errorf("%w (finish reason %q)", llm.ErrEmptyResponse, choice.FinishReason)
	}

	return llm.Response{
		Text: choice.Message.Content,
		Usage: llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Model:        resp.Model,
		FinishReason: string(choice.FinishReason),
	}, nil
}

func toMessages(msgs []llm.Message) []gopenai.ChatCompletionMessage {
	out := make([]gopenai.ChatCompletionMessage, len(msgs))
	for i, m := range msgs {
		role := gopenai.ChatMessageRoleUser
		switch m.Role {
		case llm.RoleSystem:
			role = gopenai.ChatMessageRoleSystem
		case llm.RoleAssistant:
			role = gopenai.ChatMessageRoleAssistant
		}
		out[i] = gopenai.ChatCompletionMessage{Role: role, Content: m.Content}
	}
	return out
}
