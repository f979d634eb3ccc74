// Package gemini talks to the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/colonyops/mender/internal/core/llm"
)

// Options configures a Provider.
type Options struct {
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
	MaxTokens   int
}

// Provider is an llm.Provider backed by genai.
type Provider struct {
	client *genai.Client
	opts   Options
}

// New creates a Provider.
func New(ctx context.Context, opts Options) (*Provider, error) {
	if opts.Model == "" {
		return nil, errors.New("gemini: model is required")
	}
	if opts.APIKey == "" {
		return nil, errors.New("gemini: api key is required")
	}

	cfg := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Provider{client: client, opts: opts}, nil
}

func (p *Provider) Name() string  { return "gemini" }
func (p *Provider) Model() string { return p.opts.Model }

func (p *Provider) Send(ctx context.Context, msgs []llm.Message) (llm.Response, error) {
	system, contents := toContents(msgs)

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: system,
		Temperature:       genai.Ptr(p.opts.Temperature),
	}
	if p.opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(p.opts.MaxTokens)
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.opts.Model, contents, cfg)
	if err != nil {
		return llm.Response{}, fmt.Errorf("generate content: %w", err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return llm.Response{}, fmt.Errorf("%w (finish reason %q)", llm.ErrEmptyResponse, finishReason(resp))
	}

	out := llm.Response{
		Text:         text,
		Model:        resp.ModelVersion,
		FinishReason: finishReason(resp),
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

// toContents splits the system prompt off msgs. Gemini takes it as a
// separate instruction and names the assistant role "model".
func toContents(msgs []llm.Message) (*genai.Content, []*genai.Content) {
	var (
		system   []string
		contents []*genai.Content
	)
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleSystem:
			system = append(system, m.Content)
		case llm.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	if len(system) == 0 {
		return nil, contents
	}
	return genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser), contents
}

func finishReason(resp *genai.GenerateContentResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	return string(resp.Candidates[0].FinishReason)
}
