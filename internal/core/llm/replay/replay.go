// Package replay serves recorded model replies. It drives sessions without
// network access, for dry runs and regression fixtures.
package replay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/colonyops/mender/internal/core/llm"
	"github.com/colonyops/mender/pkg/iojson"
)

// ErrExhausted is returned once every recorded reply has been served.
var ErrExhausted = errors.New("replay: no recorded replies left")

// Provider returns recorded replies in order, one per Send.
type Provider struct {
	model string

	mu      sync.Mutex
	replies []string
	next    int
}

// New creates a Provider serving replies.
func New(model string, replies []string) *Provider {
	if model == "" {
		model = "replay"
	}
	return &Provider{model: model, replies: replies}
}

// Load reads replies from path. A directory yields one reply per regular
// file in name order; hidden files are skipped. A .json file holds an
// array of strings and a .yaml or .yml file a list of strings.
func Load(model, path string) (*Provider, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("replay source: %w", err)
	}

	var replies []string
	switch ext := strings.ToLower(filepath.Ext(path)); {
	case info.IsDir():
		replies, err = loadDir(path)
	case ext == ".json":
		replies, err = iojson.ReadFile[[]string](path)
	case ext == ".yaml" || ext == ".yml":
		replies, err = loadYAML(path)
	default:
		return nil, fmt.Errorf("replay source %s: expected a directory, .json or .yaml file", path)
	}
	if err != nil {
		return nil, fmt.Errorf("replay source %s: %w", path, err)
	}
	if len(replies) == 0 {
		return nil, fmt.Errorf("replay source %s: no replies", path)
	}

	return New(model, replies), nil
}

func loadDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)

	replies := make([]string, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		replies = append(replies, string(data))
	}
	return replies, nil
}

func loadYAML(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var replies []string
	if err := yaml.Unmarshal(data, &replies); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return replies, nil
}

func (p *Provider) Name() string  { return "replay" }
func (p *Provider) Model() string { return p.model }

// Remaining is the number of replies not yet served.
func (p *Provider) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.replies) - p.next
}

func (p *Provider) Send(ctx context.Context, msgs []llm.Message) (llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return llm.Response{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.next >= len(p.replies) {
		return llm.Response{}, ErrExhausted
	}
	text := p.replies[p.next]
	p.next++

	prompt := 0
	for _, m := range msgs {
		prompt += estimateTokens(m.Content)
	}
	completion := estimateTokens(text)

	return llm.Response{
		Text: text,
		Usage: llm.Usage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
		Model:        p.model,
		FinishReason: "stop",
	}, nil
}

// estimateTokens approximates a token count at four bytes per token.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}
