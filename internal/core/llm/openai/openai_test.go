package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/mender/internal/core/llm"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	MaxCompletionTokens int `json:"max_completion_tokens"`
}

func newServer(t *testing.T, reply string, got *chatRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		if got != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(got))
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProvider_Send(t *testing.T) {
	var got chatRequest
	srv := newServer(t, `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"model": "gpt-4.1-2025-04-14",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "%%_Fin_%%"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 120, "completion_tokens": 8, "total_tokens": 128}
	}`, &got)

	p, err := New(Options{Model: "gpt-4.1", APIKey: "test-key", BaseURL: srv.URL + "/", MaxTokens: 512})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
	assert.Equal(t, "gpt-4.1", p.Model())

	resp, err := p.Send(context.Background(), []llm.Message{
		{Role: llm.RoleSystem, Content: "sys"},
		{Role: llm.RoleUser, Content: "fix it"},
		{Role: llm.RoleAssistant, Content: "ok"},
	})
	require.NoError(t, err)

	assert.Equal(t, "%%_Fin_%%", resp.Text)
	assert.Equal(t, "gpt-4.1-2025-04-14", resp.Model)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, llm.Usage{PromptTokens: 120, CompletionTokens: 8, TotalTokens: 128}, resp.Usage)

	assert.Equal(t, "gpt-4.1", got.Model)
	assert.Equal(t, 512, got.MaxCompletionTokens)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "assistant", got.Messages[2].Role)
}

func TestProvider_SendErrors(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  error
	}{
		{
			name:  "no choices",
			reply: `{"id": "x", "model": "gpt-4.1", "choices": []}`,
			want:  ErrNoChoices,
		},
		{
			name:  "empty content",
			reply: `{"id": "x", "model": "gpt-4.1", "choices": [{"index": 0, "message": {"role": "assistant", "content": "  "}, "finish_reason": "length"}]}`,
			want:  llm.ErrEmptyResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, tt.reply, nil)
			p, err := New(Options{Model: "gpt-4.1", APIKey: "test-key", BaseURL: srv.URL})
			require.NoError(t, err)

			_, err = p.Send(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}})
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestProvider_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "slow down", "type": "rate_limit"}}`))
	}))
	defer srv.Close()

	p, err := New(Options{Model: "gpt-4.1", APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = p.Send(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slow down")
}

func TestNew_RequiresModel(t *testing.T) {
	_, err := New(Options{APIKey: "k"})
	require.Error(t, err)
}
