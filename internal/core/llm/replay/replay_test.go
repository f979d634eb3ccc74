package replay

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/mender/internal/core/llm"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestProvider_Send(t *testing.T) {
	p := New("", []string{"first", "second"})
	assert.Equal(t, "replay", p.Name())
	assert.Equal(t, "replay", p.Model())
	assert.Equal(t, 2, p.Remaining())

	msgs := []llm.Message{{Role: llm.RoleUser, Content: "12345678"}}

	resp, err := p.Send(context.Background(), msgs)
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Text)
	assert.Equal(t, llm.Usage{PromptTokens: 2, CompletionTokens: 2, TotalTokens: 4}, resp.Usage)

	resp, err = p.Send(context.Background(), msgs)
	require.NoError(t, err)
	assert.Equal(t, "second", resp.Text)
	assert.Zero(t, p.Remaining())

	_, err = p.Send(context.Background(), msgs)
	require.ErrorIs(t, err, ErrExhausted)
}

func TestProvider_SendCancelled(t *testing.T) {
	p := New("m", []string{"only"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Send(ctx, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, p.Remaining(), "a cancelled call serves nothing")
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	replies := filepath.Join(dir, "replies")
	require.NoError(t, os.Mkdir(replies, 0o755))
	writeFile(t, filepath.Join(replies, "02.txt"), "second")
	writeFile(t, filepath.Join(replies, "01.txt"), "first")
	writeFile(t, filepath.Join(replies, ".DS_Store"), "junk")
	require.NoError(t, os.Mkdir(filepath.Join(replies, "nested"), 0o755))

	jsonPath := filepath.Join(dir, "replies.json")
	writeFile(t, jsonPath, `["a", "b", "c"]`)

	yamlPath := filepath.Join(dir, "replies.yaml")
	writeFile(t, yamlPath, "- |\n  %_Reply Required_%\n  []\n- \"%%_Fin_%%\"\n")

	emptyPath := filepath.Join(dir, "empty.json")
	writeFile(t, emptyPath, `[]`)

	txtPath := filepath.Join(dir, "reply.txt")
	writeFile(t, txtPath, "x")

	tests := []struct {
		name    string
		path    string
		want    []string
		wantErr bool
	}{
		{name: "directory", path: replies, want: []string{"first", "second"}},
		{name: "json", path: jsonPath, want: []string{"a", "b", "c"}},
		{name: "yaml", path: yamlPath, want: []string{"%_Reply Required_%\n[]\n", "%%_Fin_%%"}},
		{name: "empty", path: emptyPath, wantErr: true},
		{name: "unsupported", path: txtPath, wantErr: true},
		{name: "missing", path: filepath.Join(dir, "nope"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Load("scripted", tt.path)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.replies)
			assert.Equal(t, "scripted", p.Model())
		})
	}
}
