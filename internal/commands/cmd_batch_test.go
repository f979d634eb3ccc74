package commands

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/mender/internal/repair"
)

func TestBatchInput_Validate(t *testing.T) {
	dir := t.TempDir()
	one := filepath.Join(dir, "one")
	two := filepath.Join(dir, "two")
	require.NoError(t, os.MkdirAll(one, 0o755))
	require.NoError(t, os.MkdirAll(two, 0o755))
	file := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	tests := []struct {
		name    string
		input   BatchInput
		wantErr string
	}{
		{
			name:    "empty items",
			input:   BatchInput{Items: []repair.Item{}},
			wantErr: "items",
		},
		{
			name: "missing name",
			input: BatchInput{Items: []repair.Item{
				{ProjectRoot: one},
			}},
			wantErr: "items[0].name",
		},
		{
			name: "whitespace name",
			input: BatchInput{Items: []repair.Item{
				{Name: "   ", ProjectRoot: one},
			}},
			wantErr: "name",
		},
		{
			name: "name with separator",
			input: BatchInput{Items: []repair.Item{
				{Name: "a/b", ProjectRoot: one},
			}},
			wantErr: "name",
		},
		{
			name: "duplicate names",
			input: BatchInput{Items: []repair.Item{
				{Name: "test", ProjectRoot: one},
				{Name: "test", ProjectRoot: two},
			}},
			wantErr: "duplicate name",
		},
		{
			name: "missing project root",
			input: BatchInput{Items: []repair.Item{
				{Name: "test", ProjectRoot: filepath.Join(dir, "nope")},
			}},
			wantErr: "items[0].project_root",
		},
		{
			name: "project root is a file",
			input: BatchInput{Items: []repair.Item{
				{Name: "test", ProjectRoot: file},
			}},
			wantErr: "not a directory",
		},
		{
			name: "duplicate project root",
			input: BatchInput{Items: []repair.Item{
				{Name: "a", ProjectRoot: one},
				{Name: "b", ProjectRoot: one + string(filepath.Separator)},
			}},
			wantErr: "duplicate project_root",
		},
		{
			name: "bad context dir",
			input: BatchInput{Items: []repair.Item{
				{Name: "a", ProjectRoot: one, ContextDir: file},
			}},
			wantErr: "items[0].context_dir",
		},
		{
			name: "valid input",
			input: BatchInput{Items: []repair.Item{
				{Name: "a", ProjectRoot: one},
				{Name: "b", ProjectRoot: two, ContextDir: dir},
			}},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.input.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBatchInput_JSON(t *testing.T) {
	raw := `{"items":[{"name":"p1","project_root":"./p1","context_dir":"./ctx"}]}`

	var input BatchInput
	require.NoError(t, json.Unmarshal([]byte(raw), &input))
	require.Len(t, input.Items, 1)
	assert.Equal(t, repair.Item{Name: "p1", ProjectRoot: "./p1", ContextDir: "./ctx"}, input.Items[0])

	items := input.absItems()
	assert.True(t, filepath.IsAbs(items[0].ProjectRoot))
	assert.True(t, filepath.IsAbs(items[0].ContextDir))
	assert.Equal(t, "./p1", input.Items[0].ProjectRoot, "input is not modified")
}
