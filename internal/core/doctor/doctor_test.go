package doctor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/mender/internal/core/config"
)

func stubLookPath(t *testing.T, found map[string]string) {
	t.Helper()
	orig := lookPathFunc
	t.Cleanup(func() { lookPathFunc = orig })
	lookPathFunc = func(name string) (string, error) {
		if p, ok := found[name]; ok {
			return p, nil
		}
		return "", errors.New("not found")
	}
}

func TestSummary(t *testing.T) {
	results := []Result{
		{Name: "a", Items: []CheckItem{pass("x", ""), warn("y", ""), fail("z", "")}},
		{Name: "b", Items: []CheckItem{pass("x", "")}},
	}

	passed, warned, failed := Summary(results)
	assert.Equal(t, 2, passed)
	assert.Equal(t, 1, warned)
	assert.Equal(t, 1, failed)
}

func TestToolsCheck(t *testing.T) {
	tests := []struct {
		name   string
		found  map[string]string
		verify string
		want   []Status
	}{
		{"git only", map[string]string{"git": "/usr/bin/git"}, "", []Status{StatusPass}},
		{"git missing", nil, "", []Status{StatusWarn}},
		{"verify found", map[string]string{"git": "/usr/bin/git", "go": "/usr/bin/go"}, "go build ./...", []Status{StatusPass, StatusPass}},
		{"verify missing", map[string]string{"git": "/usr/bin/git"}, "make test", []Status{StatusPass, StatusFail}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubLookPath(t, tt.found)

			result := (&ToolsCheck{GitPath: "git", VerifyCommand: tt.verify}).Run(context.Background())

			var got []Status
			for _, item := range result.Items {
				got = append(got, item.Status)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProviderCheck(t *testing.T) {
	t.Run("key set", func(t *testing.T) {
		t.Setenv("MENDER_TEST_KEY", "sk-test")
		cfg := config.DefaultConfig()
		cfg.Provider.APIKeyEnv = "MENDER_TEST_KEY"

		result := (&ProviderCheck{Config: &cfg}).Run(context.Background())
		_, _, failed := Summary([]Result{result})
		assert.Zero(t, failed)
	})

	t.Run("key empty", func(t *testing.T) {
		t.Setenv("MENDER_TEST_KEY", "")
		cfg := config.DefaultConfig()
		cfg.Provider.APIKeyEnv = "MENDER_TEST_KEY"

		result := (&ProviderCheck{Config: &cfg}).Run(context.Background())
		require.Len(t, result.Items, 2)
		assert.Equal(t, StatusFail, result.Items[1].Status)
	})

	t.Run("replay path missing", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Provider.Name = config.ProviderReplay
		cfg.Provider.ReplayPath = filepath.Join(t.TempDir(), "nope")

		result := (&ProviderCheck{Config: &cfg}).Run(context.Background())
		require.Len(t, result.Items, 2)
		assert.Equal(t, StatusFail, result.Items[1].Status)
	})
}

func TestStorageCheck(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	result := (&StorageCheck{DataDir: dir, OpenDB: func() error { return nil }}).Run(context.Background())
	require.Len(t, result.Items, 2)
	assert.Equal(t, StatusPass, result.Items[0].Status)
	assert.Equal(t, StatusPass, result.Items[1].Status)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "write check file is removed")

	result = (&StorageCheck{DataDir: dir, OpenDB: func() error { return errors.New("locked") }}).Run(context.Background())
	assert.Equal(t, StatusFail, result.Items[1].Status)
	assert.Equal(t, "locked", result.Items[1].Detail)
}

func TestStorageCheck_NotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	result := (&StorageCheck{DataDir: file}).Run(context.Background())
	require.Len(t, result.Items, 1)
	assert.Equal(t, StatusFail, result.Items[0].Status)
}
