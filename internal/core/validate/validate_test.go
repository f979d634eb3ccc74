package validate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid name", "my-session", false},
		{"valid with spaces", "my session", false},
		{"empty string", "", true},
		{"only spaces", "   ", true},
		{"only tabs", "\t\t", true},
		{"slash", "a/b", true},
		{"backslash", `a\b`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := SessionName(tt.input)
			assert.Equal(t, tt.wantErr, err != nil, "SessionName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		})
	}
}

func TestSessionID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid uuid", "0b6d7e4e-2f7c-4d8a-9a53-1f0e6c2b7a10", false},
		{"generated", NewSessionID(), false},
		{"empty string", "", true},
		{"not a uuid", "abc123", true},
		{"truncated", "0b6d7e4e-2f7c-4d8a-9a53", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := SessionID(tt.input)
			assert.Equal(t, tt.wantErr, err != nil, "SessionID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		})
	}
}

func TestProjectRoot(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"directory", dir, false},
		{"empty", "", true},
		{"missing", filepath.Join(dir, "missing"), true},
		{"file", file, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ProjectRoot(tt.input)
			assert.Equal(t, tt.wantErr, err != nil, "ProjectRoot(%q) error = %v", tt.input, err)
		})
	}
}
