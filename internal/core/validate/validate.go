// Package validate provides shared validation functions.
package validate

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// SessionName validates a session name is non-empty after trimming
// whitespace. Names become report file stems, so path separators are
// refused.
func SessionName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("name must not contain path separators")
	}
	return nil
}

// SessionID validates a session id is a UUID.
func SessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session id is required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("session id %q is not a UUID", id)
	}
	return nil
}

// NewSessionID returns a fresh session id.
func NewSessionID() string {
	return uuid.NewString()
}

// ProjectRoot validates path names an existing directory.
func ProjectRoot(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("project root is required")
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot access: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	return nil
}
