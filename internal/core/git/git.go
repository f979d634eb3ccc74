// Package git reads the state of a project working copy.
package git

import "context"

// Git defines the git operations mender needs on a working copy.
type Git interface {
	// IsRepo reports whether dir is inside a git work tree.
	IsRepo(ctx context.Context, dir string) bool
	// Head returns the commit HEAD points at.
	Head(ctx context.Context, dir string) (string, error)
	// Diff returns the unified diff of the work tree against HEAD.
	Diff(ctx context.Context, dir string) (string, error)
	// DiffStats returns line additions and deletions against HEAD.
	DiffStats(ctx context.Context, dir string) (additions, deletions int, err error)
}
