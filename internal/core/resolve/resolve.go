// Package resolve serves information requests against a working copy.
package resolve

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/colonyops/mender/internal/core/action"
)

// ErrRootUnreadable is returned when the project root itself cannot be
// used. It is the only error Resolve returns; per-request problems are
// reported in the Resolution.
var ErrRootUnreadable = errors.New("project root unreadable")

// Status is the outcome of a single request.
type Status string

const (
	StatusResolved    Status = "resolved"
	StatusSubstituted Status = "substituted"
	StatusNotFound    Status = "not_found"
	StatusTooLarge    Status = "too_large"
	StatusUnreadable  Status = "unreadable"
	StatusRejected    Status = "rejected"
)

// Options tunes a Resolver.
type Options struct {
	// MaxFileBytes caps the size of a file whose content is returned.
	MaxFileBytes int64
	// Ignore holds doublestar patterns for paths the similarity search
	// never descends into. Patterns match the slash-separated relative
	// path or the base name.
	Ignore []string
	// MaxSuggestions caps the suggestions attached to a not-found result.
	MaxSuggestions int
	// SearchDepth caps how many directory levels the similarity search
	// descends.
	SearchDepth int
}

// DefaultOptions returns the options used when config leaves them unset.
func DefaultOptions() Options {
	return Options{
		MaxFileBytes:   1 << 20,
		Ignore:         []string{".git", "node_modules", "vendor"},
		MaxSuggestions: 5,
		SearchDepth:    6,
	}
}

// Resolution is the answer to one FileRequest.
type Resolution struct {
	Request action.FileRequest `json:"request"`
	Status  Status             `json:"status"`
	// Path is the slash-separated path that was served. It differs from
	// Request.Path when a similar path was substituted.
	Path        string                  `json:"path,omitempty"`
	Content     string                  `json:"-"`
	Listing     *Listing                `json:"listing,omitempty"`
	Size        int64                   `json:"size,omitempty"`
	Suggestions []string                `json:"suggestions,omitempty"`
	Err         *action.ValidationError `json:"error,omitempty"`
	Detail      string                  `json:"detail,omitempty"`
}

// Rejected reports whether the request was refused with a ValidationError.
func (r Resolution) Rejected() bool {
	return r.Err != nil
}

// Resolver classifies requested paths as files or directories and reads
// them from disk. Nothing is cached; every call sees the current working
// copy.
type Resolver struct {
	opts Options
	log  zerolog.Logger
}

// New creates a Resolver. Zero fields of opts take their defaults.
func New(opts Options, log zerolog.Logger) *Resolver {
	def := DefaultOptions()
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = def.MaxFileBytes
	}
	if opts.Ignore == nil {
		opts.Ignore = def.Ignore
	}
	if opts.MaxSuggestions <= 0 {
		opts.MaxSuggestions = def.MaxSuggestions
	}
	if opts.SearchDepth <= 0 {
		opts.SearchDepth = def.SearchDepth
	}
	return &Resolver{opts: opts, log: log}
}

// Resolve answers reqs in order against root. Every request yields exactly
// one Resolution: served, substituted by a similar path, not found,
// unreadable, or rejected with a ValidationError. Kinds missing from
// allowed are rejected with ACTION_NOT_ALLOWED_IN_STATE.
func (r *Resolver) Resolve(root string, reqs []action.FileRequest, allowed action.KindSet) ([]Resolution, error) {
	root, err := canonicalRoot(root)
	if err != nil {
		return nil, err
	}

	out := make([]Resolution, 0, len(reqs))
	for _, req := range reqs {
		res := r.resolveOne(root, req, allowed)
		r.log.Debug().
			Str("kind", string(req.Kind)).
			Str("path", req.Path).
			Str("status", string(res.Status)).
			Msg("resolved request")
		out = append(out, res)
	}
	return out, nil
}

func canonicalRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRootUnreadable, err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRootUnreadable, err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRootUnreadable, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrRootUnreadable, root)
	}
	if _, err := os.ReadDir(resolved); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRootUnreadable, err)
	}
	return resolved, nil
}

func (r *Resolver) resolveOne(root string, req action.FileRequest, allowed action.KindSet) Resolution {
	res := Resolution{Request: req}

	if !allowed.Has(req.Kind) {
		res.Status = StatusRejected
		res.Err = action.NewNotAllowed(req.Kind, req.Path, allowed)
		return res
	}

	abs, rel, ok := Within(root, req.Path)
	if !ok {
		res.Status = StatusRejected
		res.Err = action.NewOutsideRoot(req)
		return res
	}
	res.Path = rel

	info, err := os.Stat(abs)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return r.fallback(root, res)
	case err != nil:
		res.Status = StatusUnreadable
		res.Detail = err.Error()
		return res
	}

	// A symlink inside the tree may still point outside it.
	if target, err := filepath.EvalSymlinks(abs); err == nil && !inside(root, target) {
		res.Status = StatusRejected
		res.Err = action.NewOutsideRoot(req)
		return res
	}

	return r.serve(abs, info, res)
}

// serve fills res from the path at abs.
func (r *Resolver) serve(abs string, info fs.FileInfo, res Resolution) Resolution {
	req := res.Request

	if info.IsDir() != (req.Kind == action.KindDirectoryListing) {
		res.Status = StatusRejected
		res.Err = action.NewInvalidForPath(req, info.IsDir())
		return res
	}

	if info.IsDir() {
		listing, err := list(abs, res.Path)
		if err != nil {
			res.Status = StatusUnreadable
			res.Detail = err.Error()
			return res
		}
		if res.Status == "" {
			res.Status = StatusResolved
		}
		res.Listing = listing
		return res
	}

	res.Size = info.Size()
	if info.Size() > r.opts.MaxFileBytes {
		res.Status = StatusTooLarge
		res.Detail = fmt.Sprintf("file is %d bytes, limit is %d", info.Size(), r.opts.MaxFileBytes)
		return res
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		res.Status = StatusUnreadable
		res.Detail = err.Error()
		return res
	}
	if isBinary(data) {
		res.Status = StatusUnreadable
		res.Detail = "binary file"
		return res
	}

	if res.Status == "" {
		res.Status = StatusResolved
	}
	res.Content = string(data)
	return res
}

// fallback handles a path that does not exist by searching for a similar
// one of the same kind.
func (r *Resolver) fallback(root string, res Resolution) Resolution {
	cands := r.similar(root, res.Request)

	if best, ok := accept(res.Request.Path, cands); ok {
		abs := filepath.Join(root, filepath.FromSlash(best.Path))
		info, err := os.Stat(abs)
		if err == nil {
			r.log.Info().
				Str("requested", res.Request.Path).
				Str("served", best.Path).
				Msg("substituted similar path")
			res.Path = best.Path
			res.Status = StatusSubstituted
			return r.serve(abs, info, res)
		}
	}

	res.Status = StatusNotFound
	for i, c := range cands {
		if i == r.opts.MaxSuggestions {
			break
		}
		res.Suggestions = append(res.Suggestions, c.Path)
	}
	return res
}

// Within joins p onto root and reports whether the result stays inside
// root. It returns the absolute path and the slash-separated path relative
// to root.
func Within(root, p string) (abs, rel string, ok bool) {
	native := filepath.FromSlash(p)
	if filepath.IsAbs(native) {
		abs = filepath.Clean(native)
	} else {
		abs = filepath.Join(root, native)
	}

	if !inside(root, abs) {
		return "", "", false
	}

	r, err := filepath.Rel(root, abs)
	if err != nil {
		return "", "", false
	}
	return abs, filepath.ToSlash(r), true
}

func inside(root, abs string) bool {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// isBinary applies git's heuristic: a NUL byte in the first 8000 bytes.
func isBinary(data []byte) bool {
	n := min(len(data), 8000)
	return bytes.IndexByte(data[:n], 0) >= 0
}
