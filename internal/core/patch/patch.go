// Package patch applies unified diffs proposed by the model to a working
// copy, one file at a time.
package patch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
	"github.com/rs/zerolog"

	"github.com/colonyops/mender/internal/core/resolve"
)

var (
	// ErrEmptyDiff is reported when the diff text is blank.
	ErrEmptyDiff = errors.New("diff is empty")
	// ErrNoFiles is reported when the diff has no recognizable file header.
	ErrNoFiles = errors.New("diff contains no file headers")
)

// Op is the kind of change a diff makes to one file.
type Op string

const (
	OpModify Op = "modify"
	OpCreate Op = "create"
	OpDelete Op = "delete"
	OpRename Op = "rename"
)

// Status is the outcome for one file.
type Status string

const (
	StatusApplied        Status = "applied"
	StatusAlreadyApplied Status = "already_applied"
	StatusFailed         Status = "failed"
	StatusSkipped        Status = "skipped"
)

// FileResult reports what happened to one file of the diff.
type FileResult struct {
	Path    string `json:"path"`
	OldPath string `json:"old_path,omitempty"`
	Op      Op     `json:"op"`
	Status  Status `json:"status"`
	Reason  string `json:"reason,omitempty"`
	// Relocated is set when at least one hunk was applied away from the
	// position named in its header.
	Relocated bool `json:"relocated,omitempty"`
	Stats     Stat `json:"stats"`
}

// OK reports whether the file ended up in its post-patch state.
func (f FileResult) OK() bool {
	return f.Status == StatusApplied || f.Status == StatusAlreadyApplied
}

// Result is the outcome of applying a diff.
type Result struct {
	Files []FileResult `json:"files"`
	Stats Stat         `json:"stats"`
	// Err is set when the diff as a whole could not be read. No file was
	// touched in that case.
	Err error `json:"-"`
}

// AppliedFiles lists the files in their post-patch state, including those
// that already matched it.
func (r Result) AppliedFiles() []string {
	var out []string
	for _, f := range r.Files {
		if f.OK() {
			out = append(out, f.Path)
		}
	}
	return out
}

// FailedFiles lists the files that could not be patched.
func (r Result) FailedFiles() []FileResult {
	var out []FileResult
	for _, f := range r.Files {
		if !f.OK() {
			out = append(out, f)
		}
	}
	return out
}

// OK reports whether every file of the diff is in its post-patch state.
func (r Result) OK() bool {
	return r.Err == nil && len(r.Files) > 0 && len(r.FailedFiles()) == 0
}

// Changed reports whether any file on disk was modified.
func (r Result) Changed() bool {
	for _, f := range r.Files {
		if f.Status == StatusApplied {
			return true
		}
	}
	return false
}

// Applier applies diffs to a working copy.
type Applier struct {
	log zerolog.Logger
}

// New creates an Applier.
func New(log zerolog.Logger) *Applier {
	return &Applier{log: log}
}

// Apply applies diffText to the working copy at root. Files are handled
// independently: a file that fails keeps its original content and does not
// stop the others. Cancellation is checked between files only.
func (a *Applier) Apply(ctx context.Context, root, diffText string) Result {
	if strings.TrimSpace(diffText) == "" {
		return Result{Err: ErrEmptyDiff}
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return Result{Err: fmt.Errorf("project root: %w", err)}
	}

	chunks := split(diffText)
	if len(chunks) == 0 {
		return Result{Err: ErrNoFiles}
	}

	var res Result
	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			for _, rest := range chunks[i:] {
				res.Files = append(res.Files, FileResult{
					Path:   rest.displayPath(),
					Status: StatusSkipped,
					Reason: "not attempted: " + err.Error(),
				})
			}
			break
		}

		fr := a.applyChunk(root, c)
		a.log.Debug().
			Str("path", fr.Path).
			Str("op", string(fr.Op)).
			Str("status", string(fr.Status)).
			Str("reason", fr.Reason).
			Msg("patched file")

		res.Stats = res.Stats.add(fr.Stats)
		res.Files = append(res.Files, fr)
	}
	return res
}

func (a *Applier) applyChunk(root string, c chunk) FileResult {
	fr := FileResult{Path: c.displayPath(), Status: StatusFailed}

	if c.binary {
		fr.Reason = "binary patches are not supported"
		return fr
	}

	h, err := c.header(root)
	if err != nil {
		fr.Reason = err.Error()
		return fr
	}
	fr.Path, fr.Op = h.path(), h.op()
	if h.op() == OpRename {
		fr.OldPath = h.oldName
	}

	var oldAbs, newAbs string
	if !h.isNew {
		abs, _, ok := resolve.Within(root, h.oldName)
		if !ok {
			fr.Reason = fmt.Sprintf("path %q is outside the project root", h.oldName)
			return fr
		}
		oldAbs = abs
	}
	if !h.isDelete {
		abs, _, ok := resolve.Within(root, h.newName)
		if !ok {
			fr.Reason = fmt.Sprintf("path %q is outside the project root", h.newName)
			return fr
		}
		newAbs = abs
	}

	text, err := c.normalize(h)
	if err != nil {
		fr.Reason = err.Error()
		return fr
	}
	fr.Stats = statOf(text)

	files, _, err := gitdiff.Parse(strings.NewReader(text))
	if err != nil {
		fr.Reason = "malformed diff: " + err.Error()
		return fr
	}
	if len(files) != 1 {
		fr.Reason = "malformed diff: expected one file section"
		return fr
	}
	f := files[0]

	switch {
	case h.isDelete:
		return a.deleteFile(fr, oldAbs)
	case h.isNew:
		return a.createFile(fr, newAbs, f)
	default:
		return a.modifyFile(fr, oldAbs, newAbs, f)
	}
}

func (a *Applier) deleteFile(fr FileResult, abs string) FileResult {
	if _, err := os.Lstat(abs); errors.Is(err, fs.ErrNotExist) {
		fr.Status = StatusAlreadyApplied
		return fr
	}

	if err := os.Remove(abs); err != nil {
		fr.Reason = "delete: " + err.Error()
		return fr
	}
	if _, err := os.Lstat(abs); !errors.Is(err, fs.ErrNotExist) {
		fr.Reason = "verification failed: file still exists after delete"
		return fr
	}

	fr.Status = StatusApplied
	return fr
}

func (a *Applier) createFile(fr FileResult, abs string, f *gitdiff.File) FileResult {
	var buf bytes.Buffer
	if err := gitdiff.Apply(&buf, bytes.NewReader(nil), f); err != nil {
		fr.Reason = "new file: " + err.Error()
		return fr
	}
	want := buf.Bytes()

	existing, err := os.ReadFile(abs)
	switch {
	case err == nil && bytes.Equal(existing, want):
		fr.Status = StatusAlreadyApplied
		return fr
	case err == nil && len(existing) > 0:
		fr.Reason = "file already exists; send a diff that modifies it instead of creating it"
		return fr
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		fr.Reason = "read: " + err.Error()
		return fr
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		fr.Reason = "create directory: " + err.Error()
		return fr
	}
	if err := writeFile(abs, want, 0o644); err != nil {
		fr.Reason = "write: " + err.Error()
		return fr
	}
	if err := verify(abs, want, f.TextFragments); err != nil {
		_ = os.Remove(abs)
		fr.Reason = err.Error()
		return fr
	}

	fr.Status = StatusApplied
	return fr
}

func (a *Applier) modifyFile(fr FileResult, oldAbs, newAbs string, f *gitdiff.File) FileResult {
	src := oldAbs
	renamed := oldAbs != newAbs
	if renamed {
		_, oldErr := os.Stat(oldAbs)
		_, newErr := os.Stat(newAbs)
		switch {
		case errors.Is(oldErr, fs.ErrNotExist) && newErr == nil:
			// Renamed by an earlier apply of the same diff.
			src, renamed = newAbs, false
		case oldErr == nil && newErr == nil:
			fr.Reason = fmt.Sprintf("rename target %q already exists", fr.Path)
			return fr
		}
	}

	info, err := os.Stat(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			fr.Reason = "file does not exist; use /dev/null as the old name to create it"
		} else {
			fr.Reason = "stat: " + err.Error()
		}
		return fr
	}
	if info.IsDir() {
		fr.Reason = "path is a directory"
		return fr
	}

	original, err := os.ReadFile(src)
	if err != nil {
		fr.Reason = "read: " + err.Error()
		return fr
	}

	patched, st, err := patchContent(original, f)
	if err != nil {
		fr.Reason = err.Error()
		return fr
	}
	fr.Relocated = st == stateRelocated

	if st == stateAlreadyApplied && !renamed {
		fr.Status = StatusAlreadyApplied
		return fr
	}

	mode := info.Mode().Perm()
	if renamed {
		if err := os.MkdirAll(filepath.Dir(newAbs), 0o755); err != nil {
			fr.Reason = "create directory: " + err.Error()
			return fr
		}
	}
	if err := writeFile(newAbs, patched, mode); err != nil {
		fr.Reason = "write: " + err.Error()
		return fr
	}

	if err := verify(newAbs, patched, f.TextFragments); err != nil {
		if renamed {
			_ = os.Remove(newAbs)
		} else if rerr := writeFile(src, original, mode); rerr != nil {
			a.log.Error().Err(rerr).Str("path", fr.Path).Msg("failed to restore original content")
		}
		fr.Reason = err.Error()
		return fr
	}

	if renamed {
		if err := os.Remove(oldAbs); err != nil {
			_ = os.Remove(newAbs)
			fr.Reason = "rename: " + err.Error()
			return fr
		}
	}

	fr.Status = StatusApplied
	return fr
}
