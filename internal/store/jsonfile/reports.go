// Package jsonfile stores session reports as files: one JSON document and
// one Markdown rendering per session.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/colonyops/mender/internal/core/session"
)

// ReportStore implements session.Store on a directory.
type ReportStore struct {
	dir string
	mu  sync.RWMutex
}

var _ session.Store = (*ReportStore)(nil)

// NewReportStore creates a store writing into dir. The directory is
// created on the first Save.
func NewReportStore(dir string) *ReportStore {
	return &ReportStore{dir: dir}
}

// Dir returns the directory reports are written to.
func (s *ReportStore) Dir() string {
	return s.dir
}

// JSONPath returns the file the report for id is stored in.
func (s *ReportStore) JSONPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// MarkdownPath returns the Markdown rendering of the report for id.
func (s *ReportStore) MarkdownPath(id string) string {
	return filepath.Join(s.dir, id+".md")
}

// Save writes r as <id>.json and <id>.md, replacing earlier files.
func (s *ReportStore) Save(ctx context.Context, r *session.Report) error {
	if err := validID(r.SessionID); err != nil {
		return err
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	if err := writeAtomic(s.JSONPath(r.SessionID), data); err != nil {
		return err
	}
	return writeAtomic(s.MarkdownPath(r.SessionID), []byte(r.Markdown()))
}

// Get reads the report for id. Returns session.ErrNotFound if missing.
func (s *ReportStore) Get(ctx context.Context, id string) (*session.Report, error) {
	if err := validID(id); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.load(s.JSONPath(id))
}

// List returns report summaries, newest first. Files that are not valid
// reports are skipped.
func (s *ReportStore) List(ctx context.Context) ([]session.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []session.Summary
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		r, err := s.load(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		out = append(out, r.Summary())
	}

	slices.SortFunc(out, func(a, b session.Summary) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.SessionID, b.SessionID)
	})
	return out, nil
}

func (s *ReportStore) load(path string) (*session.Report, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var r session.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return &r, nil
}

func validID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("invalid session id %q", id)
	}
	return nil
}

// writeAtomic writes data to a temporary file and renames it over path.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
