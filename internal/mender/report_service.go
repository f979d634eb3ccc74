package mender

import (
	"context"
	"errors"
	"os"

	"github.com/colonyops/mender/internal/core/session"
	"github.com/colonyops/mender/internal/data/stores"
	"github.com/colonyops/mender/internal/store/jsonfile"
)

// ReportService reads and prunes stored session reports.
type ReportService struct {
	reports *stores.ReportStore
	turns   *stores.TurnStore
	files   *jsonfile.ReportStore
}

// NewReportService creates a ReportService.
func NewReportService(reports *stores.ReportStore, turns *stores.TurnStore, files *jsonfile.ReportStore) *ReportService {
	return &ReportService{reports: reports, turns: turns, files: files}
}

// List returns report summaries, newest first.
func (s *ReportService) List(ctx context.Context) ([]session.Summary, error) {
	return s.reports.List(ctx)
}

// Get returns the report for id. Reports missing from the database are
// looked up in the reports directory.
func (s *ReportService) Get(ctx context.Context, id string) (*session.Report, error) {
	r, err := s.reports.Get(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		return s.files.Get(ctx, id)
	}
	return r, err
}

// Turns returns the turns logged for a session, in order. Unlike the
// report, the log includes turns of sessions that never finished.
func (s *ReportService) Turns(ctx context.Context, id string) ([]session.Turn, error) {
	return s.turns.List(ctx, id)
}

// Delete removes a report with its turn log and report files.
func (s *ReportService) Delete(ctx context.Context, id string) error {
	if err := s.reports.Delete(ctx, id); err != nil {
		return err
	}

	var errs []error
	for _, path := range []string{s.files.JSONPath(id), s.files.MarkdownPath(id)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MarkdownPath returns where the Markdown rendering of a report is written.
func (s *ReportService) MarkdownPath(id string) string {
	return s.files.MarkdownPath(id)
}
