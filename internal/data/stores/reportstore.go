package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/colonyops/mender/internal/core/session"
	"github.com/colonyops/mender/internal/data/db"
)

// ReportStore implements session.Store using SQLite. The full report is
// kept as JSON next to the columns used for listing.
type ReportStore struct {
	db *db.DB
}

var _ session.Store = (*ReportStore)(nil)

// NewReportStore creates a new SQLite-backed report store.
func NewReportStore(db *db.DB) *ReportStore {
	return &ReportStore{db: db}
}

// Save creates or replaces the report for r.SessionID.
func (s *ReportStore) Save(ctx context.Context, r *session.Report) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	_, err = s.db.Conn().ExecContext(ctx, `
		INSERT INTO reports (session_id, name, project_root, provider, model, outcome, turn_count, cost, started_at, ended_at, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			name = excluded.name,
			project_root = excluded.project_root,
			provider = excluded.provider,
			model = excluded.model,
			outcome = excluded.outcome,
			turn_count = excluded.turn_count,
			cost = excluded.cost,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			body = excluded.body`,
		r.SessionID, r.Name, r.ProjectRoot, r.Provider, r.Model, string(r.Outcome),
		r.TurnCount, r.Cost, r.StartedAt.UnixNano(), r.EndedAt.UnixNano(), string(body),
	)
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

// Get returns the report for id. Returns session.ErrNotFound if missing.
func (s *ReportStore) Get(ctx context.Context, id string) (*session.Report, error) {
	var body string
	err := s.db.Conn().QueryRowContext(ctx, "SELECT body FROM reports WHERE session_id = ?", id).Scan(&body)
	if IsNotFoundError(err) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}

	var r session.Report
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report %s: %w", id, err)
	}
	return &r, nil
}

// List returns report summaries, newest first.
func (s *ReportStore) List(ctx context.Context) ([]session.Summary, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT session_id, name, outcome, turn_count, cost, started_at
		FROM reports
		ORDER BY started_at DESC, session_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []session.Summary
	for rows.Next() {
		var (
			sum     session.Summary
			outcome string
			started int64
		)
		if err := rows.Scan(&sum.SessionID, &sum.Name, &outcome, &sum.TurnCount, &sum.Cost, &started); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		sum.Outcome = session.Outcome(outcome)
		sum.StartedAt = time.Unix(0, started).UTC()
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Delete removes the report and the turns logged for id. Returns
// session.ErrNotFound if no report exists.
func (s *ReportStore) Delete(ctx context.Context, id string) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM reports WHERE session_id = ?", id)
		if err != nil {
			return fmt.Errorf("failed to delete report: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return session.ErrNotFound
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM turns WHERE session_id = ?", id); err != nil {
			return fmt.Errorf("failed to delete turns: %w", err)
		}
		return nil
	})
}
