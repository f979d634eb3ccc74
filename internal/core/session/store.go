package session

import "context"

// TurnLog receives every recorded turn. It is append-only; the controller
// never reads it back.
type TurnLog interface {
	Append(ctx context.Context, sessionID string, t Turn) error
}

// Store persists terminal reports.
type Store interface {
	// Save stores r, replacing any report with the same session id.
	Save(ctx context.Context, r *Report) error

	// Get returns the report for id. Returns ErrNotFound if none exists.
	Get(ctx context.Context, id string) (*Report, error)

	// List returns report summaries, newest first.
	List(ctx context.Context) ([]Summary, error)
}
