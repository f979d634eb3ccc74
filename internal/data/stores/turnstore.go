package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/colonyops/mender/internal/core/session"
	"github.com/colonyops/mender/internal/data/db"
)

const (
	busyRetries = 3
	busyWait    = 50 * time.Millisecond
)

// TurnStore implements session.TurnLog using SQLite.
type TurnStore struct {
	db *db.DB
}

var _ session.TurnLog = (*TurnStore)(nil)

// NewTurnStore creates a new SQLite-backed turn log.
func NewTurnStore(db *db.DB) *TurnStore {
	return &TurnStore{db: db}
}

// Append records t for sessionID. A turn index is written once; appending
// the same index again fails.
func (s *TurnStore) Append(ctx context.Context, sessionID string, t session.Turn) error {
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	// Parallel batch sessions share the database; a busy writer is retried
	// beyond the connection's busy timeout.
	wait := busyWait
	for attempt := 0; ; attempt++ {
		_, err = s.db.Conn().ExecContext(ctx, `
			INSERT INTO turns (session_id, turn_index, answering, action, system_action, retries_left, created_at, body)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sessionID, t.Index, string(t.Answering), t.Action.Type, string(t.SystemAction),
			t.RetriesLeft, t.Timestamp.UnixNano(), string(body),
		)
		if err == nil || !IsBusyError(err) || attempt == busyRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			wait *= 2
		}
	}
	if err != nil {
		return fmt.Errorf("failed to append turn %d: %w", t.Index, err)
	}
	return nil
}

// List returns the turns logged for sessionID in index order.
func (s *TurnStore) List(ctx context.Context, sessionID string) ([]session.Turn, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		"SELECT body FROM turns WHERE session_id = ? ORDER BY turn_index", sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []session.Turn
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}

		var t session.Turn
		if err := json.Unmarshal([]byte(body), &t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal turn: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
