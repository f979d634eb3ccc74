package logging

import "context"

type contextKey string

const (
	sessionIDKey contextKey = "session_id"
	turnKey      contextKey = "turn"
)

// WithSessionID adds a session ID to the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// WithTurn adds the current turn index to the context.
func WithTurn(ctx context.Context, turn int) context.Context {
	return context.WithValue(ctx, turnKey, turn)
}

// GetSessionID retrieves the session ID from the context.
// Returns empty string if not present.
func GetSessionID(ctx context.Context) string {
	if id, ok := ctx.Value(sessionIDKey).(string); ok {
		return id
	}
	return ""
}

// GetTurn retrieves the turn index from the context.
// Returns 0 if not present.
func GetTurn(ctx context.Context) int {
	if n, ok := ctx.Value(turnKey).(int); ok {
		return n
	}
	return 0
}
