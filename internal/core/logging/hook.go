package logging

import (
	"context"

	"github.com/rs/zerolog"
)

// ContextHook copies session_id and turn from the event context onto log
// events.
type ContextHook struct{}

// Run adds contextual fields to the zerolog event.
func (h ContextHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == context.Background() || ctx == nil {
		return
	}

	if sessionID := GetSessionID(ctx); sessionID != "" {
		e.Str("session_id", sessionID)
	}

	if turn := GetTurn(ctx); turn > 0 {
		e.Int("turn", turn)
	}
}
