// Package logging holds the zerolog helpers shared by mender components.
package logging

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Component creates a new logger with a component identifier from the
// process logger. Uses the "cmp" key for consistency with zerolog
// conventions.
func Component(name string) zerolog.Logger {
	return Sub(log.Logger, name)
}

// Sub derives a component logger from parent.
func Sub(parent zerolog.Logger, name string) zerolog.Logger {
	return parent.With().Str("cmp", name).Logger()
}
