package observability

import (
	"github.com/rs/zerolog"

	"github.com/danmuck/promisectl/internal/logging"
)

// SessionLogger returns the diagnostics logger for one module session.
func SessionLogger(module, session string) zerolog.Logger {
	return logging.Logger("promise").With().
		Str("module", module).
		Str("session", session).
		Logger()
}
