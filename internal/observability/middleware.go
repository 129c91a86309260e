package observability

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/promisectl/internal/protocol"
)

// LogRequest writes one diagnostics record for an answered request. The
// level follows the result: error results log at error, results that
// report a failed or rejected promise at warn, the rest at debug.
func LogRequest(logger zerolog.Logger, req protocol.Request, result protocol.Result, duration time.Duration) {
	event := logger.Debug()
	switch result {
	case protocol.ResultError:
		event = logger.Error()
	case protocol.ResultFailure, protocol.ResultInvalid, protocol.ResultNotKept:
		event = logger.Warn()
	}

	event = event.
		Str("operation", string(req.Operation)).
		Str("result", string(result)).
		Dur("duration", duration)
	if req.Operation.PromiseScoped() {
		event = event.Str("promiser", req.Promiser)
	}
	if req.Filename != "" {
		event = event.Str("filename", req.Filename).Int("line", req.LineNumber)
	}
	event.Msg("promise_request")
}
