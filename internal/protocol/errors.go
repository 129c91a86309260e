package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedHeader     = errors.New("protocol: malformed header")
	ErrUnsupportedAgent    = errors.New("protocol: unsupported agent version")
	ErrUnsupportedProtocol = errors.New("protocol: unsupported protocol version")
	ErrUnexpectedEOF       = errors.New("protocol: unexpected end of stream")
	ErrInvalidRequest      = errors.New("protocol: invalid request")
	ErrInvalidResponse     = errors.New("protocol: invalid response")
	ErrUnknownOperation    = errors.New("protocol: unknown operation")
	ErrInvalidValue        = errors.New("protocol: invalid attribute value")
)

// Error is a fatal protocol failure. Nothing is written back to the peer
// once one is returned; the process is expected to exit.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("protocol error during %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func fatal(stage string, err error) error {
	return &Error{Stage: stage, Err: err}
}

// NewError wraps err as a fatal protocol error raised during stage.
func NewError(stage string, err error) error {
	return fatal(stage, err)
}
