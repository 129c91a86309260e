package frame

import (
	"fmt"
	"io"
	"os"
	"sync"
)

const (
	InboundPrefix  = "<"
	OutboundPrefix = ">"
)

// Transcript mirrors every line exchanged with the peer so a session can
// be inspected or replayed later. Inbound lines are prefixed with "< ",
// outbound frame lines with "> ", and unframed lines are copied verbatim.
// A nil *Transcript is valid and records nothing.
type Transcript struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	err    error
}

// OpenTranscript opens path for appending, creating it when missing.
func OpenTranscript(path string) (*Transcript, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open transcript %s: %w", path, err)
	}
	return &Transcript{w: f, closer: f}, nil
}

// NewTranscript records into w. Closing the transcript does not close w.
func NewTranscript(w io.Writer) *Transcript {
	return &Transcript{w: w}
}

func (t *Transcript) Inbound(line string) {
	t.write(InboundPrefix + " " + line + "\n")
}

func (t *Transcript) Outbound(line string) {
	t.write(OutboundPrefix + " " + line + "\n")
}

func (t *Transcript) Raw(line string) {
	t.write(line + "\n")
}

// Err returns the first write error, if any.
func (t *Transcript) Err() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Transcript) Close() error {
	if t == nil || t.closer == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	err := t.closer.Close()
	t.closer = nil
	t.w = io.Discard
	return err
}

func (t *Transcript) write(s string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return
	}
	if _, err := io.WriteString(t.w, s); err != nil {
		t.err = err
	}
}
