// Package frame reads and writes newline-delimited protocol frames.
//
// A frame is one payload line followed by one empty line. The package
// knows nothing about what the payload means.
package frame

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/danmuck/promisectl/internal/logging"
)

var (
	ErrLineTooLong     = errors.New("frame: line too long")
	ErrEmbeddedNewline = errors.New("frame: payload contains a newline")
)

// Limits constrains line sizes accepted from the peer.
type Limits struct {
	MaxLineBytes int
}

func DefaultLimits() Limits {
	return Limits{MaxLineBytes: 8 * 1024 * 1024}
}

// Reader reads lines and frames from the peer.
type Reader struct {
	br         *bufio.Reader
	limits     Limits
	transcript *Transcript
	log        zerolog.Logger
}

// NewReader wraps r. A nil transcript disables mirroring.
func NewReader(r io.Reader, t *Transcript) *Reader {
	return &Reader{
		br:         bufio.NewReader(r),
		limits:     DefaultLimits(),
		transcript: t,
		log:        logging.Logger("frame"),
	}
}

// SetLimits replaces the default line limits.
func (r *Reader) SetLimits(l Limits) {
	r.limits = l
}

// ReadLine returns the next line without its line terminator. It returns
// io.EOF only when no bytes were left; a final unterminated line is
// returned as a regular line.
func (r *Reader) ReadLine() (string, error) {
	var buf []byte
	for {
		chunk, err := r.br.ReadSlice('\n')
		buf = append(buf, chunk...)
		if r.limits.MaxLineBytes > 0 && len(buf) > r.limits.MaxLineBytes {
			return "", fmt.Errorf("%w: more than %d bytes", ErrLineTooLong, r.limits.MaxLineBytes)
		}
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) {
			if len(buf) == 0 {
				return "", io.EOF
			}
			break
		}
		return "", err
	}
	line := strings.TrimSuffix(string(buf), "\n")
	line = strings.TrimSuffix(line, "\r")
	r.transcript.Inbound(line)
	return line, nil
}

// ReadFrame returns the payload line of the next frame and consumes the
// blank line that follows it. A non-blank terminator is dropped without
// failing the read; EOF before the payload is returned as io.EOF.
func (r *Reader) ReadFrame() (string, error) {
	payload, err := r.ReadLine()
	if err != nil {
		return "", err
	}
	term, err := r.ReadLine()
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	if strings.TrimSpace(term) != "" {
		r.log.Warn().Str("line", term).Msg("frame terminator is not blank")
	}
	return payload, nil
}

// Writer writes frames and unframed lines to the peer. Every write is
// flushed before it returns.
type Writer struct {
	bw         *bufio.Writer
	transcript *Transcript
}

// NewWriter wraps w. A nil transcript disables mirroring.
func NewWriter(w io.Writer, t *Transcript) *Writer {
	return &Writer{bw: bufio.NewWriter(w), transcript: t}
}

// WriteFrame writes payload followed by an empty line.
func (w *Writer) WriteFrame(payload string) error {
	if strings.ContainsRune(payload, '\n') {
		return ErrEmbeddedNewline
	}
	if _, err := w.bw.WriteString(payload + "\n\n"); err != nil {
		return err
	}
	if err := w.bw.Flush(); err != nil {
		return err
	}
	w.transcript.Outbound(payload)
	w.transcript.Outbound("")
	return nil
}

// WriteLine writes a single line that is not a frame of its own, such as
// a log line interleaved ahead of a response.
func (w *Writer) WriteLine(line string) error {
	if strings.ContainsRune(line, '\n') {
		return ErrEmbeddedNewline
	}
	if _, err := w.bw.WriteString(line + "\n"); err != nil {
		return err
	}
	if err := w.bw.Flush(); err != nil {
		return err
	}
	w.transcript.Raw(line)
	return nil
}
