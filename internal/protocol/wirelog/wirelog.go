// Package wirelog emits severity-filtered log lines on the protocol
// channel, ahead of the response frame they belong to.
package wirelog

import (
	"errors"
	"fmt"
	"strings"
)

// Level is a protocol log severity.
type Level string

const (
	Critical Level = "critical"
	Error    Level = "error"
	Warning  Level = "warning"
	Notice   Level = "notice"
	Info     Level = "info"
	Verbose  Level = "verbose"
	Debug    Level = "debug"
)

const linePrefix = "log_"

var ErrMalformedLine = errors.New("wirelog: malformed log line")

// rank orders levels from most to least urgent.
var rank = map[Level]int{
	Critical: 0,
	Error:    1,
	Warning:  2,
	Notice:   3,
	Info:     4,
	Verbose:  5,
	Debug:    6,
}

// Levels returns all known levels, most urgent first.
func Levels() []Level {
	return []Level{Critical, Error, Warning, Notice, Info, Verbose, Debug}
}

// ParseLevel normalises raw; ok is false when raw is not a known level.
func ParseLevel(raw string) (Level, bool) {
	level := Level(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := rank[level]
	return level, ok
}

func (l Level) Known() bool {
	_, ok := rank[l]
	return ok
}

// WouldLog reports whether a message at level passes threshold. An
// unknown threshold or an unknown message level always passes.
//
// Logging everything under an unrecognised threshold is a compatibility
// quirk kept to match existing agents, not a policy choice; the runtime
// warns on stderr when a request carries such a threshold.
func WouldLog(threshold, level Level) bool {
	t, ok := rank[threshold]
	if !ok {
		return true
	}
	m, ok := rank[level]
	if !ok {
		return true
	}
	return m <= t
}

// Escape replaces newlines with the two characters `\n`.
func Escape(msg string) string {
	return strings.ReplaceAll(msg, "\n", `\n`)
}

// Unescape reverses Escape.
func Unescape(msg string) string {
	return strings.ReplaceAll(msg, `\n`, "\n")
}

// FormatLine renders one wire log line without its line terminator.
func FormatLine(level Level, msg string) string {
	return linePrefix + string(level) + "=" + Escape(msg)
}

// IsLine reports whether line looks like a wire log line.
func IsLine(line string) bool {
	_, _, err := ParseLine(line)
	return err == nil
}

// ParseLine splits a wire log line into its level and unescaped message.
func ParseLine(line string) (Level, string, error) {
	rest, ok := strings.CutPrefix(line, linePrefix)
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedLine, line)
	}
	level, msg, ok := strings.Cut(rest, "=")
	if !ok || level == "" || strings.ContainsAny(level, " \t{") {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedLine, line)
	}
	return Level(level), Unescape(msg), nil
}
