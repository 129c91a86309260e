package wirelog

import "fmt"

// Sink receives rendered log lines. frame.Writer satisfies it.
type Sink interface {
	WriteLine(line string) error
}

// Logger writes log lines for one request, filtered by the threshold the
// agent sent with it. A nil *Logger discards everything.
type Logger struct {
	sink      Sink
	threshold Level
	err       error
}

// New returns a logger bound to sink. An empty threshold logs everything.
func New(sink Sink, threshold string) *Logger {
	return &Logger{sink: sink, threshold: Level(threshold)}
}

// Threshold is the level floor this logger filters against.
func (l *Logger) Threshold() Level {
	if l == nil {
		return ""
	}
	return l.threshold
}

// Enabled reports whether a message at level would be written.
func (l *Logger) Enabled(level Level) bool {
	if l == nil || l.sink == nil {
		return false
	}
	return l.threshold == "" || WouldLog(l.threshold, level)
}

// Log writes msg at level when it passes the threshold. Write failures
// are kept and reported by Err; later calls become no-ops.
func (l *Logger) Log(level Level, msg string) {
	if !l.Enabled(level) || l.err != nil {
		return
	}
	if err := l.sink.WriteLine(FormatLine(level, msg)); err != nil {
		l.err = err
	}
}

// Err returns the first sink write failure.
func (l *Logger) Err() error {
	if l == nil {
		return nil
	}
	return l.err
}

func (l *Logger) Critical(msg string) { l.Log(Critical, msg) }
func (l *Logger) Error(msg string)    { l.Log(Error, msg) }
func (l *Logger) Warning(msg string)  { l.Log(Warning, msg) }
func (l *Logger) Notice(msg string)   { l.Log(Notice, msg) }
func (l *Logger) Info(msg string)     { l.Log(Info, msg) }
func (l *Logger) Verbose(msg string)  { l.Log(Verbose, msg) }
func (l *Logger) Debug(msg string)    { l.Log(Debug, msg) }

func (l *Logger) Criticalf(format string, args ...any) { l.Log(Critical, fmt.Sprintf(format, args...)) }
func (l *Logger) Errorf(format string, args ...any)    { l.Log(Error, fmt.Sprintf(format, args...)) }
func (l *Logger) Warningf(format string, args ...any)  { l.Log(Warning, fmt.Sprintf(format, args...)) }
func (l *Logger) Noticef(format string, args ...any)   { l.Log(Notice, fmt.Sprintf(format, args...)) }
func (l *Logger) Infof(format string, args ...any)     { l.Log(Info, fmt.Sprintf(format, args...)) }
func (l *Logger) Verbosef(format string, args ...any)  { l.Log(Verbose, fmt.Sprintf(format, args...)) }
func (l *Logger) Debugf(format string, args ...any)    { l.Log(Debug, fmt.Sprintf(format, args...)) }
