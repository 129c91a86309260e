package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/danmuck/promisectl/internal/protocol"
	"github.com/danmuck/promisectl/internal/protocol/frame"
	"github.com/danmuck/promisectl/internal/protocol/wirelog"
)

var ErrMalformedTranscript = errors.New("agent: malformed transcript")

// Session is one recorded module session.
type Session struct {
	AgentHeader string
	Greeting    string
	Exchanges   []Exchange
}

// Exchange is one recorded request and what the module answered.
type Exchange struct {
	Request  string
	LogLines []string
	Response string
}

// ParseTranscript splits a transcript into sessions. Transcripts are
// appended to, so one file may hold several sessions back to back.
func ParseTranscript(r io.Reader) ([]Session, error) {
	var (
		sessions []Session
		cur      *Session
		inHeader bool
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), frame.DefaultLimits().MaxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		inbound, isIn := cutDirection(line, frame.InboundPrefix)
		outbound, isOut := cutDirection(line, frame.OutboundPrefix)
		switch {
		case isIn && inbound == "":
			inHeader = false
		case isIn && (cur == nil || !strings.HasPrefix(inbound, "{")):
			if inHeader && cur != nil {
				// header block line
				continue
			}
			sessions = append(sessions, Session{AgentHeader: inbound})
			cur = &sessions[len(sessions)-1]
			inHeader = true
		case isIn:
			cur.Exchanges = append(cur.Exchanges, Exchange{Request: inbound})
		case isOut && outbound == "":
		case isOut:
			if cur == nil {
				return nil, fmt.Errorf("%w: line %d: output before agent header", ErrMalformedTranscript, lineNo)
			}
			if cur.Greeting == "" && len(cur.Exchanges) == 0 {
				cur.Greeting = outbound
				continue
			}
			if len(cur.Exchanges) == 0 {
				return nil, fmt.Errorf("%w: line %d: response without request", ErrMalformedTranscript, lineNo)
			}
			cur.Exchanges[len(cur.Exchanges)-1].Response = outbound
		case wirelog.IsLine(line):
			if cur == nil || len(cur.Exchanges) == 0 {
				return nil, fmt.Errorf("%w: line %d: log line outside a request", ErrMalformedTranscript, lineNo)
			}
			ex := &cur.Exchanges[len(cur.Exchanges)-1]
			ex.LogLines = append(ex.LogLines, line)
		default:
			return nil, fmt.Errorf("%w: line %d: %q", ErrMalformedTranscript, lineNo, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

// cutDirection strips a "<" or ">" marker. A bare marker is a recorded
// blank line.
func cutDirection(line, prefix string) (string, bool) {
	if line == prefix {
		return "", true
	}
	rest, ok := strings.CutPrefix(line, prefix+" ")
	return rest, ok
}

// Mismatch is one difference between a recorded and a replayed reply.
type Mismatch struct {
	Exchange  int
	Operation protocol.Operation
	Field     string
	Expected  string
	Actual    string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("exchange %d (%s): %s: expected %s, got %s", m.Exchange, m.Operation, m.Field, m.Expected, m.Actual)
}

// Report summarizes a replay.
type Report struct {
	Exchanges  int
	Mismatches []Mismatch
}

func (r Report) OK() bool {
	return len(r.Mismatches) == 0
}

// Replay sends the recorded requests of s to c and compares every reply
// with the recorded one. Replay stops at the first transport error.
func Replay(ctx context.Context, c *Client, s Session) (Report, error) {
	var report Report
	for i, ex := range s.Exchanges {
		req, err := protocol.DecodeRequest(ex.Request)
		if err != nil {
			return report, fmt.Errorf("exchange %d: %w", i, err)
		}
		var reply Reply
		if req.Operation == protocol.OpTerminate {
			reply, err = c.Terminate(ctx)
		} else {
			reply, err = c.Do(ctx, req)
		}
		if err != nil && !errors.Is(err, ErrOperationMismatch) && !errors.Is(err, ErrUnexpectedResult) {
			return report, fmt.Errorf("exchange %d: %w", i, err)
		}
		report.Exchanges++
		report.Mismatches = append(report.Mismatches, compareExchange(i, req.Operation, ex, reply)...)
	}
	return report, nil
}

func compareExchange(i int, op protocol.Operation, ex Exchange, reply Reply) []Mismatch {
	var out []Mismatch
	add := func(field, expected, actual string) {
		if expected != actual {
			out = append(out, Mismatch{Exchange: i, Operation: op, Field: field, Expected: expected, Actual: actual})
		}
	}

	want, err := protocol.DecodeResponse(ex.Response)
	if err != nil {
		add("response", ex.Response, "<undecodable recording>")
		return out
	}
	add("operation", string(want.Operation), string(reply.Operation))
	add("result", string(want.Result), string(reply.Result))
	add("promiser", want.Promiser, reply.Promiser)
	add("attributes", canonical(want.Attributes), canonical(reply.Attributes))
	add("result_classes", canonical(want.ResultClasses), canonical(reply.ResultClasses))

	got := make([]string, 0, len(reply.LineLogs))
	for _, entry := range reply.LineLogs {
		got = append(got, wirelog.FormatLine(wirelog.Level(entry.Level), entry.Message))
	}
	if !slices.Equal(ex.LogLines, got) {
		add("log", canonical(ex.LogLines), canonical(got))
	}
	return out
}

func canonical(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
