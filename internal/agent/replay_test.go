package agent

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/promisectl/internal/promise"
	"github.com/danmuck/promisectl/internal/testutil/testlog"
)

func recordSession(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "record.log")
	ctx := context.Background()
	c, done := pipeSession(t, newDirectoryModule(), promise.Config{Name: "dirs", Version: "1.0.0", RecordFile: path})

	_, err := c.Init(ctx)
	require.NoError(t, err)
	_, err = c.Validate(ctx, PromiseRequest{Promiser: "nope"})
	require.NoError(t, err)
	_, err = c.Evaluate(ctx, PromiseRequest{Promiser: "/srv/www"})
	require.NoError(t, err)
	_, err = c.Evaluate(ctx, PromiseRequest{Promiser: "/srv/www"})
	require.NoError(t, err)
	_, err = c.Terminate(ctx)
	require.NoError(t, err)
	require.NoError(t, <-done)
	return path
}

func TestParseTranscript(t *testing.T) {
	testlog.Start(t)

	data, err := os.ReadFile(recordSession(t))
	require.NoError(t, err)
	doubled := append(append([]byte{}, data...), data...)

	sessions, err := ParseTranscript(bytes.NewReader(doubled))
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	s := sessions[1]
	assert.Equal(t, "CFEngine 3.16.0 v1", s.AgentHeader)
	assert.Equal(t, "dirs 1.0.0 v1 json_based", s.Greeting)
	require.Len(t, s.Exchanges, 5)
	assert.Equal(t, []string{"log_error=Promiser 'nope' is not an absolute path"}, s.Exchanges[1].LogLines)
	assert.Equal(t, []string{"log_info=Created directory '/srv/www'"}, s.Exchanges[2].LogLines)
	assert.Empty(t, s.Exchanges[3].LogLines)
	assert.Contains(t, s.Exchanges[3].Response, `"result":"kept"`)
}

func TestParseTranscriptRejectsNoise(t *testing.T) {
	testlog.Start(t)

	_, err := ParseTranscript(strings.NewReader("> greeting\n"))
	assert.ErrorIs(t, err, ErrMalformedTranscript)
	_, err = ParseTranscript(strings.NewReader("< CFEngine 3.16.0 v1\n< \nwhat is this\n"))
	assert.ErrorIs(t, err, ErrMalformedTranscript)
}

func TestReplayMatchesRecording(t *testing.T) {
	testlog.Start(t)

	f, err := os.Open(recordSession(t))
	require.NoError(t, err)
	defer f.Close()
	sessions, err := ParseTranscript(f)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	c, done := pipeSession(t, newDirectoryModule(), promise.Config{Name: "dirs", Version: "1.0.0"})
	report, err := Replay(context.Background(), c, sessions[0])
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, 5, report.Exchanges)
	assert.True(t, report.OK(), "%v", report.Mismatches)
}

func TestReplayReportsDrift(t *testing.T) {
	testlog.Start(t)

	f, err := os.Open(recordSession(t))
	require.NoError(t, err)
	defer f.Close()
	sessions, err := ParseTranscript(f)
	require.NoError(t, err)

	m := newDirectoryModule()
	m.created["/srv/www"] = true
	c, done := pipeSession(t, m, promise.Config{Name: "dirs", Version: "1.0.0"})
	report, err := Replay(context.Background(), c, sessions[0])
	require.NoError(t, err)
	require.NoError(t, <-done)

	require.False(t, report.OK())
	fields := map[string]bool{}
	for _, mm := range report.Mismatches {
		assert.Equal(t, 2, mm.Exchange)
		fields[mm.Field] = true
	}
	assert.True(t, fields["result"])
	assert.True(t, fields["result_classes"])
	assert.True(t, fields["log"])
}
