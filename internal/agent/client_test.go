package agent

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/promisectl/internal/promise"
	"github.com/danmuck/promisectl/internal/protocol"
	"github.com/danmuck/promisectl/internal/protocol/frame"
	"github.com/danmuck/promisectl/internal/testutil/testlog"
)

type directoryModule struct {
	promise.Base
	created map[string]bool
	crash   bool
}

func (m *directoryModule) ValidatePromise(_ context.Context, _ *promise.Request, p *promise.Promise) error {
	if !strings.HasPrefix(p.Promiser, "/") {
		return promise.Invalidf("Promiser '%s' is not an absolute path", p.Promiser)
	}
	return nil
}

func (m *directoryModule) EvaluatePromise(_ context.Context, req *promise.Request, p *promise.Promise) (promise.Outcome, error) {
	if m.crash {
		panic("disk on fire")
	}
	if m.created[p.Promiser] {
		return promise.Kept(), nil
	}
	m.created[p.Promiser] = true
	req.Log.Infof("Created directory '%s'", p.Promiser)
	return promise.Repaired("dir_created"), nil
}

func newDirectoryModule() *directoryModule {
	return &directoryModule{created: map[string]bool{}}
}

func pipeSession(t *testing.T, m promise.Module, cfg promise.Config) (*Client, <-chan error) {
	t.Helper()
	toModuleR, toModuleW := io.Pipe()
	fromModuleR, fromModuleW := io.Pipe()

	rt, err := promise.New(m, cfg)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		err := rt.Serve(context.Background(), toModuleR, fromModuleW)
		_ = fromModuleW.Close()
		_ = rt.Close()
		done <- err
	}()

	c, err := NewClient(fromModuleR, toModuleW, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, done
}

func TestClientLifecycle(t *testing.T) {
	testlog.Start(t)

	ctx := context.Background()
	c, done := pipeSession(t, newDirectoryModule(), promise.Config{Name: "dirs", Version: "1.0.0"})
	assert.Equal(t, "dirs", c.Header().Name)

	reply, err := c.Init(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.ResultSuccess, reply.Result)

	reply, err = c.Validate(ctx, PromiseRequest{Promiser: "relative/dir"})
	require.NoError(t, err)
	assert.Equal(t, protocol.ResultInvalid, reply.Result)
	assert.Equal(t, []protocol.LogEntry{{Level: "error", Message: "Promiser 'relative/dir' is not an absolute path"}}, reply.LineLogs)

	p := PromiseRequest{Promiser: "/srv/www"}
	reply, err = c.Evaluate(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, protocol.ResultRepaired, reply.Result)
	assert.Equal(t, []string{"dir_created"}, reply.ResultClasses)
	assert.Equal(t, "Created directory '/srv/www'", reply.LineLogs[0].Message)

	reply, err = c.Evaluate(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, protocol.ResultKept, reply.Result)

	reply, err = c.Terminate(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.ResultSuccess, reply.Result)
	require.NoError(t, <-done)

	_, err = c.Init(ctx)
	assert.ErrorIs(t, err, ErrTerminated)
}

func TestReplyLogsMergeLineLogsFirst(t *testing.T) {
	testlog.Start(t)

	ctx := context.Background()
	m := newDirectoryModule()
	m.crash = true
	c, done := pipeSession(t, m, promise.DefaultConfig())

	reply, err := c.Evaluate(ctx, PromiseRequest{Promiser: "/x", LogLevel: "debug"})
	require.NoError(t, err)
	assert.Equal(t, protocol.ResultError, reply.Result)

	logs := reply.Logs()
	require.Len(t, logs, 2)
	assert.Equal(t, protocol.LogEntry{Level: "critical", Message: "panic: disk on fire"}, logs[0])
	assert.Equal(t, "debug", logs[1].Level)

	_, err = c.Terminate(ctx)
	require.NoError(t, err)
	require.NoError(t, <-done)
}

// scriptedModule answers every request with the next canned reply.
func scriptedModule(t *testing.T, replies ...string) *Client {
	t.Helper()
	toModuleR, toModuleW := io.Pipe()
	fromModuleR, fromModuleW := io.Pipe()
	go func() {
		defer fromModuleW.Close()
		r := frame.NewReader(toModuleR, nil)
		if _, err := protocol.ReadAgentHeader(r); err != nil {
			return
		}
		if _, err := io.WriteString(fromModuleW, "scripted 0.1 v1 json_based\n\n"); err != nil {
			return
		}
		for _, reply := range replies {
			if _, err := r.ReadFrame(); err != nil {
				return
			}
			if _, err := io.WriteString(fromModuleW, reply); err != nil {
				return
			}
		}
	}()
	c, err := NewClient(fromModuleR, toModuleW, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClientDetectsContractBreaks(t *testing.T) {
	testlog.Start(t)

	ctx := context.Background()
	c := scriptedModule(t,
		"{\"operation\":\"terminate\",\"result\":\"success\"}\n\n",
		"{\"operation\":\"init\",\"result\":\"kept\"}\n\n",
		"garbage\n",
	)

	reply, err := c.Init(ctx)
	assert.ErrorIs(t, err, ErrOperationMismatch)
	assert.Equal(t, protocol.OpTerminate, reply.Operation)

	_, err = c.Init(ctx)
	assert.ErrorIs(t, err, ErrUnexpectedResult)

	_, err = c.Init(ctx)
	assert.ErrorIs(t, err, ErrUnexpectedLine)
}

func TestClientRejectsLineBasedModules(t *testing.T) {
	testlog.Start(t)

	toModuleR, toModuleW := io.Pipe()
	fromModuleR, fromModuleW := io.Pipe()
	go func() {
		_, _ = protocol.ReadAgentHeader(frame.NewReader(toModuleR, nil))
		_, _ = io.WriteString(fromModuleW, "legacy 1.0 v1 line_based\n\n")
		_ = fromModuleW.Close()
	}()
	_, err := NewClient(fromModuleR, toModuleW, Options{})
	assert.ErrorIs(t, err, ErrLineBased)
}

const shellModule = `read header
read blank
echo "starting" >&2
printf 'shmod 1.0 v1 json_based\n\n'
while read line; do
  read blank
  case "$line" in
    *terminate*) printf '{"operation":"terminate","result":"success"}\n\n'; exit 0 ;;
    *init*) printf 'log_info=hello\\nworld\n{"operation":"init","result":"success"}\n\n' ;;
  esac
done
`

func TestStartSpawnsModule(t *testing.T) {
	testlog.Start(t)
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}

	script := filepath.Join(t.TempDir(), "module.sh")
	require.NoError(t, os.WriteFile(script, []byte(shellModule), 0o600))

	ctx := context.Background()
	c, err := Start(ctx, ModuleSpec{Name: "shmod", Path: script, Interpreter: "/bin/sh"}, Options{})
	require.NoError(t, err)

	reply, err := c.Init(ctx)
	require.NoError(t, err)
	assert.Equal(t, []protocol.LogEntry{{Level: "info", Message: "hello\nworld"}}, reply.LineLogs)

	reply, err = c.Terminate(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.ResultSuccess, reply.Result)
}

func TestStartReportsMissingBinary(t *testing.T) {
	testlog.Start(t)

	_, err := Start(context.Background(), ModuleSpec{Path: filepath.Join(t.TempDir(), "missing")}, Options{})
	assert.Error(t, err)
	_, err = Start(context.Background(), ModuleSpec{}, Options{})
	assert.Error(t, err)
}

func TestAttachServesInProcess(t *testing.T) {
	testlog.Start(t)

	ctx := context.Background()
	c, err := Attach(ctx, newDirectoryModule(), promise.Config{Name: "dirs", Version: "2.0.0"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "dirs", c.Header().Name)

	reply, err := c.Evaluate(ctx, PromiseRequest{Promiser: "/srv/data"})
	require.NoError(t, err)
	assert.Equal(t, protocol.ResultRepaired, reply.Result)

	_, err = c.Terminate(ctx)
	require.NoError(t, err)
	code, err := c.Wait()
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestAttachCloseWithoutTerminate(t *testing.T) {
	testlog.Start(t)

	c, err := Attach(context.Background(), newDirectoryModule(), promise.Config{Name: "dirs"}, Options{})
	require.NoError(t, err)
	require.NoError(t, c.Close())
	code, _ := c.Wait()
	assert.Equal(t, 1, code)
}
