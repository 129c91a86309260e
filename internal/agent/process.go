package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/promisectl/internal/logging"
	"github.com/danmuck/promisectl/internal/promise"
	"github.com/danmuck/promisectl/internal/protocol/frame"
)

// ModuleSpec describes how to start a module process.
type ModuleSpec struct {
	Name string
	Path string
	// Interpreter, when set, runs Path as its first argument.
	Interpreter string
	Args        []string
	Dir         string
	Env         []string
	// RecordFile is passed to the module as its transcript path.
	RecordFile string
	// Timeout bounds the whole session; zero means none.
	Timeout time.Duration
	// Transcript, when set, records the session from the agent side.
	Transcript *frame.Transcript
}

func (s ModuleSpec) command() (string, []string) {
	if s.Interpreter != "" {
		return s.Interpreter, append([]string{s.Path}, s.Args...)
	}
	return s.Path, append([]string(nil), s.Args...)
}

type process struct {
	cmd    *exec.Cmd
	stdin  io.Closer
	group  *errgroup.Group
	cancel context.CancelFunc

	once     sync.Once
	exitCode int
	err      error
}

// Start spawns the module described by spec and performs the handshake.
func Start(ctx context.Context, spec ModuleSpec, opts Options) (*Client, error) {
	if spec.Path == "" {
		return nil, errors.New("agent: module path is required")
	}
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	name, args := spec.command()
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	if spec.RecordFile != "" {
		cmd.Env = append(cmd.Env, promise.EnvRecordFile+"="+spec.RecordFile)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("agent: start %s: %w", name, err)
	}

	moduleName := spec.Name
	if moduleName == "" {
		moduleName = spec.Path
	}
	logger := logging.Logger("agent").With().Str("module", moduleName).Logger()

	proc := &process{cmd: cmd, stdin: stdin, group: new(errgroup.Group), cancel: cancel}
	proc.group.Go(func() error {
		return pumpStderr(stderr, logger)
	})
	logger.Debug().Int("pid", cmd.Process.Pid).Str("command", name).Msg("agent.Start spawned module")

	client, err := newClient(stdout, stdin, opts, spec.Transcript)
	if err != nil {
		proc.kill()
		_, _ = proc.wait()
		return nil, err
	}
	client.proc = proc
	return client, nil
}

// pumpStderr forwards module diagnostics to the driver's logger.
func pumpStderr(r io.Reader, logger zerolog.Logger) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		logger.Info().Str("stream", "stderr").Msg(scanner.Text())
	}
	return scanner.Err()
}

func (p *process) wait() (int, error) {
	p.once.Do(func() {
		_ = p.stdin.Close()
		pumpErr := p.group.Wait()
		err := p.cmd.Wait()
		if p.cmd.ProcessState != nil {
			p.exitCode = p.cmd.ProcessState.ExitCode()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			err = nil
		}
		p.err = errors.Join(err, pumpErr)
		p.cancel()
	})
	return p.exitCode, p.err
}

func (p *process) kill() {
	p.cancel()
}
