package agent

import (
	"context"
	"io"
	"sync"

	"github.com/danmuck/promisectl/internal/logging"
	"github.com/danmuck/promisectl/internal/promise"
)

type inProcess struct {
	rt      *promise.Runtime
	input   *io.PipeReader
	request *io.PipeWriter
	output  *io.PipeReader
	done    chan error
	cancel  context.CancelFunc

	once     sync.Once
	exitCode int
	err      error
}

// Attach serves m in this process over a pair of pipes and returns a
// client for the session. Terminate and Wait report exit status 1 when
// the serve loop ended on a protocol error, as a spawned module would.
func Attach(ctx context.Context, m promise.Module, cfg promise.Config, opts Options) (*Client, error) {
	rt, err := promise.New(m, cfg)
	if err != nil {
		return nil, err
	}
	toModuleR, toModuleW := io.Pipe()
	fromModuleR, fromModuleW := io.Pipe()

	ctx, cancel := context.WithCancel(ctx)
	p := &inProcess{rt: rt, input: toModuleR, request: toModuleW, output: fromModuleR, done: make(chan error, 1), cancel: cancel}
	go func() {
		err := rt.Serve(ctx, toModuleR, fromModuleW)
		_ = fromModuleW.Close()
		p.done <- err
	}()

	client, err := newClient(fromModuleR, toModuleW, opts, nil)
	if err != nil {
		p.kill()
		_, _ = p.wait()
		return nil, err
	}
	client.proc = p
	return client, nil
}

func (p *inProcess) wait() (int, error) {
	p.once.Do(func() {
		_ = p.request.Close()
		if err := <-p.done; err != nil {
			p.exitCode = 1
			logger := logging.Logger("agent")
			logger.Debug().Err(err).Str("session", p.rt.Session()).Msg("agent.Attach serve ended")
		}
		p.err = p.rt.Close()
		p.cancel()
	})
	return p.exitCode, p.err
}

func (p *inProcess) kill() {
	p.cancel()
	_ = p.input.CloseWithError(io.ErrClosedPipe)
	_ = p.output.CloseWithError(io.ErrClosedPipe)
}
