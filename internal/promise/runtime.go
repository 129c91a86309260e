package promise

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/danmuck/promisectl/internal/observability"
	"github.com/danmuck/promisectl/internal/protocol"
	"github.com/danmuck/promisectl/internal/protocol/frame"
	"github.com/danmuck/promisectl/internal/protocol/schema"
)

// State is the dispatcher position in the session.
type State int32

const (
	StateNew State = iota
	StateAwaitingRequest
	StateDispatching
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateAwaitingRequest:
		return "awaiting_request"
	case StateDispatching:
		return "dispatching"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Runtime serves one agent session for a Module.
type Runtime struct {
	module     Module
	cfg        Config
	schema     *schema.Registry
	transcript *frame.Transcript
	metrics    *observability.Metrics
	session    string
	log        zerolog.Logger

	mu     sync.Mutex
	state  State
	served bool

	reader *frame.Reader
	writer *frame.Writer
}

// New builds a runtime for module. The transcript file, when configured,
// is opened here and kept open until Close.
func New(module Module, cfg Config) (*Runtime, error) {
	if module == nil {
		return nil, errors.New("promise: nil module")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	session := uuid.NewString()
	rt := &Runtime{
		module:  module,
		cfg:     cfg,
		schema:  schema.NewRegistry(),
		metrics: observability.NewMetrics(cfg.Name),
		session: session,
		log:     observability.SessionLogger(cfg.Name, session),
		state:   StateNew,
	}
	if provider, ok := module.(SchemaProvider); ok {
		for _, attr := range provider.Schema() {
			if err := rt.schema.Add(attr); err != nil {
				return nil, err
			}
		}
	}
	if cfg.RecordFile != "" {
		t, err := frame.OpenTranscript(cfg.RecordFile)
		if err != nil {
			return nil, err
		}
		rt.transcript = t
	}
	return rt, nil
}

// AddAttribute registers one schema entry. It must be called before Serve.
func (rt *Runtime) AddAttribute(attr schema.Attribute) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.served {
		return ErrSchemaFrozen
	}
	return rt.schema.Add(attr)
}

// Schema returns the registered attribute schema.
func (rt *Runtime) Schema() *schema.Registry {
	return rt.schema
}

func (rt *Runtime) Config() Config {
	return rt.cfg
}

func (rt *Runtime) Metrics() *observability.Metrics {
	return rt.metrics
}

func (rt *Runtime) Session() string {
	return rt.session
}

func (rt *Runtime) State() State {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.state
}

func (rt *Runtime) setState(s State) {
	rt.mu.Lock()
	rt.state = s
	rt.mu.Unlock()
}

// Serve runs the session on in and out until the agent sends terminate.
// It returns nil after the terminate response has been written, and a
// *protocol.Error for malformed input or premature end of stream. A
// runtime serves at most one session.
func (rt *Runtime) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	rt.mu.Lock()
	if rt.served {
		rt.mu.Unlock()
		return ErrAlreadyServing
	}
	rt.served = true
	rt.mu.Unlock()

	rt.reader = frame.NewReader(in, rt.transcript)
	rt.writer = frame.NewWriter(out, rt.transcript)

	if rt.cfg.MetricsListen != "" {
		srv, err := rt.metrics.Listen(rt.cfg.MetricsListen)
		if err != nil {
			return fmt.Errorf("promise: metrics listener: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				rt.log.Warn().Err(err).Msg("metrics listener shutdown")
			}
		}()
	}

	err := rt.serve(ctx)
	if err != nil {
		var perr *protocol.Error
		if errors.As(err, &perr) {
			rt.metrics.RecordProtocolError()
		}
		rt.log.Error().Err(err).Str("state", rt.State().String()).Msg("promise.Runtime.Serve failed")
	}
	return err
}

func (rt *Runtime) serve(ctx context.Context) error {
	agent, err := protocol.ReadAgentHeader(rt.reader)
	if err != nil {
		return err
	}
	rt.log.Debug().
		Str("agent", agent.Name).
		Str("agent_version", agent.Version).
		Str("protocol", agent.ProtocolVersion).
		Msg("promise.Runtime.Serve handshake")
	if err := protocol.WriteGreeting(rt.writer, rt.cfg.Name, rt.cfg.Version); err != nil {
		return err
	}
	rt.setState(StateAwaitingRequest)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := rt.reader.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return protocol.NewError("request", protocol.ErrUnexpectedEOF)
			}
			return protocol.NewError("request", err)
		}
		req, err := protocol.DecodeRequest(line)
		if err != nil {
			return err
		}
		if !req.Operation.Known() {
			return protocol.NewError("dispatch", fmt.Errorf("%w: '%s'", protocol.ErrUnknownOperation, req.Operation))
		}

		rt.setState(StateDispatching)
		start := time.Now()
		resp, err := rt.dispatch(ctx, req)
		if err != nil {
			return err
		}
		payload, err := protocol.EncodeResponse(resp)
		if err != nil {
			return protocol.NewError("response", err)
		}
		if err := rt.writer.WriteFrame(payload); err != nil {
			return protocol.NewError("response", err)
		}

		elapsed := time.Since(start)
		rt.metrics.RecordRequest(req.Operation, resp.Result, elapsed)
		observability.LogRequest(rt.log, req, resp.Result, elapsed)

		if req.Operation == protocol.OpTerminate {
			rt.setState(StateTerminated)
			if err := rt.metrics.WriteTextfile(rt.cfg.MetricsTextfile); err != nil {
				rt.log.Warn().Err(err).Str("path", rt.cfg.MetricsTextfile).Msg("write metrics textfile")
			}
			return nil
		}
		rt.setState(StateAwaitingRequest)
	}
}

// Close releases the transcript file.
func (rt *Runtime) Close() error {
	if err := rt.transcript.Err(); err != nil {
		rt.log.Warn().Err(err).Msg("transcript write failed")
	}
	return rt.transcript.Close()
}
