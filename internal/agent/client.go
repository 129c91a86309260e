package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/danmuck/promisectl/internal/logging"
	"github.com/danmuck/promisectl/internal/protocol"
	"github.com/danmuck/promisectl/internal/protocol/frame"
	"github.com/danmuck/promisectl/internal/protocol/wirelog"
)

var (
	ErrLineBased         = errors.New("agent: module does not speak json_based")
	ErrOperationMismatch = errors.New("agent: response operation does not match request")
	ErrUnexpectedResult  = errors.New("agent: result not valid for operation")
	ErrUnexpectedLine    = errors.New("agent: unexpected line from module")
	ErrModuleExited      = errors.New("agent: module closed its output")
	ErrTerminated        = errors.New("agent: session already terminated")
)

// Options identify the agent to the module.
type Options struct {
	AgentName    string
	AgentVersion string
	// LogLevel is sent with requests that do not set their own.
	LogLevel string
}

func (o Options) withDefaults() Options {
	if o.AgentName == "" {
		o.AgentName = "CFEngine"
	}
	if o.AgentVersion == "" {
		o.AgentVersion = "3.16.0"
	}
	if o.LogLevel == "" {
		o.LogLevel = protocol.DefaultLogLevel
	}
	return o
}

// PromiseRequest is one promise to validate or evaluate.
type PromiseRequest struct {
	Promiser    string
	Attributes  protocol.Attributes
	PromiseType string
	Filename    string
	LineNumber  int
	LogLevel    string
}

func (p PromiseRequest) request(op protocol.Operation) protocol.Request {
	attrs := p.Attributes
	if attrs == nil {
		attrs = protocol.Attributes{}
	}
	return protocol.Request{
		Operation:   op,
		LogLevel:    p.LogLevel,
		Promiser:    p.Promiser,
		Attributes:  attrs,
		PromiseType: p.PromiseType,
		Filename:    p.Filename,
		LineNumber:  p.LineNumber,
	}
}

// Reply is one module response with the log lines that preceded it.
type Reply struct {
	protocol.Response
	// LineLogs holds log_<level>= lines in the order they arrived.
	LineLogs []protocol.LogEntry
}

// Logs returns line logs followed by the response's structured entries.
func (r Reply) Logs() []protocol.LogEntry {
	out := make([]protocol.LogEntry, 0, len(r.LineLogs)+len(r.Response.Log))
	out = append(out, r.LineLogs...)
	return append(out, r.Response.Log...)
}

// Client is one agent session with a module.
type Client struct {
	opts   Options
	reader *frame.Reader
	writer *frame.Writer
	closer io.Closer
	header protocol.ModuleHeader
	log    zerolog.Logger

	mu         sync.Mutex
	terminated bool
	proc       peer
}

// peer is the module end of a session the client owns.
type peer interface {
	wait() (int, error)
	kill()
}

// NewClient performs the handshake over an existing stream pair: in is
// the module's output, out its input. If out is an io.Closer, Close
// closes it.
func NewClient(in io.Reader, out io.Writer, opts Options) (*Client, error) {
	return newClient(in, out, opts, nil)
}

func newClient(in io.Reader, out io.Writer, opts Options, t *frame.Transcript) (*Client, error) {
	opts = opts.withDefaults()
	c := &Client{
		opts:   opts,
		reader: frame.NewReader(in, t),
		writer: frame.NewWriter(out, t),
		log:    logging.Logger("agent"),
	}
	if closer, ok := out.(io.Closer); ok {
		c.closer = closer
	}
	if err := protocol.WriteAgentGreeting(c.writer, opts.AgentName, opts.AgentVersion); err != nil {
		return nil, err
	}
	header, err := protocol.ReadModuleHeader(c.reader)
	if err != nil {
		return nil, err
	}
	if !header.JSON() {
		return nil, fmt.Errorf("%w: %s announced %v", ErrLineBased, header.Name, header.Flags)
	}
	c.header = header
	c.log = c.log.With().Str("module", header.Name).Logger()
	c.log.Debug().Str("version", header.Version).Msg("agent.Client handshake")
	return c, nil
}

// Header is the module greeting.
func (c *Client) Header() protocol.ModuleHeader {
	return c.header
}

// Do sends req and reads the module reply. A reply is returned together
// with ErrOperationMismatch or ErrUnexpectedResult when the module
// answered but broke the protocol contract.
func (c *Client) Do(ctx context.Context, req protocol.Request) (Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminated {
		return Reply{}, ErrTerminated
	}
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}
	if req.LogLevel == "" {
		req.LogLevel = c.opts.LogLevel
	}
	payload, err := protocol.EncodeRequest(req)
	if err != nil {
		return Reply{}, err
	}
	if err := c.writer.WriteFrame(payload); err != nil {
		return Reply{}, fmt.Errorf("send %s: %w", req.Operation, err)
	}
	reply, err := c.readReply()
	if err != nil {
		return Reply{}, fmt.Errorf("read %s reply: %w", req.Operation, err)
	}
	if req.Operation == protocol.OpTerminate {
		c.terminated = true
	}
	for _, entry := range reply.Logs() {
		c.log.Debug().Str("level", entry.Level).Msg(entry.Message)
	}
	if reply.Operation != req.Operation {
		return reply, fmt.Errorf("%w: sent %s, got %s", ErrOperationMismatch, req.Operation, reply.Operation)
	}
	if !reply.Result.ValidFor(req.Operation) {
		return reply, fmt.Errorf("%w: %s for %s", ErrUnexpectedResult, reply.Result, req.Operation)
	}
	return reply, nil
}

func (c *Client) readReply() (Reply, error) {
	var reply Reply
	for {
		line, err := c.reader.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Reply{}, ErrModuleExited
			}
			return Reply{}, err
		}
		switch {
		case strings.TrimSpace(line) == "":
			continue
		case strings.HasPrefix(line, "log_"):
			level, msg, err := wirelog.ParseLine(line)
			if err != nil {
				return Reply{}, err
			}
			reply.LineLogs = append(reply.LineLogs, protocol.LogEntry{Level: string(level), Message: msg})
		case strings.HasPrefix(line, "{"):
			resp, err := protocol.DecodeResponse(line)
			if err != nil {
				return Reply{}, err
			}
			reply.Response = resp
			if term, err := c.reader.ReadLine(); err == nil && strings.TrimSpace(term) != "" {
				c.log.Warn().Str("line", term).Msg("response not followed by a blank line")
			}
			return reply, nil
		default:
			return Reply{}, fmt.Errorf("%w: %q", ErrUnexpectedLine, line)
		}
	}
}

func (c *Client) Init(ctx context.Context) (Reply, error) {
	return c.Do(ctx, protocol.Request{Operation: protocol.OpInit})
}

func (c *Client) Validate(ctx context.Context, p PromiseRequest) (Reply, error) {
	return c.Do(ctx, p.request(protocol.OpValidatePromise))
}

func (c *Client) Evaluate(ctx context.Context, p PromiseRequest) (Reply, error) {
	return c.Do(ctx, p.request(protocol.OpEvaluatePromise))
}

// Terminate ends the session. For spawned modules it also waits for the
// process and reports a non-zero exit status as an error.
func (c *Client) Terminate(ctx context.Context) (Reply, error) {
	reply, err := c.Do(ctx, protocol.Request{Operation: protocol.OpTerminate})
	if err != nil {
		return reply, err
	}
	code, err := c.Wait()
	if err != nil {
		return reply, err
	}
	if code != 0 {
		return reply, fmt.Errorf("agent: module %s exited with status %d after terminate", c.header.Name, code)
	}
	return reply, nil
}

// Wait closes the module input and, for spawned modules, waits for the
// process to exit and returns its exit code.
func (c *Client) Wait() (int, error) {
	if c.proc != nil {
		return c.proc.wait()
	}
	if c.closer != nil {
		return 0, c.closer.Close()
	}
	return 0, nil
}

// Close releases the session without sending terminate.
func (c *Client) Close() error {
	if c.proc != nil {
		c.proc.kill()
	}
	_, err := c.Wait()
	return err
}
