package promise

import (
	"context"

	"github.com/danmuck/promisectl/internal/protocol"
	"github.com/danmuck/promisectl/internal/protocol/schema"
	"github.com/danmuck/promisectl/internal/protocol/wirelog"
)

// Module is implemented by every promise module.
//
// Init and Terminate may return an empty result, which is answered as
// success. ValidatePromise reports problems with the policy by returning a
// ValidationError; any other error is a module failure. EvaluatePromise
// must return one of kept, repaired, not_kept, or error.
type Module interface {
	Init(ctx context.Context, req *Request) (protocol.Result, error)
	ValidatePromise(ctx context.Context, req *Request, p *Promise) error
	EvaluatePromise(ctx context.Context, req *Request, p *Promise) (Outcome, error)
	Terminate(ctx context.Context, req *Request) (protocol.Result, error)
}

// Preparer may rewrite the promiser and attributes after coercion and
// before validation. The rewritten values are echoed to the agent.
type Preparer interface {
	PreparePromise(ctx context.Context, req *Request, promiser string, attrs protocol.Attributes) (string, protocol.Attributes, error)
}

// SchemaProvider declares the attributes a module accepts. The entries
// are registered once when the runtime is built.
type SchemaProvider interface {
	Schema() []schema.Attribute
}

// Base supplies the default lifecycle hooks.
type Base struct{}

func (Base) Init(context.Context, *Request) (protocol.Result, error) {
	return protocol.ResultSuccess, nil
}

func (Base) Terminate(context.Context, *Request) (protocol.Result, error) {
	return protocol.ResultSuccess, nil
}

// Request is the per-request context handed to module callbacks.
type Request struct {
	Operation protocol.Operation
	LogLevel  string

	PromiseType string
	Filename    string
	LineNumber  int

	// Log writes log lines to the agent, filtered by LogLevel.
	Log *wirelog.Logger
}

// Promise is one promise as seen by validate and evaluate callbacks.
type Promise struct {
	Promiser string
	// Attributes is the set modules should read: with a schema it holds
	// defaults for attributes the policy left out.
	Attributes protocol.Attributes
	// Supplied holds only what the policy set, after coercion and
	// preparation.
	Supplied protocol.Attributes
}

// Outcome is the result of one evaluation.
type Outcome struct {
	Result  protocol.Result
	Classes []string
}

func Kept(classes ...string) Outcome {
	return Outcome{Result: protocol.ResultKept, Classes: classes}
}

func Repaired(classes ...string) Outcome {
	return Outcome{Result: protocol.ResultRepaired, Classes: classes}
}

func NotKept(classes ...string) Outcome {
	return Outcome{Result: protocol.ResultNotKept, Classes: classes}
}
