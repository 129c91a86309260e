package promise

import (
	"context"
	"fmt"

	"github.com/danmuck/promisectl/internal/protocol"
	"github.com/danmuck/promisectl/internal/protocol/wirelog"
)

// dispatch answers one request. Log lines for the request are written
// while it runs, so they reach the agent ahead of the response frame.
func (rt *Runtime) dispatch(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	wl := wirelog.New(rt.writer, req.LogLevel)
	if !wirelog.Level(req.LogLevel).Known() {
		rt.log.Warn().Str("log_level", req.LogLevel).Msg("unknown log level from agent, logging everything")
	}
	mreq := &Request{
		Operation:   req.Operation,
		LogLevel:    req.LogLevel,
		PromiseType: req.PromiseType,
		Filename:    req.Filename,
		LineNumber:  req.LineNumber,
		Log:         wl,
	}
	resp := protocol.Response{Operation: req.Operation}

	switch req.Operation {
	case protocol.OpInit:
		result, err := rt.module.Init(ctx, mreq)
		if err != nil {
			return protocol.Response{}, fmt.Errorf("init: %w", err)
		}
		resp.Result = rt.lifecycleResult(wl, req.Operation, result)
	case protocol.OpValidatePromise:
		rt.handleValidate(ctx, mreq, req, &resp)
	case protocol.OpEvaluatePromise:
		rt.handleEvaluate(ctx, mreq, req, &resp)
	case protocol.OpTerminate:
		rt.handleTerminate(ctx, mreq, &resp)
	}

	if err := wl.Err(); err != nil {
		return protocol.Response{}, protocol.NewError("log", err)
	}
	return resp, nil
}

func (rt *Runtime) handleValidate(ctx context.Context, mreq *Request, req protocol.Request, resp *protocol.Response) {
	p, failure := rt.preparePromise(ctx, mreq, req)
	resp.Promiser = p.Promiser
	resp.Attributes = p.Supplied.Clone()

	if failure == nil {
		failure = guard(func() error {
			return rt.module.ValidatePromise(ctx, mreq, p)
		})
	}

	switch f := failure.(type) {
	case nil:
		resp.Result = protocol.ResultValid
	case *ValidationFailure:
		mreq.Log.Error(decorate(mreq, p.Promiser, f.Message))
		resp.Result = protocol.ResultInvalid
	case *InternalError:
		rt.reportInternal(mreq, resp, f)
		resp.Result = protocol.ResultError
	}
}

func (rt *Runtime) handleEvaluate(ctx context.Context, mreq *Request, req protocol.Request, resp *protocol.Response) {
	p, failure := rt.preparePromise(ctx, mreq, req)
	resp.Promiser = p.Promiser
	resp.Attributes = p.Supplied.Clone()

	var outcome Outcome
	if failure == nil {
		ectx := ctx
		if rt.cfg.EvaluateTimeout > 0 {
			var cancel context.CancelFunc
			ectx, cancel = context.WithTimeout(ctx, rt.cfg.EvaluateTimeout)
			defer cancel()
		}
		failure = guard(func() error {
			var err error
			outcome, err = rt.module.EvaluatePromise(ectx, mreq, p)
			return err
		})
	}
	if failure == nil && !outcome.Result.ValidFor(protocol.OpEvaluatePromise) {
		failure = contractViolation(
			"evaluate_promise returned result '%s', expected kept, repaired, not_kept or error",
			outcome.Result,
		)
	}

	switch f := failure.(type) {
	case nil:
		resp.Result = outcome.Result
		if len(outcome.Classes) > 0 {
			resp.ResultClasses = append([]string(nil), outcome.Classes...)
		}
	case *ValidationFailure:
		// invalid is not an evaluation result
		mreq.Log.Error(decorate(mreq, p.Promiser, f.Message))
		resp.Result = protocol.ResultError
	case *InternalError:
		rt.reportInternal(mreq, resp, f)
		resp.Result = protocol.ResultError
	}
}

func (rt *Runtime) handleTerminate(ctx context.Context, mreq *Request, resp *protocol.Response) {
	var result protocol.Result
	failure := guard(func() error {
		var err error
		result, err = rt.module.Terminate(ctx, mreq)
		return err
	})
	if failure != nil {
		mreq.Log.Critical(failure.Error())
		rt.log.Error().Err(failure).Msg("terminate failed")
		resp.Result = protocol.ResultFailure
		return
	}
	resp.Result = rt.lifecycleResult(mreq.Log, mreq.Operation, result)
}

// preparePromise coerces the supplied attributes, runs the Preparer hook,
// validates against the schema, and builds the defaulted attribute set.
// The returned promise is usable even when a failure is reported.
func (rt *Runtime) preparePromise(ctx context.Context, mreq *Request, req protocol.Request) (*Promise, error) {
	p := &Promise{
		Promiser: req.Promiser,
		Supplied: rt.schema.Coerce(req.Attributes),
	}
	failure := guard(func() error {
		if preparer, ok := rt.module.(Preparer); ok {
			promiser, attrs, err := preparer.PreparePromise(ctx, mreq, p.Promiser, p.Supplied)
			if err != nil {
				return err
			}
			if attrs == nil {
				attrs = protocol.Attributes{}
			}
			p.Promiser, p.Supplied = promiser, attrs
		}
		return rt.schema.Validate(p.Supplied)
	})
	p.Attributes = rt.schema.Build(p.Promiser, p.Supplied)
	return p, failure
}

// lifecycleResult maps an init or terminate return value onto the wire.
func (rt *Runtime) lifecycleResult(wl *wirelog.Logger, op protocol.Operation, result protocol.Result) protocol.Result {
	if result == "" {
		return protocol.ResultSuccess
	}
	if !result.ValidFor(op) {
		v := contractViolation("%s returned result '%s', expected success or failure", op, result)
		wl.Critical(v.Error())
		return protocol.ResultError
	}
	return result
}

func (rt *Runtime) reportInternal(mreq *Request, resp *protocol.Response, f *InternalError) {
	mreq.Log.Critical(f.Error())
	if f.Trace != "" && mreq.Log.Threshold() == wirelog.Debug {
		resp.Log = append(resp.Log, protocol.LogEntry{Level: string(wirelog.Debug), Message: f.Trace})
	}
	rt.log.Error().
		Str("operation", string(mreq.Operation)).
		Str("kind", f.Kind).
		Str("message", f.Message).
		Msg("promise callback failed")
}

// decorate prefixes msg with the policy location when the agent sent it.
func decorate(req *Request, promiser, msg string) string {
	if req.PromiseType == "" && req.Filename == "" {
		return msg
	}
	prefix := ""
	if req.Filename != "" {
		prefix = fmt.Sprintf("%s:%d: ", req.Filename, req.LineNumber)
	}
	promiseType := req.PromiseType
	if promiseType == "" {
		promiseType = "custom"
	}
	return fmt.Sprintf("%sError in %s promise with promiser '%s': %s", prefix, promiseType, promiser, msg)
}
