package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Operation names one request kind.
type Operation string

const (
	OpInit            Operation = "init"
	OpValidatePromise Operation = "validate_promise"
	OpEvaluatePromise Operation = "evaluate_promise"
	OpTerminate       Operation = "terminate"
)

// PromiseScoped reports whether the operation carries a promiser and attributes.
func (o Operation) PromiseScoped() bool {
	return o == OpValidatePromise || o == OpEvaluatePromise
}

// Known reports whether o is one of the four lifecycle operations.
func (o Operation) Known() bool {
	switch o {
	case OpInit, OpValidatePromise, OpEvaluatePromise, OpTerminate:
		return true
	default:
		return false
	}
}

// Result is the outcome vocabulary shared with the agent.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"

	ResultValid   Result = "valid"
	ResultInvalid Result = "invalid"

	ResultKept     Result = "kept"
	ResultRepaired Result = "repaired"
	ResultNotKept  Result = "not_kept"

	ResultError Result = "error"
)

// ValidFor reports whether r belongs to the result set of op.
// ResultError is accepted for every operation.
func (r Result) ValidFor(op Operation) bool {
	if r == ResultError {
		return true
	}
	switch op {
	case OpInit, OpTerminate:
		return r == ResultSuccess || r == ResultFailure
	case OpValidatePromise:
		return r == ResultValid || r == ResultInvalid
	case OpEvaluatePromise:
		return r == ResultKept || r == ResultRepaired || r == ResultNotKept
	default:
		return false
	}
}

// DefaultLogLevel is assumed when a request omits log_level.
const DefaultLogLevel = "info"

// Request is one decoded agent request.
type Request struct {
	Operation  Operation
	LogLevel   string
	Promiser   string
	Attributes Attributes

	// Context sent by newer agents; empty when absent.
	PromiseType string
	Filename    string
	LineNumber  int
}

type wireRequest struct {
	Operation   Operation  `json:"operation"`
	LogLevel    *string    `json:"log_level,omitempty"`
	Promiser    *string    `json:"promiser,omitempty"`
	Attributes  Attributes `json:"attributes,omitempty"`
	PromiseType string     `json:"promise_type,omitempty"`
	Filename    string     `json:"filename,omitempty"`
	LineNumber  int        `json:"line_number,omitempty"`
}

// DecodeRequest parses one request payload line. Unknown operations are
// accepted here; rejecting them is the dispatcher's job.
func DecodeRequest(line string) (Request, error) {
	if strings.TrimSpace(line) == "" {
		return Request{}, fatal("request", fmt.Errorf("%w: empty request", ErrInvalidRequest))
	}
	var w wireRequest
	if err := json.Unmarshal([]byte(line), &w); err != nil {
		return Request{}, fatal("request", fmt.Errorf("%w: %v", ErrInvalidRequest, err))
	}
	if w.Operation == "" {
		return Request{}, fatal("request", fmt.Errorf("%w: missing operation", ErrInvalidRequest))
	}

	req := Request{
		Operation:   w.Operation,
		LogLevel:    DefaultLogLevel,
		PromiseType: w.PromiseType,
		Filename:    w.Filename,
		LineNumber:  w.LineNumber,
	}
	if w.LogLevel != nil {
		req.LogLevel = *w.LogLevel
	}
	if w.Operation.PromiseScoped() {
		if w.Promiser == nil {
			return Request{}, fatal("request", fmt.Errorf("%w: %s without promiser", ErrInvalidRequest, w.Operation))
		}
		req.Promiser = *w.Promiser
		req.Attributes = w.Attributes
		if req.Attributes == nil {
			req.Attributes = Attributes{}
		}
	}
	return req, nil
}

// EncodeRequest renders req as a single payload line.
func EncodeRequest(req Request) (string, error) {
	w := wireRequest{
		Operation:   req.Operation,
		PromiseType: req.PromiseType,
		Filename:    req.Filename,
		LineNumber:  req.LineNumber,
	}
	if req.LogLevel != "" {
		level := req.LogLevel
		w.LogLevel = &level
	}
	if req.Operation.PromiseScoped() {
		promiser := req.Promiser
		w.Promiser = &promiser
		w.Attributes = req.Attributes
	}
	data, err := json.Marshal(w)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// LogEntry is a structured log record carried inside a response.
type LogEntry struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Response is one module reply.
type Response struct {
	Operation     Operation
	Promiser      string
	Attributes    Attributes
	Result        Result
	ResultClasses []string
	Log           []LogEntry
}

type wireResponse struct {
	Operation     Operation       `json:"operation"`
	Promiser      *string         `json:"promiser,omitempty"`
	Attributes    json.RawMessage `json:"attributes,omitempty"`
	Result        Result          `json:"result"`
	ResultClasses []string        `json:"result_classes,omitempty"`
	Log           []LogEntry      `json:"log,omitempty"`
}

// MarshalJSON keeps promiser and attributes (even when empty) on promise
// scoped responses and drops them otherwise.
func (r Response) MarshalJSON() ([]byte, error) {
	w := wireResponse{
		Operation:     r.Operation,
		Result:        r.Result,
		ResultClasses: r.ResultClasses,
		Log:           r.Log,
	}
	if r.Operation.PromiseScoped() {
		promiser := r.Promiser
		w.Promiser = &promiser
		attrs := r.Attributes
		if attrs == nil {
			attrs = Attributes{}
		}
		raw, err := json.Marshal(attrs)
		if err != nil {
			return nil, err
		}
		w.Attributes = raw
	}
	return json.Marshal(w)
}

func (r *Response) UnmarshalJSON(data []byte) error {
	var w wireResponse
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = Response{
		Operation:     w.Operation,
		Result:        w.Result,
		ResultClasses: w.ResultClasses,
		Log:           w.Log,
	}
	if w.Promiser != nil {
		r.Promiser = *w.Promiser
	}
	if len(w.Attributes) > 0 {
		if err := json.Unmarshal(w.Attributes, &r.Attributes); err != nil {
			return err
		}
	}
	return nil
}

// EncodeResponse renders resp as a single payload line.
func EncodeResponse(resp Response) (string, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeResponse parses one response payload line.
func DecodeResponse(line string) (Response, error) {
	var resp Response
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if resp.Operation == "" {
		return Response{}, fmt.Errorf("%w: missing operation", ErrInvalidResponse)
	}
	if resp.Result == "" {
		return Response{}, fmt.Errorf("%w: missing result", ErrInvalidResponse)
	}
	return resp, nil
}
