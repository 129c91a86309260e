package promise

import (
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"strings"

	"github.com/danmuck/promisectl/internal/protocol/schema"
)

var (
	ErrInvalidName    = errors.New("promise: module name and version must be non-empty without whitespace")
	ErrAlreadyServing = errors.New("promise: runtime already served a session")
	ErrSchemaFrozen   = errors.New("promise: schema is fixed once serving starts")
)

// ValidationError reports a mistake in the policy. Returned from a
// validate or evaluate path, by value or by pointer, it is answered as
// invalid.
type ValidationError = schema.ValidationError

// Invalidf builds a ValidationError.
func Invalidf(format string, args ...any) error {
	return schema.Invalidf(format, args...)
}

// Kinder lets an error name its own kind in critical log lines.
type Kinder interface {
	Kind() string
}

// ValidationFailure is the expected failure of a promise callback.
type ValidationFailure struct {
	Message string
}

func (f *ValidationFailure) Error() string {
	return f.Message
}

// InternalError is an unexpected failure of a promise callback: an error
// that is not a ValidationError, a panic, or a broken module contract.
type InternalError struct {
	Kind    string
	Message string
	Trace   string
}

func (e *InternalError) Error() string {
	return e.Kind + ": " + e.Message
}

// classify sorts err into one of the two failure variants.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if ve, ok := schema.AsValidationError(err); ok {
		return &ValidationFailure{Message: ve.Message}
	}
	var vf *ValidationFailure
	if errors.As(err, &vf) {
		return vf
	}
	var ie *InternalError
	if errors.As(err, &ie) {
		return ie
	}
	return &InternalError{Kind: errorKind(err), Message: err.Error(), Trace: errorChain(err)}
}

// guard runs fn and turns panics into InternalError values.
func guard(fn func() error) (failure error) {
	defer func() {
		if r := recover(); r != nil {
			failure = &InternalError{
				Kind:    "panic",
				Message: fmt.Sprint(r),
				Trace:   string(debug.Stack()),
			}
		}
	}()
	return classify(fn())
}

func contractViolation(format string, args ...any) *InternalError {
	return &InternalError{Kind: "ContractViolation", Message: fmt.Sprintf(format, args...)}
}

func errorKind(err error) string {
	var k Kinder
	if errors.As(err, &k) {
		if kind := strings.TrimSpace(k.Kind()); kind != "" {
			return kind
		}
	}
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.PkgPath() {
	case "errors", "fmt":
		return "Error"
	}
	if t.Name() == "" {
		return "Error"
	}
	return t.Name()
}

// errorChain renders the unwrap chain of err, outermost first.
func errorChain(err error) string {
	var b strings.Builder
	b.WriteString("error chain:")
	for depth := 0; err != nil; depth++ {
		fmt.Fprintf(&b, "\n%s%T: %v", strings.Repeat("  ", depth), err, err)
		err = errors.Unwrap(err)
	}
	return b.String()
}
