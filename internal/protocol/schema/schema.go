// Package schema declares the attributes a promise module accepts and
// checks, coerces, and defaults incoming attribute sets against them.
package schema

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/promisectl/internal/protocol"
)

var (
	ErrDuplicateAttribute = errors.New("schema: duplicate attribute")
	ErrInvalidAttribute   = errors.New("schema: invalid attribute declaration")
)

// Type is a declarable attribute type.
type Type uint8

const (
	TypeString Type = iota + 1
	TypeInt
	TypeBool
	TypeStringList
	TypeData
)

// String returns the agent's vocabulary for the type.
func (t Type) String() string {
	return t.Kind().String()
}

// Kind is the value variant accepted for t.
func (t Type) Kind() protocol.Kind {
	switch t {
	case TypeString:
		return protocol.KindString
	case TypeInt:
		return protocol.KindInt
	case TypeBool:
		return protocol.KindBool
	case TypeStringList:
		return protocol.KindStringList
	case TypeData:
		return protocol.KindData
	default:
		return protocol.KindInvalid
	}
}

// ParseType accepts the agent vocabulary plus the short names used in
// configuration files.
func ParseType(raw string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "string", "str":
		return TypeString, nil
	case "int", "integer":
		return TypeInt, nil
	case "true/false", "bool", "boolean":
		return TypeBool, nil
	case "slist", "list":
		return TypeStringList, nil
	case "data container", "data", "dict":
		return TypeData, nil
	default:
		return 0, fmt.Errorf("%w: unknown type %q", ErrInvalidAttribute, raw)
	}
}

// Validator checks one attribute value after its type has been checked.
type Validator func(value protocol.Value) error

// Attribute is one schema entry.
type Attribute struct {
	Name              string
	Type              Type
	Default           protocol.Value
	Required          bool
	DefaultToPromiser bool
	Validator         Validator
}

// ValidationError marks a policy mistake, as opposed to a module failure.
type ValidationError struct {
	Attribute string
	Message   string
}

func (e ValidationError) Error() string {
	return e.Message
}

// Invalidf builds a ValidationError not tied to a single attribute.
func Invalidf(format string, args ...any) ValidationError {
	return ValidationError{Message: fmt.Sprintf(format, args...)}
}

// Registry holds the schema of one module. It is filled during module
// construction and read-only afterwards.
type Registry struct {
	order []string
	attrs map[string]Attribute
}

func NewRegistry() *Registry {
	return &Registry{attrs: make(map[string]Attribute)}
}

// Add registers a. Names are unique; a non-empty default must match the
// declared type.
func (r *Registry) Add(a Attribute) error {
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidAttribute)
	}
	if a.Type.Kind() == protocol.KindInvalid {
		return fmt.Errorf("%w: %s has no type", ErrInvalidAttribute, a.Name)
	}
	if _, ok := r.attrs[a.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAttribute, a.Name)
	}
	if a.Default.IsSet() {
		if !matches(a.Type, a.Default) {
			return fmt.Errorf("%w: default for %s is %s, not %s", ErrInvalidAttribute, a.Name, kindName(a.Default), a.Type)
		}
		a.Default = a.Default.Clone()
	}
	r.attrs[a.Name] = a
	r.order = append(r.order, a.Name)
	return nil
}

// Active reports whether any attribute was declared. An empty registry
// leaves validation to the module.
func (r *Registry) Active() bool {
	return r != nil && len(r.order) > 0
}

func (r *Registry) Lookup(name string) (Attribute, bool) {
	if r == nil {
		return Attribute{}, false
	}
	a, ok := r.attrs[name]
	return a, ok
}

// Attributes returns the entries in declaration order.
func (r *Registry) Attributes() []Attribute {
	if r == nil {
		return nil
	}
	out := make([]Attribute, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.attrs[name])
	}
	return out
}

// Coerce returns a copy of attrs with values converted toward their
// declared types where the conversion is unambiguous. Values that cannot
// be converted are left as they are for Validate to report.
func (r *Registry) Coerce(attrs protocol.Attributes) protocol.Attributes {
	out := attrs.Clone()
	if out == nil {
		out = protocol.Attributes{}
	}
	if !r.Active() {
		return out
	}
	for name, value := range out {
		a, ok := r.attrs[name]
		if !ok {
			continue
		}
		if coerced, ok := coerce(a.Type, value); ok {
			out[name] = coerced
		}
	}
	return out
}

func coerce(t Type, v protocol.Value) (protocol.Value, bool) {
	switch t {
	case TypeBool:
		if v.Kind != protocol.KindString {
			return v, false
		}
		switch v.Str {
		case "true":
			return protocol.Bool(true), true
		case "false":
			return protocol.Bool(false), true
		}
	case TypeInt:
		if v.Kind != protocol.KindString {
			return v, false
		}
		i, err := strconv.ParseInt(strings.TrimSpace(v.Str), 10, 64)
		if err == nil {
			return protocol.Int(i), true
		}
	}
	return v, false
}

// matches reports whether v has the variant t declares. A data container
// is a JSON object; arrays are lists whatever their element types.
func matches(t Type, v protocol.Value) bool {
	if t == TypeData {
		_, ok := v.AsMap()
		return ok
	}
	return v.Kind == t.Kind()
}

// kindName names the variant v holds in type mismatch messages.
func kindName(v protocol.Value) string {
	if v.Kind == protocol.KindData {
		if _, ok := v.AsMap(); !ok {
			return protocol.KindStringList.String()
		}
	}
	return v.Kind.String()
}

// AsValidationError finds a ValidationError in err's chain, whether it
// was returned by value or by pointer.
func AsValidationError(err error) (ValidationError, bool) {
	var ve ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	var pve *ValidationError
	if errors.As(err, &pve) && pve != nil {
		return *pve, true
	}
	return ValidationError{}, false
}

// Validate checks attrs in four passes: required names, unknown names,
// value types, then custom validators. The first failure is returned as
// a ValidationError unless a custom validator returned another error.
func (r *Registry) Validate(attrs protocol.Attributes) error {
	if !r.Active() {
		return nil
	}
	log.Debug().Int("attributes", len(attrs)).Msg("schema.Validate")

	for _, name := range r.order {
		if r.attrs[name].Required && !attrs.Has(name) {
			return ValidationError{Attribute: name, Message: fmt.Sprintf("Missing required attribute '%s'", name)}
		}
	}

	names := attrs.Names()
	for _, name := range names {
		if _, ok := r.attrs[name]; !ok {
			return ValidationError{Attribute: name, Message: fmt.Sprintf("Unknown attribute '%s'", name)}
		}
	}

	for _, name := range names {
		a := r.attrs[name]
		value := attrs[name]
		if !matches(a.Type, value) {
			return ValidationError{
				Attribute: name,
				Message:   fmt.Sprintf("Wrong type for attribute '%s', requires '%s', not '%s'", name, a.Type, kindName(value)),
			}
		}
	}

	for _, name := range names {
		a := r.attrs[name]
		if a.Validator == nil {
			continue
		}
		if err := a.Validator(attrs[name]); err != nil {
			if ve, ok := AsValidationError(err); ok {
				if ve.Attribute == "" {
					ve.Attribute = name
				}
				return ve
			}
			return err
		}
	}
	return nil
}

// Build returns the attribute set handed to module callbacks: attrs plus
// deep-copied defaults, or the promiser for entries that default to it.
// Entries with neither stay absent.
func (r *Registry) Build(promiser string, attrs protocol.Attributes) protocol.Attributes {
	out := attrs.Clone()
	if out == nil {
		out = protocol.Attributes{}
	}
	if !r.Active() {
		return out
	}
	for _, name := range r.order {
		if out.Has(name) {
			continue
		}
		a := r.attrs[name]
		switch {
		case a.Default.IsSet():
			out[name] = a.Default.Clone()
		case a.DefaultToPromiser:
			out[name] = protocol.String(promiser)
		}
	}
	return out
}
