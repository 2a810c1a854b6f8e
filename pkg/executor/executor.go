// Package executor defines the leaf records of the engine (control and port
// descriptors, executor specifications) and the runtime contract every
// registered executor implements.
package executor

import (
	"context"
	"strconv"
	"strings"
)

// Executor is one invocable processing unit created from a registered specification.
type Executor interface {
	// Execute runs the executor once with the given parameters and input ports.
	Execute(ctx context.Context, input Input) (Output, error)
}

// Factory creates a new executor instance.
type Factory func() (Executor, error)

// Parameters holds the current parameter values of an executor instance.
// Values are either typed Go values or their string representations.
type Parameters map[string]any

// Has reports whether a parameter value is present.
func (p Parameters) Has(name string) bool {
	_, ok := p[name]
	return ok
}

// Get returns the raw parameter value.
func (p Parameters) Get(name string) (any, bool) {
	v, ok := p[name]
	return v, ok
}

// Bool returns a boolean parameter or def when it is absent.
func (p Parameters) Bool(name string, def bool) (bool, error) {
	v, ok := p[name]
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		if strings.TrimSpace(x) == "" {
			return def, nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return def, &ParameterError{Name: name, Value: v, Cause: ErrInvalidValue}
		}
		return b, nil
	}
	return def, &ParameterError{Name: name, Value: v, Cause: ErrInvalidValue}
}

// String returns a string parameter or def when it is absent.
func (p Parameters) String(name string, def string) string {
	v, ok := p[name]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	s, err := Coerce(ValueString, v)
	if err != nil {
		return def
	}
	return s.(string)
}

// Clone returns a shallow copy of the parameters.
func (p Parameters) Clone() Parameters {
	result := make(Parameters, len(p))
	for k, v := range p {
		result[k] = v
	}
	return result
}

// Input carries the parameters and input port values of one execution.
// A port missing from Ports is not initialized.
type Input struct {
	Parameters Parameters
	Ports      map[string]string
}

// Port returns the value of an input port and whether it is initialized.
func (in Input) Port(name string) (string, bool) {
	if in.Ports == nil {
		return "", false
	}
	v, ok := in.Ports[name]
	return v, ok
}

// Output carries the output port values of one execution.
type Output struct {
	Ports map[string]string
}

// NewOutput creates an empty output.
func NewOutput() Output {
	return Output{Ports: make(map[string]string)}
}

// Set stores the value of an output port.
func (o Output) Set(name, value string) {
	o.Ports[name] = value
}

// Port returns the value of an output port.
func (o Output) Port(name string) (string, bool) {
	v, ok := o.Ports[name]
	return v, ok
}
