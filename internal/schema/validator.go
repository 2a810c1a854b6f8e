// Package schema validates documents against embedded JSON Schemas before they
// are decoded into typed models.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidationError lists the violations found in one document.
type ValidationError struct {
	Location string
	Messages []string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return strings.Join(e.Messages, "; ")
}

// Validator is a compiled schema.
type Validator struct {
	schema *jsonschema.Schema
}

// Compile compiles a Draft 2020-12 schema registered under name.
func Compile(name, source string) (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(name, strings.NewReader(source)); err != nil {
		return nil, fmt.Errorf("failed to add schema %s: %w", name, err)
	}
	compiled, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	return &Validator{schema: compiled}, nil
}

// MustCompile is Compile for schemas embedded in the binary.
func MustCompile(name, source string) *Validator {
	v, err := Compile(name, source)
	if err != nil {
		panic(err)
	}
	return v
}

// Validate checks a raw JSON document.
func (v *Validator) Validate(data []byte) error {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return &ValidationError{Messages: []string{fmt.Sprintf("document is not valid JSON: %v", err)}}
	}
	err := v.schema.Validate(doc)
	if err == nil {
		return nil
	}
	validationErr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return &ValidationError{Messages: []string{err.Error()}}
	}
	leaf := deepest(validationErr)
	return &ValidationError{
		Location: strings.TrimPrefix(leaf.InstanceLocation, "/"),
		Messages: flatten(validationErr),
	}
}

// deepest returns the first leaf cause, which names the offending field
func deepest(err *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(err.Causes) > 0 {
		err = err.Causes[0]
	}
	return err
}

func flatten(err *jsonschema.ValidationError) []string {
	var messages []string
	if len(err.Causes) == 0 {
		if msg := message(err); msg != "" {
			messages = append(messages, msg)
		}
	}
	for _, cause := range err.Causes {
		messages = append(messages, flatten(cause)...)
	}
	return messages
}

func message(err *jsonschema.ValidationError) string {
	var parts []string
	if err.InstanceLocation != "" {
		parts = append(parts, fmt.Sprintf("at '%s'", err.InstanceLocation))
	}
	if err.Message != "" {
		parts = append(parts, err.Message)
	}
	return strings.Join(parts, ": ")
}
