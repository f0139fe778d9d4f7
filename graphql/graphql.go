// Package graphql holds the GraphQL request and response envelope types and
// the callback-based capability used to execute operations remotely.
package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Request is a GraphQL operation ready to be sent
type Request struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
}

// Location points into the request document
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Error is a single error reported by the GraphQL endpoint. AppSync puts
// the current server state of a record in Data on version conflicts.
type Error struct {
	Message    string          `json:"message"`
	Locations  []Location      `json:"locations,omitempty"`
	Path       []any           `json:"path,omitempty"`
	ErrorType  string          `json:"errorType,omitempty"`
	ErrorInfo  json.RawMessage `json:"errorInfo,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Extensions map[string]any  `json:"extensions,omitempty"`
}

func (e Error) Error() string {
	if e.ErrorType != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.ErrorType)
	}
	return e.Message
}

// Errors renders a list of endpoint errors
type Errors []Error

func (e Errors) Error() string {
	messages := make([]string, len(e))
	for i, err := range e {
		messages[i] = err.Error()
	}
	return "[" + strings.Join(messages, "; ") + "]"
}

// Response is the envelope of every GraphQL reply. Data is nil when the
// endpoint returned no data.
type Response[T any] struct {
	Data   *T      `json:"data"`
	Errors []Error `json:"errors,omitempty"`
}

// HasData reports whether the envelope carries a payload
func (r *Response[T]) HasData() bool {
	return r != nil && r.Data != nil
}

// HasErrors reports whether the endpoint reported any error
func (r *Response[T]) HasErrors() bool {
	return r != nil && len(r.Errors) > 0
}

// RawResponse is an envelope whose payload has not been decoded yet.
type RawResponse = Response[json.RawMessage]

// ResponseConsumer receives the envelope of a completed call
type ResponseConsumer func(*RawResponse)

// FailureConsumer receives a transport or protocol failure
type FailureConsumer func(error)

// Behavior executes GraphQL operations against a remote endpoint. Exactly
// one of the two callbacks is invoked per call, possibly on another goroutine.
type Behavior interface {
	Query(ctx context.Context, req *Request, onResponse ResponseConsumer, onFailure FailureConsumer)
	Mutate(ctx context.Context, req *Request, onResponse ResponseConsumer, onFailure FailureConsumer)
}

// Decode converts a raw envelope into a typed one. Absent and null data
// stay absent; errors are carried over untouched.
func Decode[T any](raw *RawResponse) (*Response[T], error) {
	if raw == nil {
		return nil, fmt.Errorf("nil response envelope")
	}

	out := &Response[T]{Errors: raw.Errors}
	if isNull(raw.Data) {
		return out, nil
	}

	var v T
	if err := json.Unmarshal(*raw.Data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode response data: %w", err)
	}
	out.Data = &v
	return out, nil
}

// SelectField narrows the data of raw down to one top-level field, which is
// how operation results are returned (`{"createUser": {...}}`).
func SelectField(raw *RawResponse, field string) (*RawResponse, error) {
	if raw == nil {
		return nil, fmt.Errorf("nil response envelope")
	}

	out := &RawResponse{Errors: raw.Errors}
	if isNull(raw.Data) {
		return out, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(*raw.Data, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode response data: %w", err)
	}

	value, ok := fields[field]
	if !ok || isNull(&value) {
		return out, nil
	}
	out.Data = &value
	return out, nil
}

func isNull(data *json.RawMessage) bool {
	if data == nil {
		return true
	}
	trimmed := bytes.TrimSpace(*data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
