package syncstream

import (
	"fmt"

	"github.com/gobeyondidentity/go-model-sync/graphql"
	"github.com/gobeyondidentity/go-model-sync/model"
)

// Unwrap normalizes a response envelope into its payload. Remote errors take
// precedence over a missing payload; both yield a *DataError.
func Unwrap[P any](resp *graphql.Response[P]) (P, error) {
	var zero P
	if resp.HasErrors() {
		return zero, &DataError{Errors: resp.Errors}
	}
	if !resp.HasData() {
		return zero, &DataError{Err: ErrNoData}
	}
	return *resp.Data, nil
}

// unwrapAs decodes raw with graphql.Decode and unwraps the result. Remote
// errors win even over a payload that does not decode; a payload that does
// not decode is otherwise a protocol failure, not a DataError.
func unwrapAs[P any](op Operation, schema *model.ModelSchema, raw *graphql.RawResponse) (P, error) {
	var zero P

	typed := &graphql.Response[P]{}
	if raw.HasErrors() {
		typed.Errors = raw.Errors
	} else if raw != nil {
		var err error
		if typed, err = graphql.Decode[P](raw); err != nil {
			return zero, fmt.Errorf("failed to decode %s %s response: %w", op, schema.Name, err)
		}
	}

	payload, err := Unwrap(typed)
	if err != nil {
		dataErr := err.(*DataError)
		dataErr.Op = op
		dataErr.Model = schema.Name
		return zero, dataErr
	}
	return payload, nil
}
