package syncstream

import (
	"errors"
	"fmt"

	"github.com/gobeyondidentity/go-model-sync/graphql"
)

// ErrNoData is wrapped by a DataError when the backend answered without
// errors but also without a payload.
var ErrNoData = errors.New("no data returned")

// conflictErrorType is the errorType the backend uses for a rejected version
const conflictErrorType = "ConflictUnhandled"

// Operation names an adapter operation
type Operation string

const (
	OpSync   Operation = "sync"
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// DataError reports an envelope that carried remote errors or no data.
// Errors holds the remote errors verbatim; when it is empty, Err is ErrNoData.
type DataError struct {
	Op     Operation
	Model  string
	Errors graphql.Errors
	Err    error
}

func (e *DataError) Error() string {
	var msg string
	switch {
	case e.Op != "" && e.Model != "":
		msg = fmt.Sprintf("%s %s", e.Op, e.Model)
	case e.Op != "":
		msg = string(e.Op)
	default:
		msg = "unwrap response"
	}

	if len(e.Errors) > 0 {
		return msg + ": remote errors: " + e.Errors.Error()
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *DataError) Unwrap() error {
	if len(e.Errors) > 0 {
		return e.Errors
	}
	return e.Err
}

// IsConflict reports whether the backend rejected the mutation's version
func (e *DataError) IsConflict() bool {
	for _, remote := range e.Errors {
		if remote.ErrorType == conflictErrorType {
			return true
		}
	}
	return false
}

// IsDataError reports whether err is, or wraps, a DataError
func IsDataError(err error) bool {
	var dataErr *DataError
	return errors.As(err, &dataErr)
}

// IsConflict reports whether err is a DataError caused by a version conflict
func IsConflict(err error) bool {
	var dataErr *DataError
	if errors.As(err, &dataErr) {
		return dataErr.IsConflict()
	}
	return false
}
