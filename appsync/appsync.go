// Package appsync is the callback-based remote client for an AppSync-style
// sync backend. It turns model operations into GraphQL documents and hands
// them to a graphql.Behavior.
package appsync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gobeyondidentity/go-model-sync/graphql"
	"github.com/gobeyondidentity/go-model-sync/model"
)

// AppSync is the set of remote sync operations. Each call reports through
// exactly one of its callbacks. The envelope passed to onResponse holds the
// operation's result field as Data, or no data when that field was null.
type AppSync interface {
	BuildSyncRequest(schema *model.ModelSchema, lastSync time.Time, limit int, predicate model.QueryPredicate) (*SyncRequest, error)
	Sync(ctx context.Context, request *SyncRequest, onResponse graphql.ResponseConsumer, onFailure graphql.FailureConsumer)
	Create(ctx context.Context, item model.Model, schema *model.ModelSchema, onResponse graphql.ResponseConsumer, onFailure graphql.FailureConsumer)
	Update(ctx context.Context, item model.Model, schema *model.ModelSchema, version int, onResponse graphql.ResponseConsumer, onFailure graphql.FailureConsumer)
	Delete(ctx context.Context, schema *model.ModelSchema, itemID string, version int, onResponse graphql.ResponseConsumer, onFailure graphql.FailureConsumer)
}

// SyncRequest is a prepared sync query
type SyncRequest struct {
	Schema  *model.ModelSchema
	Field   string
	Request *graphql.Request
}

// Client implements AppSync on top of a graphql.Behavior
type Client struct {
	behavior graphql.Behavior
	logger   logrus.FieldLogger
}

var _ AppSync = (*Client)(nil)

// Option configures a Client
type Option func(*Client)

// WithLogger sets the logger used for operation tracing
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Client) { c.logger = logger }
}

// Via derives a sync client from a GraphQL behavior
func Via(behavior graphql.Behavior, opts ...Option) *Client {
	c := &Client{behavior: behavior}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		c.logger = discard
	}
	return c
}

// BuildSyncRequest prepares a sync query. A zero lastSync requests a base
// sync, a zero limit leaves the page size to the backend.
func (c *Client) BuildSyncRequest(schema *model.ModelSchema, lastSync time.Time, limit int, predicate model.QueryPredicate) (*SyncRequest, error) {
	if schema == nil {
		return nil, fmt.Errorf("model schema is required")
	}
	if limit < 0 {
		return nil, fmt.Errorf("sync page limit must be non-negative, got %d", limit)
	}

	operation, field, doc := syncDocument(schema)

	variables := make(map[string]any)
	if limit > 0 {
		variables["limit"] = limit
	}
	if !lastSync.IsZero() {
		variables["lastSync"] = lastSync.UnixMilli()
	}
	if predicate != nil {
		if filter := predicate.Filter(); filter != nil {
			variables["filter"] = filter
		}
	}

	return &SyncRequest{
		Schema: schema,
		Field:  field,
		Request: &graphql.Request{
			Query:         doc,
			Variables:     variables,
			OperationName: operation,
		},
	}, nil
}

// Sync runs a prepared sync query
func (c *Client) Sync(ctx context.Context, request *SyncRequest, onResponse graphql.ResponseConsumer, onFailure graphql.FailureConsumer) {
	c.logger.WithFields(logrus.Fields{
		"operation": request.Request.OperationName,
		"model":     request.Schema.Name,
	}).Debug("Issuing sync query")

	c.behavior.Query(ctx, request.Request, selecting(request.Field, onResponse, onFailure), onFailure)
}

// Create stores a new record
func (c *Client) Create(ctx context.Context, item model.Model, schema *model.ModelSchema, onResponse graphql.ResponseConsumer, onFailure graphql.FailureConsumer) {
	input, err := MutationInput(item, MutationCreate)
	if err != nil {
		onFailure(err)
		return
	}
	c.mutate(ctx, schema, MutationCreate, input, onResponse, onFailure)
}

// Update replaces a record, provided the backend still holds version
func (c *Client) Update(ctx context.Context, item model.Model, schema *model.ModelSchema, version int, onResponse graphql.ResponseConsumer, onFailure graphql.FailureConsumer) {
	input, err := MutationInput(item, MutationUpdate)
	if err != nil {
		onFailure(err)
		return
	}
	input["_version"] = version
	c.mutate(ctx, schema, MutationUpdate, input, onResponse, onFailure)
}

// Delete removes a record, provided the backend still holds version
func (c *Client) Delete(ctx context.Context, schema *model.ModelSchema, itemID string, version int, onResponse graphql.ResponseConsumer, onFailure graphql.FailureConsumer) {
	input := map[string]any{
		"id":       itemID,
		"_version": version,
	}
	c.mutate(ctx, schema, MutationDelete, input, onResponse, onFailure)
}

func (c *Client) mutate(ctx context.Context, schema *model.ModelSchema, mutation MutationType, input map[string]any, onResponse graphql.ResponseConsumer, onFailure graphql.FailureConsumer) {
	if schema == nil {
		onFailure(fmt.Errorf("model schema is required"))
		return
	}

	operation, field, doc := mutationDocument(schema, mutation)
	c.logger.WithFields(logrus.Fields{
		"operation": operation,
		"model":     schema.Name,
	}).Debug("Issuing mutation")

	req := &graphql.Request{
		Query:         doc,
		Variables:     map[string]any{"input": input},
		OperationName: operation,
	}
	c.behavior.Mutate(ctx, req, selecting(field, onResponse, onFailure), onFailure)
}

// selecting narrows each envelope to the operation's result field
func selecting(field string, onResponse graphql.ResponseConsumer, onFailure graphql.FailureConsumer) graphql.ResponseConsumer {
	return func(raw *graphql.RawResponse) {
		selected, err := graphql.SelectField(raw, field)
		if err != nil {
			onFailure(err)
			return
		}
		onResponse(selected)
	}
}

// MutationInput serializes item into the input of a create or update. Null
// fields are dropped from creates only; an update replaces the record, so
// its nulls clear the stored values.
func MutationInput(item model.Model, mutation MutationType) (map[string]any, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T: %w", item, err)
	}

	var input map[string]any
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("model %T does not encode as a JSON object: %w", item, err)
	}

	if mutation == MutationCreate {
		for k, v := range input {
			if v == nil {
				delete(input, k)
			}
		}
	}
	return input, nil
}
