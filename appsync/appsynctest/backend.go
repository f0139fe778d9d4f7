// Package appsynctest provides an in-memory appsync.AppSync for tests.
package appsynctest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gobeyondidentity/go-model-sync/appsync"
	"github.com/gobeyondidentity/go-model-sync/graphql"
	"github.com/gobeyondidentity/go-model-sync/model"
)

// ConflictErrorType is reported when a mutation carries a stale version
const ConflictErrorType = "ConflictUnhandled"

type record struct {
	fields  map[string]any
	version int
	deleted bool
	changed int64
}

func (r *record) wire() map[string]any {
	out := make(map[string]any, len(r.fields)+3)
	for k, v := range r.fields {
		out[k] = v
	}
	out["_version"] = r.version
	out["_deleted"] = r.deleted
	out["_lastChangedAt"] = r.changed
	return out
}

// Backend versions records the way the hosted service does: creates start
// at version 1, every accepted mutation bumps it, stale versions are
// rejected with the current record attached, and deletes leave a
// tombstone that is still synced. Unknown ids yield a null result.
// Callbacks run on their own goroutine.
type Backend struct {
	mu      sync.Mutex
	records map[string]map[string]*record
	order   map[string][]string
	calls   int
	fail    error
}

var _ appsync.AppSync = (*Backend)(nil)

// NewBackend returns an empty backend
func NewBackend() *Backend {
	return &Backend{
		records: make(map[string]map[string]*record),
		order:   make(map[string][]string),
	}
}

// Fail makes every following call report err as a transport failure.
// A nil err restores normal operation.
func (b *Backend) Fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail = err
}

// Calls returns the number of remote calls received
func (b *Backend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// Len returns the number of stored records of a model, tombstones included
func (b *Backend) Len(modelName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order[modelName])
}

// BuildSyncRequest builds the same request as the real client
func (b *Backend) BuildSyncRequest(schema *model.ModelSchema, lastSync time.Time, limit int, predicate model.QueryPredicate) (*appsync.SyncRequest, error) {
	return appsync.Via(nil).BuildSyncRequest(schema, lastSync, limit, predicate)
}

// Sync returns every record of the model in insertion order as one page
func (b *Backend) Sync(ctx context.Context, request *appsync.SyncRequest, onResponse graphql.ResponseConsumer, onFailure graphql.FailureConsumer) {
	b.reply(onResponse, onFailure, func() *graphql.RawResponse {
		items := []any{}
		for _, id := range b.order[request.Schema.Name] {
			items = append(items, b.records[request.Schema.Name][id].wire())
		}
		return Envelope(map[string]any{
			"items":     items,
			"nextToken": nil,
			"startedAt": time.Now().UnixMilli(),
		})
	})
}

func (b *Backend) Create(ctx context.Context, item model.Model, schema *model.ModelSchema, onResponse graphql.ResponseConsumer, onFailure graphql.FailureConsumer) {
	fields, err := appsync.MutationInput(item, appsync.MutationCreate)
	if err != nil {
		onFailure(err)
		return
	}
	b.reply(onResponse, onFailure, func() *graphql.RawResponse {
		table := b.table(schema.Name)
		if _, exists := table[item.PrimaryKey()]; exists {
			return Envelope(nil, graphql.Error{
				Message:   "The conditional request failed",
				ErrorType: "DynamoDB:ConditionalCheckFailedException",
			})
		}
		r := &record{fields: fields, version: 1, changed: time.Now().UnixMilli()}
		table[item.PrimaryKey()] = r
		b.order[schema.Name] = append(b.order[schema.Name], item.PrimaryKey())
		return Envelope(r.wire())
	})
}

func (b *Backend) Update(ctx context.Context, item model.Model, schema *model.ModelSchema, version int, onResponse graphql.ResponseConsumer, onFailure graphql.FailureConsumer) {
	fields, err := appsync.MutationInput(item, appsync.MutationUpdate)
	if err != nil {
		onFailure(err)
		return
	}
	b.reply(onResponse, onFailure, func() *graphql.RawResponse {
		r, ok := b.table(schema.Name)[item.PrimaryKey()]
		if !ok || r.deleted {
			return Envelope(nil)
		}
		if r.version != version {
			return conflict(r)
		}
		r.fields = fields
		r.version++
		r.changed = time.Now().UnixMilli()
		return Envelope(r.wire())
	})
}

func (b *Backend) Delete(ctx context.Context, schema *model.ModelSchema, itemID string, version int, onResponse graphql.ResponseConsumer, onFailure graphql.FailureConsumer) {
	b.reply(onResponse, onFailure, func() *graphql.RawResponse {
		r, ok := b.table(schema.Name)[itemID]
		if !ok || r.deleted {
			return Envelope(nil)
		}
		if r.version != version {
			return conflict(r)
		}
		r.deleted = true
		r.version++
		r.changed = time.Now().UnixMilli()
		return Envelope(r.wire())
	})
}

func (b *Backend) table(name string) map[string]*record {
	if b.records[name] == nil {
		b.records[name] = make(map[string]*record)
	}
	return b.records[name]
}

func (b *Backend) reply(onResponse graphql.ResponseConsumer, onFailure graphql.FailureConsumer, handle func() *graphql.RawResponse) {
	b.mu.Lock()
	b.calls++
	fail := b.fail
	b.mu.Unlock()

	go func() {
		if fail != nil {
			onFailure(fail)
			return
		}
		b.mu.Lock()
		resp := handle()
		b.mu.Unlock()
		onResponse(resp)
	}()
}

func conflict(r *record) *graphql.RawResponse {
	current, _ := json.Marshal(r.wire())
	return Envelope(nil, graphql.Error{
		Message:   fmt.Sprintf("Conflict resolver rejects mutation. Current version is %d", r.version),
		ErrorType: ConflictErrorType,
		Data:      current,
	})
}

// Envelope builds a selected-field envelope as the appsync client delivers
// it. A nil data leaves the envelope without data.
func Envelope(data any, errs ...graphql.Error) *graphql.RawResponse {
	resp := &graphql.RawResponse{Errors: errs}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			panic(fmt.Sprintf("appsynctest: cannot encode envelope data: %v", err))
		}
		msg := json.RawMessage(raw)
		resp.Data = &msg
	}
	return resp
}

// Canned answers every call with the same envelope
type Canned struct {
	Response *graphql.RawResponse
}

var _ appsync.AppSync = (*Canned)(nil)

func (c *Canned) BuildSyncRequest(schema *model.ModelSchema, lastSync time.Time, limit int, predicate model.QueryPredicate) (*appsync.SyncRequest, error) {
	return appsync.Via(nil).BuildSyncRequest(schema, lastSync, limit, predicate)
}

func (c *Canned) Sync(ctx context.Context, request *appsync.SyncRequest, onResponse graphql.ResponseConsumer, onFailure graphql.FailureConsumer) {
	go onResponse(c.Response)
}

func (c *Canned) Create(ctx context.Context, item model.Model, schema *model.ModelSchema, onResponse graphql.ResponseConsumer, onFailure graphql.FailureConsumer) {
	go onResponse(c.Response)
}

func (c *Canned) Update(ctx context.Context, item model.Model, schema *model.ModelSchema, version int, onResponse graphql.ResponseConsumer, onFailure graphql.FailureConsumer) {
	go onResponse(c.Response)
}

func (c *Canned) Delete(ctx context.Context, schema *model.ModelSchema, itemID string, version int, onResponse graphql.ResponseConsumer, onFailure graphql.FailureConsumer) {
	go onResponse(c.Response)
}
