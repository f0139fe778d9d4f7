package appsync

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gobeyondidentity/go-model-sync/graphql"
	"github.com/gobeyondidentity/go-model-sync/model"
)

type label struct {
	Text  string `json:"text"`
	Color string `json:"color,omitempty"`
}

type todo struct {
	ID     string  `json:"id"`
	Title  string  `json:"title"`
	Notes  *string `json:"notes"`
	Labels []label `json:"labels,omitempty"`
}

func (t todo) PrimaryKey() string { return t.ID }
func (t todo) ModelName() string  { return "Todo" }

type unencodable struct {
	ID string         `json:"id"`
	Fn func() string `json:"fn"`
}

func (u unencodable) PrimaryKey() string { return u.ID }
func (u unencodable) ModelName() string  { return "Unencodable" }

// recordingBehavior answers every call with a canned envelope or failure.
type recordingBehavior struct {
	requests []*graphql.Request
	kinds    []string
	respond  string
	fail     error
}

func (b *recordingBehavior) Query(ctx context.Context, req *graphql.Request, onResponse graphql.ResponseConsumer, onFailure graphql.FailureConsumer) {
	b.record("query", req, onResponse, onFailure)
}

func (b *recordingBehavior) Mutate(ctx context.Context, req *graphql.Request, onResponse graphql.ResponseConsumer, onFailure graphql.FailureConsumer) {
	b.record("mutation", req, onResponse, onFailure)
}

func (b *recordingBehavior) record(kind string, req *graphql.Request, onResponse graphql.ResponseConsumer, onFailure graphql.FailureConsumer) {
	b.kinds = append(b.kinds, kind)
	b.requests = append(b.requests, req)
	if b.fail != nil {
		onFailure(b.fail)
		return
	}
	var raw graphql.RawResponse
	if err := json.Unmarshal([]byte(b.respond), &raw); err != nil {
		onFailure(err)
		return
	}
	onResponse(&raw)
}

// capture collects the outcome of a single call
type capture struct {
	resp *graphql.RawResponse
	err  error
	n    int
}

func (c *capture) onResponse(r *graphql.RawResponse) { c.resp = r; c.n++ }
func (c *capture) onFailure(err error)               { c.err = err; c.n++ }

func TestBuildSyncRequest(t *testing.T) {
	c := Via(&recordingBehavior{})
	schema := model.SchemaOf[todo]()

	req, err := c.BuildSyncRequest(schema, time.Time{}, 0, model.MatchAll())
	require.NoError(t, err)

	assert.Equal(t, "SyncTodos", req.Request.OperationName)
	assert.Equal(t, "syncTodos", req.Field)
	assert.Empty(t, req.Request.Variables, "base sync sends no cursor, limit or filter")

	doc := req.Request.Query
	for _, want := range []string{
		"query SyncTodos(",
		"$filter: ModelTodoFilterInput",
		"syncTodos(limit: $limit, nextToken: $nextToken, lastSync: $lastSync, filter: $filter)",
		"title",
		"notes",
		"labels {",
		"text",
		"_version",
		"_deleted",
		"_lastChangedAt",
		"nextToken",
		"startedAt",
	} {
		assert.Contains(t, doc, want)
	}
}

type titleIs string

func (p titleIs) Filter() map[string]any {
	return map[string]any{"title": map[string]any{"eq": string(p)}}
}

func TestBuildSyncRequest_Variables(t *testing.T) {
	c := Via(&recordingBehavior{})
	lastSync := time.UnixMilli(1700000000000)

	req, err := c.BuildSyncRequest(model.SchemaOf[todo](), lastSync, 100, titleIs("milk"))
	require.NoError(t, err)

	assert.Equal(t, 100, req.Request.Variables["limit"])
	assert.Equal(t, int64(1700000000000), req.Request.Variables["lastSync"])
	assert.Equal(t, map[string]any{"title": map[string]any{"eq": "milk"}}, req.Request.Variables["filter"])
}

func TestBuildSyncRequest_Invalid(t *testing.T) {
	c := Via(&recordingBehavior{})

	_, err := c.BuildSyncRequest(nil, time.Time{}, 0, model.MatchAll())
	assert.Error(t, err)

	_, err = c.BuildSyncRequest(model.SchemaOf[todo](), time.Time{}, -1, model.MatchAll())
	assert.Error(t, err)
}

func TestSync_SelectsResultField(t *testing.T) {
	behavior := &recordingBehavior{
		respond: `{"data": {"syncTodos": {"items": [{"id": "1"}], "nextToken": null, "startedAt": 5}}}`,
	}
	c := Via(behavior)
	req, err := c.BuildSyncRequest(model.SchemaOf[todo](), time.Time{}, 0, model.MatchAll())
	require.NoError(t, err)

	var got capture
	c.Sync(context.Background(), req, got.onResponse, got.onFailure)

	require.Equal(t, 1, got.n)
	require.NoError(t, got.err)
	require.True(t, got.resp.HasData())
	assert.JSONEq(t, `{"items": [{"id": "1"}], "nextToken": null, "startedAt": 5}`, string(*got.resp.Data))
	assert.Equal(t, []string{"query"}, behavior.kinds)
}

func TestMutations(t *testing.T) {
	notes := "two litres"
	item := todo{ID: "t-1", Title: "milk", Notes: &notes}

	tests := []struct {
		name      string
		call      func(c *Client, cb *capture)
		respond   string
		operation string
		input     map[string]any
	}{
		{
			name: "create",
			call: func(c *Client, cb *capture) {
				c.Create(context.Background(), item, model.SchemaFor(item), cb.onResponse, cb.onFailure)
			},
			respond:   `{"data": {"createTodo": {"id": "t-1", "_version": 1}}}`,
			operation: "CreateTodo",
			input:     map[string]any{"id": "t-1", "title": "milk", "notes": "two litres"},
		},
		{
			name: "update",
			call: func(c *Client, cb *capture) {
				c.Update(context.Background(), item, model.SchemaFor(item), 3, cb.onResponse, cb.onFailure)
			},
			respond:   `{"data": {"updateTodo": {"id": "t-1", "_version": 4}}}`,
			operation: "UpdateTodo",
			input:     map[string]any{"id": "t-1", "title": "milk", "notes": "two litres", "_version": 3},
		},
		{
			name: "delete",
			call: func(c *Client, cb *capture) {
				c.Delete(context.Background(), model.SchemaOf[todo](), "t-1", 4, cb.onResponse, cb.onFailure)
			},
			respond:   `{"data": {"deleteTodo": {"id": "t-1", "_version": 5, "_deleted": true}}}`,
			operation: "DeleteTodo",
			input:     map[string]any{"id": "t-1", "_version": 4},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			behavior := &recordingBehavior{respond: tt.respond}
			c := Via(behavior)

			var got capture
			tt.call(c, &got)

			require.Equal(t, 1, got.n)
			require.NoError(t, got.err)
			assert.True(t, got.resp.HasData())

			require.Len(t, behavior.requests, 1)
			req := behavior.requests[0]
			assert.Equal(t, []string{"mutation"}, behavior.kinds)
			assert.Equal(t, tt.operation, req.OperationName)
			assert.True(t, strings.HasPrefix(req.Query, "mutation "+tt.operation+"($input: "+tt.operation+"Input!"))
			assert.Equal(t, tt.input, req.Variables["input"])
		})
	}
}

func TestMutationInput_Nulls(t *testing.T) {
	item := todo{ID: "t-1", Title: "milk"}

	create, err := MutationInput(item, MutationCreate)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": "t-1", "title": "milk"}, create)

	update, err := MutationInput(item, MutationUpdate)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": "t-1", "title": "milk", "notes": nil}, update)
}

func TestUpdate_SendsClearedField(t *testing.T) {
	behavior := &recordingBehavior{respond: `{"data": {"updateTodo": {"id": "t-1", "_version": 4}}}`}

	var got capture
	Via(behavior).Update(context.Background(), todo{ID: "t-1", Title: "milk"}, model.SchemaOf[todo](), 3, got.onResponse, got.onFailure)

	require.NoError(t, got.err)
	require.Len(t, behavior.requests, 1)
	input := behavior.requests[0].Variables["input"].(map[string]any)
	notes, sent := input["notes"]
	assert.True(t, sent, "cleared field must be sent on update")
	assert.Nil(t, notes)
	assert.Equal(t, 3, input["_version"])
}

func TestMutation_NullResultHasNoData(t *testing.T) {
	behavior := &recordingBehavior{
		respond: `{"data": {"deleteTodo": null}, "errors": [{"message": "not found", "errorType": "DynamoDB:ConditionalCheckFailedException"}]}`,
	}

	var got capture
	Via(behavior).Delete(context.Background(), model.SchemaOf[todo](), "missing", 1, got.onResponse, got.onFailure)

	require.Equal(t, 1, got.n)
	require.NoError(t, got.err)
	assert.False(t, got.resp.HasData())
	assert.True(t, got.resp.HasErrors())
}

func TestMutation_Failures(t *testing.T) {
	t.Run("transport failure is forwarded", func(t *testing.T) {
		boom := errors.New("connection reset")
		var got capture
		Via(&recordingBehavior{fail: boom}).Create(context.Background(), todo{ID: "x"}, model.SchemaOf[todo](), got.onResponse, got.onFailure)

		require.Equal(t, 1, got.n)
		assert.ErrorIs(t, got.err, boom)
	})

	t.Run("unencodable model fails before any request", func(t *testing.T) {
		behavior := &recordingBehavior{}
		item := unencodable{ID: "x", Fn: func() string { return "" }}

		var got capture
		Via(behavior).Create(context.Background(), item, model.SchemaFor(item), got.onResponse, got.onFailure)

		require.Equal(t, 1, got.n)
		assert.Error(t, got.err)
		assert.Empty(t, behavior.requests)
	})

	t.Run("malformed data is a protocol failure", func(t *testing.T) {
		var got capture
		Via(&recordingBehavior{respond: `{"data": [1]}`}).Create(context.Background(), todo{ID: "x"}, model.SchemaOf[todo](), got.onResponse, got.onFailure)

		require.Equal(t, 1, got.n)
		assert.Error(t, got.err)
	})
}
