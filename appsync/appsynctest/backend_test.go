package appsynctest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gobeyondidentity/go-model-sync/graphql"
	"github.com/gobeyondidentity/go-model-sync/model"
)

type ticket struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Assignee *string `json:"assignee"`
}

func (t ticket) PrimaryKey() string { return t.ID }
func (t ticket) ModelName() string  { return "Ticket" }

// call runs one callback-style operation and waits for its outcome
func call(t *testing.T, run func(graphql.ResponseConsumer, graphql.FailureConsumer)) map[string]any {
	t.Helper()
	done := make(chan *graphql.RawResponse, 1)
	failed := make(chan error, 1)
	run(func(r *graphql.RawResponse) { done <- r }, func(err error) { failed <- err })

	select {
	case r := <-done:
		require.Empty(t, r.Errors)
		require.NotNil(t, r.Data)
		var out map[string]any
		require.NoError(t, json.Unmarshal(*r.Data, &out))
		return out
	case err := <-failed:
		t.Fatalf("unexpected failure: %v", err)
		return nil
	}
}

func TestBackend_UpdateClearsField(t *testing.T) {
	b := NewBackend()
	schema := model.SchemaOf[ticket]()
	ctx := context.Background()
	alice := "alice"

	created := call(t, func(ok graphql.ResponseConsumer, fail graphql.FailureConsumer) {
		b.Create(ctx, ticket{ID: "t-1", Title: "broken", Assignee: &alice}, schema, ok, fail)
	})
	assert.Equal(t, "alice", created["assignee"])

	updated := call(t, func(ok graphql.ResponseConsumer, fail graphql.FailureConsumer) {
		b.Update(ctx, ticket{ID: "t-1", Title: "broken"}, schema, 1, ok, fail)
	})
	assignee, present := updated["assignee"]
	assert.True(t, present)
	assert.Nil(t, assignee)
	assert.EqualValues(t, 2, updated["_version"])
}

func TestBackend_CreateOmitsNulls(t *testing.T) {
	b := NewBackend()

	created := call(t, func(ok graphql.ResponseConsumer, fail graphql.FailureConsumer) {
		b.Create(context.Background(), ticket{ID: "t-2", Title: "new"}, model.SchemaOf[ticket](), ok, fail)
	})
	_, present := created["assignee"]
	assert.False(t, present)
	assert.EqualValues(t, 1, created["_version"])
}
