package syncstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gobeyondidentity/go-model-sync/appsync/appsynctest"
	"github.com/gobeyondidentity/go-model-sync/graphql"
	"github.com/gobeyondidentity/go-model-sync/model"
)

type note struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Priority int    `json:"priority,omitempty"`
}

func (n note) PrimaryKey() string { return n.ID }
func (n note) ModelName() string  { return "Note" }

var envelope = appsynctest.Envelope

func await[T any](t *testing.T, f interface {
	Await(context.Context) (T, error)
}) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return f.Await(ctx)
}

func collect[T any](t *testing.T, s interface {
	Collect(context.Context) ([]T, error)
}) ([]T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Collect(ctx)
}

func TestCreateThenUpdate(t *testing.T) {
	c := NewWithAppSync(appsynctest.NewBackend())
	ctx := context.Background()

	created, err := await[model.ModelWithMetadata[note]](t, Create(ctx, c, note{ID: "n-1", Title: "draft"}))
	require.NoError(t, err)
	assert.Equal(t, note{ID: "n-1", Title: "draft"}, created.Model)
	assert.Equal(t, 1, created.Metadata.Version)
	assert.False(t, created.Metadata.Deleted)

	updated, err := await[model.ModelWithMetadata[note]](t, Update(ctx, c, note{ID: "n-1", Title: "final", Priority: 2}, created.Metadata.Version))
	require.NoError(t, err)
	assert.Equal(t, "final", updated.Model.Title)
	assert.Equal(t, 2, updated.Model.Priority)
	assert.Equal(t, 2, updated.Metadata.Version)
}

func TestUpdate_StaleVersion(t *testing.T) {
	c := NewWithAppSync(appsynctest.NewBackend())
	ctx := context.Background()

	created, err := await[model.ModelWithMetadata[note]](t, Create(ctx, c, note{ID: "n-1", Title: "draft"}))
	require.NoError(t, err)

	_, err = await[model.ModelWithMetadata[note]](t, Update(ctx, c, note{ID: "n-1", Title: "late"}, created.Metadata.Version+4))
	require.Error(t, err)

	var dataErr *DataError
	require.ErrorAs(t, err, &dataErr)
	assert.Equal(t, OpUpdate, dataErr.Op)
	assert.Equal(t, "Note", dataErr.Model)
	require.Len(t, dataErr.Errors, 1)
	assert.Equal(t, "ConflictUnhandled", dataErr.Errors[0].ErrorType)
	assert.Contains(t, dataErr.Errors[0].Message, "Current version is 1")
	assert.JSONEq(t, `{"id": "n-1", "title": "draft", "_version": 1, "_deleted": false, "_lastChangedAt": `+
		fmt.Sprint(created.Metadata.LastChangedAt)+`}`, string(dataErr.Errors[0].Data))
	assert.Contains(t, err.Error(), "Current version is 1")
	assert.True(t, IsConflict(err))
	assert.NotErrorIs(t, err, ErrNoData)
}

func TestDelete(t *testing.T) {
	c := NewWithAppSync(appsynctest.NewBackend())
	ctx := context.Background()

	created, err := await[model.ModelWithMetadata[note]](t, Create(ctx, c, note{ID: "n-1", Title: "draft"}))
	require.NoError(t, err)

	deleted, err := await[model.ModelWithMetadata[note]](t, Delete[note](ctx, c, "n-1", created.Metadata.Version))
	require.NoError(t, err)
	assert.True(t, deleted.Metadata.Deleted)
	assert.Equal(t, 2, deleted.Metadata.Version)
	assert.Equal(t, "n-1", deleted.Model.ID)
}

func TestDelete_Missing(t *testing.T) {
	c := NewWithAppSync(appsynctest.NewBackend())

	_, err := await[model.ModelWithMetadata[note]](t, Delete[note](context.Background(), c, "missing", 1))
	require.Error(t, err)
	assert.True(t, IsDataError(err))
	assert.ErrorIs(t, err, ErrNoData)
	assert.False(t, IsConflict(err))
	assert.Equal(t, "delete Note: no data returned", err.Error())
}

func TestSync_Empty(t *testing.T) {
	c := NewWithAppSync(appsynctest.NewBackend())

	items, err := collect[model.ModelWithMetadata[note]](t, Sync[note](context.Background(), c))
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestSync_ResponseOrder(t *testing.T) {
	backend := appsynctest.NewBackend()
	c := NewWithAppSync(backend)
	ctx := context.Background()

	ids := []string{"c", "a", "e", "b", "d"}
	for _, id := range ids {
		_, err := await[model.ModelWithMetadata[note]](t, Create(ctx, c, note{ID: id, Title: "title " + id}))
		require.NoError(t, err)
	}
	_, err := await[model.ModelWithMetadata[note]](t, Delete[note](ctx, c, "e", 1))
	require.NoError(t, err)

	items, err := collect[model.ModelWithMetadata[note]](t, Sync[note](ctx, c))
	require.NoError(t, err)
	require.Len(t, items, len(ids))

	for i, item := range items {
		assert.Equal(t, ids[i], item.Model.ID)
		assert.Equal(t, "title "+ids[i], item.Model.Title)
		assert.Equal(t, ids[i], item.Metadata.ID)
	}
	assert.True(t, items[2].Metadata.Deleted, "deleted records are synced with their tombstone")
	assert.Equal(t, 2, items[2].Metadata.Version)
}

func TestSync_IsLazy(t *testing.T) {
	backend := appsynctest.NewBackend()
	c := NewWithAppSync(backend)

	stream := Sync[note](context.Background(), c)
	assert.Equal(t, 0, backend.Calls(), "sync must not reach the backend before the first pull")

	_, err := collect[model.ModelWithMetadata[note]](t, stream)
	require.NoError(t, err)
	assert.Equal(t, 1, backend.Calls())
}

func TestOperations_TransportFailure(t *testing.T) {
	boom := errors.New("connection refused")
	backend := appsynctest.NewBackend()
	backend.Fail(boom)
	c := NewWithAppSync(backend)
	ctx := context.Background()

	_, err := collect[model.ModelWithMetadata[note]](t, Sync[note](ctx, c))
	assert.Same(t, boom, err)
	assert.False(t, IsDataError(err))

	_, err = await[model.ModelWithMetadata[note]](t, Create(ctx, c, note{ID: "n-1"}))
	assert.Same(t, boom, err)

	_, err = await[model.ModelWithMetadata[note]](t, Update(ctx, c, note{ID: "n-1"}, 1))
	assert.Same(t, boom, err)

	_, err = await[model.ModelWithMetadata[note]](t, Delete[note](ctx, c, "n-1", 1))
	assert.Same(t, boom, err)
}

func TestOperations_ErrorsTakePrecedence(t *testing.T) {
	conflictErr := graphql.Error{Message: "rejected", ErrorType: "ConflictUnhandled"}
	ctx := context.Background()

	tests := []struct {
		name     string
		resp     *graphql.RawResponse
		noData   bool
		conflict bool
	}{
		{
			name:     "errors without data",
			resp:     envelope(nil, conflictErr),
			conflict: true,
		},
		{
			name:     "errors with data",
			resp:     envelope(map[string]any{"id": "n-1", "_version": 3}, conflictErr),
			conflict: true,
		},
		{
			name:   "no errors and no data",
			resp:   envelope(nil),
			noData: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewWithAppSync(&appsynctest.Canned{Response: tt.resp})

			results := map[Operation]error{}
			_, results[OpSync] = collect[model.ModelWithMetadata[note]](t, Sync[note](ctx, c))
			_, results[OpCreate] = await[model.ModelWithMetadata[note]](t, Create(ctx, c, note{ID: "n-1"}))
			_, results[OpUpdate] = await[model.ModelWithMetadata[note]](t, Update(ctx, c, note{ID: "n-1"}, 1))
			_, results[OpDelete] = await[model.ModelWithMetadata[note]](t, Delete[note](ctx, c, "n-1", 1))

			for op, err := range results {
				var dataErr *DataError
				require.ErrorAs(t, err, &dataErr, "operation %s", op)
				assert.Equal(t, op, dataErr.Op)
				assert.Equal(t, tt.noData, errors.Is(err, ErrNoData), "operation %s", op)
				assert.Equal(t, tt.conflict, IsConflict(err), "operation %s", op)
			}
		})
	}
}

func TestOperations_MalformedPayload(t *testing.T) {
	c := NewWithAppSync(&appsynctest.Canned{Response: envelope([]int{1, 2})})

	_, err := await[model.ModelWithMetadata[note]](t, Create(context.Background(), c, note{ID: "n-1"}))
	require.Error(t, err)
	assert.False(t, IsDataError(err), "a payload that does not decode is not a data error")
	assert.Contains(t, err.Error(), "failed to decode create Note response")
}

func TestOperations_ErrorsWinOverMalformedPayload(t *testing.T) {
	c := NewWithAppSync(&appsynctest.Canned{Response: envelope([]int{1, 2}, graphql.Error{Message: "denied", ErrorType: "Unauthorized"})})

	_, err := await[model.ModelWithMetadata[note]](t, Update(context.Background(), c, note{ID: "n-1"}, 1))
	require.Error(t, err)

	var dataErr *DataError
	require.ErrorAs(t, err, &dataErr)
	assert.Equal(t, OpUpdate, dataErr.Op)
	assert.Equal(t, "denied", dataErr.Errors[0].Message)
}

func TestCreate_Concurrent(t *testing.T) {
	c := NewWithAppSync(appsynctest.NewBackend())
	ctx := context.Background()

	const callers = 16
	results := make([]model.ModelWithMetadata[note], callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			item := note{ID: fmt.Sprintf("n-%d", i), Title: fmt.Sprintf("note %d", i), Priority: i}
			results[i], errs[i] = await[model.ModelWithMetadata[note]](t, Create(ctx, c, item))
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, fmt.Sprintf("n-%d", i), results[i].Model.ID)
		assert.Equal(t, fmt.Sprintf("note %d", i), results[i].Model.Title)
		assert.Equal(t, i, results[i].Model.Priority)
		assert.Equal(t, 1, results[i].Metadata.Version)
	}
}

type observation struct {
	op    Operation
	model string
	items int
	err   error
}

type recordingObserver struct {
	mu   sync.Mutex
	seen []observation
}

func (o *recordingObserver) ObserveOperation(op Operation, modelName string, duration time.Duration, items int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, observation{op: op, model: modelName, items: items, err: err})
}

func TestObserver(t *testing.T) {
	observer := &recordingObserver{}
	c := NewWithAppSync(appsynctest.NewBackend(), WithObserver(observer))
	ctx := context.Background()

	_, err := await[model.ModelWithMetadata[note]](t, Create(ctx, c, note{ID: "n-1"}))
	require.NoError(t, err)
	_, err = await[model.ModelWithMetadata[note]](t, Create(ctx, c, note{ID: "n-2"}))
	require.NoError(t, err)
	_, err = collect[model.ModelWithMetadata[note]](t, Sync[note](ctx, c))
	require.NoError(t, err)
	_, err = await[model.ModelWithMetadata[note]](t, Delete[note](ctx, c, "missing", 1))
	require.Error(t, err)

	observer.mu.Lock()
	defer observer.mu.Unlock()
	require.Len(t, observer.seen, 4)
	assert.Equal(t, observation{op: OpCreate, model: "Note", items: 1}, observer.seen[0])
	assert.Equal(t, observation{op: OpSync, model: "Note", items: 2}, observer.seen[2])
	assert.Equal(t, OpDelete, observer.seen[3].op)
	assert.ErrorIs(t, observer.seen[3].err, ErrNoData)
}

func TestNew_UsesBehavior(t *testing.T) {
	behavior := &stubBehavior{
		respond: envelope(map[string]any{
			"syncNotes": map[string]any{
				"items":     []any{map[string]any{"id": "n-1", "title": "hello", "_version": 7}},
				"nextToken": nil,
				"startedAt": 1,
			},
		}),
	}
	c := New(behavior)

	items, err := collect[model.ModelWithMetadata[note]](t, Sync[note](context.Background(), c))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "hello", items[0].Model.Title)
	assert.Equal(t, 7, items[0].Metadata.Version)
	assert.Equal(t, "SyncNotes", behavior.operation)
}

type stubBehavior struct {
	operation string
	respond   *graphql.RawResponse
}

func (b *stubBehavior) Query(ctx context.Context, req *graphql.Request, onResponse graphql.ResponseConsumer, onFailure graphql.FailureConsumer) {
	b.operation = req.OperationName
	go onResponse(b.respond)
}

func (b *stubBehavior) Mutate(ctx context.Context, req *graphql.Request, onResponse graphql.ResponseConsumer, onFailure graphql.FailureConsumer) {
	b.operation = req.OperationName
	go onResponse(b.respond)
}
