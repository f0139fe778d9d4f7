package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/gobeyondidentity/go-model-sync/internal/directory"
	"github.com/gobeyondidentity/go-model-sync/model"
	"github.com/gobeyondidentity/go-model-sync/syncstream"
)

// ErrUnknownModel is returned for a model name that was never registered
var ErrUnknownModel = errors.New("unknown model")

// ErrInvalidInput wraps request bodies that do not decode into the model
var ErrInvalidInput = errors.New("invalid input")

// maxConcurrentSyncs bounds how many models SyncAll syncs at once
const maxConcurrentSyncs = 4

// binding holds the type-erased operations of one registered model
type binding struct {
	schema *model.ModelSchema
	sync   func(ctx context.Context) ([]any, int, error)
	create func(ctx context.Context, body []byte) (any, error)
	update func(ctx context.Context, id string, version int, body []byte) (any, error)
	delete func(ctx context.Context, id string, version int) (any, error)
}

// Registry maps model names to adapter operations
type Registry struct {
	client *syncstream.Client
	logger logrus.FieldLogger

	mu     sync.RWMutex
	models map[string]*binding
}

// NewRegistry creates an empty registry backed by client
func NewRegistry(client *syncstream.Client, logger logrus.FieldLogger) *Registry {
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}
	return &Registry{
		client: client,
		logger: logger,
		models: make(map[string]*binding),
	}
}

// Register binds model T under its model name. newItem returns the value
// request bodies are decoded into; nil means the zero value.
func Register[T model.Model](reg *Registry, newItem func() T) {
	schema := model.SchemaOf[T]()
	client := reg.client

	decode := func(body []byte) (T, error) {
		var item T
		if newItem != nil {
			item = newItem()
		}
		if err := json.Unmarshal(body, &item); err != nil {
			return item, fmt.Errorf("%w: %s: %v", ErrInvalidInput, schema.Name, err)
		}
		if isNil(item) {
			return item, fmt.Errorf("%w: %s: body must be a JSON object", ErrInvalidInput, schema.Name)
		}
		return item, nil
	}

	b := &binding{
		schema: schema,
		sync: func(ctx context.Context) ([]any, int, error) {
			records, err := syncstream.Sync[T](ctx, client).Collect(ctx)
			if err != nil {
				return nil, 0, err
			}
			items := make([]any, len(records))
			deleted := 0
			for i, r := range records {
				items[i] = r
				if r.Metadata.Deleted {
					deleted++
				}
			}
			return items, deleted, nil
		},
		create: func(ctx context.Context, body []byte) (any, error) {
			item, err := decode(body)
			if err != nil {
				return nil, err
			}
			directory.EnsureID(&item)
			return syncstream.Create(ctx, client, item).Await(ctx)
		},
		update: func(ctx context.Context, id string, version int, body []byte) (any, error) {
			item, err := decode(body)
			if err != nil {
				return nil, err
			}
			if item.PrimaryKey() == "" {
				directory.AssignID(&item, id)
			}
			if item.PrimaryKey() != id {
				return nil, fmt.Errorf("%w: body id %q does not match %q", ErrInvalidInput, item.PrimaryKey(), id)
			}
			return syncstream.Update(ctx, client, item, version).Await(ctx)
		},
		delete: func(ctx context.Context, id string, version int) (any, error) {
			return syncstream.Delete[T](ctx, client, id, version).Await(ctx)
		},
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.models[schema.Name] = b
	reg.logger.WithField("model", schema.Name).Debug("Registered model")
}

// isNil reports whether a pointer, map or interface model decoded to nil
func isNil(item any) bool {
	if item == nil {
		return true
	}
	v := reflect.ValueOf(item)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// Names returns the registered model names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schema returns the schema of a registered model
func (r *Registry) Schema(name string) (*model.ModelSchema, bool) {
	b, err := r.lookup(name)
	if err != nil {
		return nil, false
	}
	return b.schema, true
}

func (r *Registry) lookup(name string) (*binding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	return b, nil
}

// Sync returns every record of the named model
func (r *Registry) Sync(ctx context.Context, name string) ([]any, error) {
	b, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	items, _, err := b.sync(ctx)
	return items, err
}

// Create decodes body into the named model and creates it
func (r *Registry) Create(ctx context.Context, name string, body []byte) (any, error) {
	b, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	return b.create(ctx, body)
}

// Update decodes body into the named model and updates record id
func (r *Registry) Update(ctx context.Context, name, id string, version int, body []byte) (any, error) {
	b, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	return b.update(ctx, id, version, body)
}

// Delete deletes record id of the named model
func (r *Registry) Delete(ctx context.Context, name, id string, version int) (any, error) {
	b, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	return b.delete(ctx, id, version)
}

// SyncAll syncs the named models concurrently. A failing model does not
// stop the others; its error is recorded in the result and the returned
// error joins all failures.
func (r *Registry) SyncAll(ctx context.Context, models []string) (*SyncResult, error) {
	if len(models) == 0 {
		models = r.Names()
	}

	result := &SyncResult{Models: make([]ModelSyncResult, len(models))}
	errs := make([]error, len(models))

	var g errgroup.Group
	g.SetLimit(maxConcurrentSyncs)

	for i, name := range models {
		g.Go(func() error {
			start := time.Now()
			summary := ModelSyncResult{Model: name}

			b, err := r.lookup(name)
			if err == nil {
				var items []any
				items, summary.Deleted, err = b.sync(ctx)
				summary.Items = len(items)
			}
			summary.Duration = time.Since(start)

			if err != nil {
				summary.Error = err.Error()
				errs[i] = fmt.Errorf("failed to sync %s: %w", name, err)
				r.logger.WithField("model", name).Errorf("Sync failed: %v", err)
			} else {
				r.logger.WithFields(logrus.Fields{
					"model":   name,
					"items":   summary.Items,
					"deleted": summary.Deleted,
				}).Info("Synced model")
			}
			result.Models[i] = summary
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range errs {
		if err != nil {
			result.Errors = append(result.Errors, err)
		}
	}
	return result, errors.Join(result.Errors...)
}
