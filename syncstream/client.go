// Package syncstream exposes sync, create, update and delete against a
// remote sync backend as async productions. Every call goes through the
// callback-based appsync client and every response through Unwrap.
package syncstream

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gobeyondidentity/go-model-sync/appsync"
	"github.com/gobeyondidentity/go-model-sync/async"
	"github.com/gobeyondidentity/go-model-sync/graphql"
	"github.com/gobeyondidentity/go-model-sync/model"
)

// Observer is notified once per finished remote call, before the result is
// handed to the consumer. items is the number of records returned.
type Observer interface {
	ObserveOperation(op Operation, modelName string, duration time.Duration, items int, err error)
}

// Client is the adapter. It holds no mutable state and can be shared.
type Client struct {
	api      appsync.AppSync
	logger   logrus.FieldLogger
	observer Observer
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the logger
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithObserver registers an observer for finished operations
func WithObserver(observer Observer) Option {
	return func(c *Client) { c.observer = observer }
}

// New binds a GraphQL behavior and derives the sync client from it. No
// request is made.
func New(behavior graphql.Behavior, opts ...Option) *Client {
	c := newClient(opts)
	c.api = appsync.Via(behavior, appsync.WithLogger(c.logger))
	return c
}

// NewWithAppSync binds an already derived sync client
func NewWithAppSync(api appsync.AppSync, opts ...Option) *Client {
	c := newClient(opts)
	c.api = api
	return c
}

func newClient(opts []Option) *Client {
	c := &Client{}
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

// Sync streams every record of model T from a base sync. The request is
// sent on the first pull and only the first page is read.
func Sync[T model.Model](ctx context.Context, c *Client) *async.Stream[model.ModelWithMetadata[T]] {
	schema := model.SchemaOf[T]()

	return async.NewStream(func(e async.Emitter[model.ModelWithMetadata[T]]) {
		start := time.Now()

		req, err := c.api.BuildSyncRequest(schema, time.Time{}, 0, model.MatchAll())
		if err != nil {
			c.finish(OpSync, schema, start, 0, err)
			e.OnError(err)
			return
		}

		c.api.Sync(ctx, req,
			func(raw *graphql.RawResponse) {
				page, err := unwrapAs[model.PaginatedResult[model.ModelWithMetadata[T]]](OpSync, schema, raw)
				if err != nil {
					c.finish(OpSync, schema, start, 0, err)
					e.OnError(err)
					return
				}
				if page.HasNextResult() {
					c.logger.WithField("model", schema.Name).Debug("Sync page has more results; only the first page is read")
				}

				c.finish(OpSync, schema, start, len(page.Items), nil)
				for _, item := range page.Items {
					e.OnNext(item)
				}
				e.OnComplete()
			},
			func(err error) {
				c.finish(OpSync, schema, start, 0, err)
				e.OnError(err)
			},
		)
	})
}

// Create stores item and resolves to the record as the backend saved it
func Create[T model.Model](ctx context.Context, c *Client, item T) *async.Future[model.ModelWithMetadata[T]] {
	schema := model.SchemaOf[T]()
	return mutation[T](c, OpCreate, schema, func(onResponse graphql.ResponseConsumer, onFailure graphql.FailureConsumer) {
		c.api.Create(ctx, item, schema, onResponse, onFailure)
	})
}

// Update replaces item if the backend still holds version
func Update[T model.Model](ctx context.Context, c *Client, item T, version int) *async.Future[model.ModelWithMetadata[T]] {
	schema := model.SchemaOf[T]()
	return mutation[T](c, OpUpdate, schema, func(onResponse graphql.ResponseConsumer, onFailure graphql.FailureConsumer) {
		c.api.Update(ctx, item, schema, version, onResponse, onFailure)
	})
}

// Delete removes the record of model T with itemID if the backend still
// holds version. The result usually carries the deleted flag.
func Delete[T model.Model](ctx context.Context, c *Client, itemID string, version int) *async.Future[model.ModelWithMetadata[T]] {
	schema := model.SchemaOf[T]()
	return mutation[T](c, OpDelete, schema, func(onResponse graphql.ResponseConsumer, onFailure graphql.FailureConsumer) {
		c.api.Delete(ctx, schema, itemID, version, onResponse, onFailure)
	})
}

func mutation[T model.Model](c *Client, op Operation, schema *model.ModelSchema, call func(graphql.ResponseConsumer, graphql.FailureConsumer)) *async.Future[model.ModelWithMetadata[T]] {
	return async.NewFuture(func(e async.SingleEmitter[model.ModelWithMetadata[T]]) {
		start := time.Now()
		call(
			func(raw *graphql.RawResponse) {
				record, err := unwrapAs[model.ModelWithMetadata[T]](op, schema, raw)
				if err != nil {
					c.finish(op, schema, start, 0, err)
					e.OnError(err)
					return
				}
				c.finish(op, schema, start, 1, nil)
				e.OnSuccess(record)
			},
			func(err error) {
				c.finish(op, schema, start, 0, err)
				e.OnError(err)
			},
		)
	})
}

func (c *Client) finish(op Operation, schema *model.ModelSchema, start time.Time, items int, err error) {
	duration := time.Since(start)
	entry := c.logger.WithFields(logrus.Fields{
		"operation": op,
		"model":     schema.Name,
		"duration":  duration,
	})
	if err != nil {
		entry.WithError(err).Debug("Remote operation failed")
	} else {
		entry.WithField("items", items).Debug("Remote operation completed")
	}

	if c.observer != nil {
		c.observer.ObserveOperation(op, schema.Name, duration, items, err)
	}
}
