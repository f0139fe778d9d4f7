// Package async turns callback-style results into values a caller can wait
// on: a Future for a single result and a Stream for a finite sequence.
package async

import (
	"context"
	"sync"
)

// SingleEmitter resolves a Future. Only the first call has any effect.
type SingleEmitter[T any] interface {
	OnSuccess(value T)
	OnError(err error)
}

// Future is a single value produced asynchronously.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// NewFuture creates a Future and runs subscribe right away. subscribe
// usually starts a remote call and hands the emitter to its callbacks.
func NewFuture[T any](subscribe func(SingleEmitter[T])) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	subscribe(futureEmitter[T]{f})
	return f
}

// Resolved returns a Future that already holds value.
func Resolved[T any](value T) *Future[T] {
	return NewFuture(func(e SingleEmitter[T]) { e.OnSuccess(value) })
}

// Rejected returns a Future that already failed with err.
func Rejected[T any](err error) *Future[T] {
	return NewFuture(func(e SingleEmitter[T]) { e.OnError(err) })
}

type futureEmitter[T any] struct {
	f *Future[T]
}

func (e futureEmitter[T]) OnSuccess(value T) {
	e.f.once.Do(func() {
		e.f.value = value
		close(e.f.done)
	})
}

func (e futureEmitter[T]) OnError(err error) {
	e.f.once.Do(func() {
		e.f.err = err
		close(e.f.done)
	})
}

// Done is closed once the Future is resolved or rejected.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the Future settles or ctx ends. Giving up on ctx does
// not cancel the work behind the Future.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Then maps the value of f once it resolves. Errors from f or from fn
// reject the returned Future.
func Then[T, R any](f *Future[T], fn func(T) (R, error)) *Future[R] {
	return NewFuture(func(e SingleEmitter[R]) {
		go func() {
			<-f.done
			if f.err != nil {
				e.OnError(f.err)
				return
			}
			r, err := fn(f.value)
			if err != nil {
				e.OnError(err)
				return
			}
			e.OnSuccess(r)
		}()
	})
}
