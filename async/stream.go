package async

import (
	"context"
	"errors"
	"iter"
	"sync"
)

// ErrClosed is reported by a Stream the consumer closed before it ended.
var ErrClosed = errors.New("async: stream closed")

// Emitter feeds a Stream. Calls after OnError or OnComplete are dropped.
// None of the methods block.
type Emitter[T any] interface {
	OnNext(value T)
	OnError(err error)
	OnComplete()
}

// Stream is a finite sequence of values produced asynchronously. The
// producer starts on the first pull and runs at most once; a Stream cannot
// be restarted.
type Stream[T any] struct {
	subscribe func(Emitter[T])
	start     sync.Once

	mu         sync.Mutex
	queue      []T
	terminated bool
	err        error
	notify     chan struct{}
}

// NewStream creates a lazy Stream. subscribe is called on the first Next.
func NewStream[T any](subscribe func(Emitter[T])) *Stream[T] {
	return &Stream[T]{
		subscribe: subscribe,
		notify:    make(chan struct{}, 1),
	}
}

// FromSlice returns a Stream emitting items in order.
func FromSlice[T any](items []T) *Stream[T] {
	return NewStream(func(e Emitter[T]) {
		for _, item := range items {
			e.OnNext(item)
		}
		e.OnComplete()
	})
}

// Fail returns a Stream that ends with err before emitting anything.
func Fail[T any](err error) *Stream[T] {
	return NewStream(func(e Emitter[T]) { e.OnError(err) })
}

// Next returns the next value. It returns (zero, false, nil) once the
// stream completed and (zero, false, err) once it failed; both are repeated
// on every later call. Values emitted before a failure are returned first.
func (s *Stream[T]) Next(ctx context.Context) (T, bool, error) {
	s.start.Do(func() { s.subscribe(streamEmitter[T]{s}) })

	var zero T
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			v := s.queue[0]
			s.queue[0] = zero
			s.queue = s.queue[1:]
			more := len(s.queue) > 0 || s.terminated
			s.mu.Unlock()
			if more {
				// pass the wakeup on to other waiting consumers
				s.signal()
			}
			return v, true, nil
		}
		if s.terminated {
			err := s.err
			s.mu.Unlock()
			s.signal()
			return zero, false, err
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-ctx.Done():
			return zero, false, ctx.Err()
		}
	}
}

// All ranges over the remaining values. A failure is yielded once as the
// final pair.
func (s *Stream[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			v, ok, err := s.Next(ctx)
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			if !ok || !yield(v, nil) {
				return
			}
		}
	}
}

// Collect drains the stream. On failure it returns the values received so
// far together with the error.
func (s *Stream[T]) Collect(ctx context.Context) ([]T, error) {
	var items []T
	for v, err := range s.All(ctx) {
		if err != nil {
			return items, err
		}
		items = append(items, v)
	}
	return items, nil
}

// Close stops consuming. Buffered values are dropped and later emissions
// ignored; the producer itself is not interrupted.
func (s *Stream[T]) Close() {
	s.start.Do(func() {})

	s.mu.Lock()
	if !s.terminated {
		s.terminated = true
		s.err = ErrClosed
	}
	s.queue = nil
	s.mu.Unlock()
	s.signal()
}

func (s *Stream[T]) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

type streamEmitter[T any] struct {
	s *Stream[T]
}

func (e streamEmitter[T]) OnNext(value T) {
	e.s.mu.Lock()
	if e.s.terminated {
		e.s.mu.Unlock()
		return
	}
	e.s.queue = append(e.s.queue, value)
	e.s.mu.Unlock()
	e.s.signal()
}

func (e streamEmitter[T]) OnError(err error) {
	e.terminate(err)
}

func (e streamEmitter[T]) OnComplete() {
	e.terminate(nil)
}

func (e streamEmitter[T]) terminate(err error) {
	e.s.mu.Lock()
	if e.s.terminated {
		e.s.mu.Unlock()
		return
	}
	e.s.terminated = true
	e.s.err = err
	e.s.mu.Unlock()
	e.s.signal()
}
