package hubmux

import (
	"context"
	"sync"
)

// Completable is the type-erased face every outstanding request/response
// call presents to the registry and the reader loop. The concrete Waiter[T]
// embeds the decoder closure; nothing above this interface ever sees T.
type Completable interface {
	// Resolve decodes payload per the method's return type and completes
	// the waiter with the value. A decode failure always completes the
	// waiter terminally (it is returned, never re-raised to the reader
	// loop).
	Resolve(payload []byte) error
	// Fail completes the waiter with a non-cancellation error (a transport
	// write failure or a server-error frame).
	Fail(err error)
	// Cancel completes the waiter because the channel is tearing down.
	Cancel(reason DisconnectReason)
}

type waiterResult[T any] struct {
	value T
	err   error
}

// Waiter is a one-shot completion handle typed at the call site. Multiple
// terminal transitions are idempotent; only the first takes effect.
type Waiter[T any] struct {
	ch     chan waiterResult[T]
	once   sync.Once
	decode func([]byte) (T, error)
}

// NewWaiter builds a Waiter[T] around the decoder a generated or
// hand-written dispatcher uses to turn response payload bytes into T.
func NewWaiter[T any](decode func([]byte) (T, error)) *Waiter[T] {
	return &Waiter[T]{
		ch:     make(chan waiterResult[T], 1),
		decode: decode,
	}
}

// Resolve implements Completable.
func (w *Waiter[T]) Resolve(payload []byte) error {
	var (
		value T
		err   error
	)
	if w.decode != nil {
		value, err = w.decode(payload)
	}
	w.complete(waiterResult[T]{value: value, err: err})
	return err
}

// Fail implements Completable.
func (w *Waiter[T]) Fail(err error) {
	w.complete(waiterResult[T]{err: err})
}

// Cancel implements Completable.
func (w *Waiter[T]) Cancel(reason DisconnectReason) {
	w.complete(waiterResult[T]{err: &CancelledError{Reason: reason}})
}

func (w *Waiter[T]) complete(r waiterResult[T]) {
	w.once.Do(func() {
		w.ch <- r
		close(w.ch)
	})
}

// Wait blocks until the waiter reaches a terminal state or ctx is done.
// Cancelling ctx does not remove the waiter from the registry — the server
// may still reply — it only stops this particular caller from waiting on it.
func (w *Waiter[T]) Wait(ctx context.Context) (T, error) {
	select {
	case r := <-w.ch:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
