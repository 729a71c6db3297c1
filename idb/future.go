package idb

import (
	"context"

	"github.com/beyondbrewing/brewery-idb/host"
)

// Future is a value that settles exactly once, either with a result or with
// an error. Futures belong to the loop of the Env that created them.
type Future[T any] struct {
	loop    *host.Loop
	done    chan struct{}
	settled bool
	val     T
	err     error

	// callbacks run on the loop at settlement, in registration order.
	callbacks []func()
}

func newFuture[T any](loop *host.Loop) *Future[T] {
	return &Future[T]{loop: loop, done: make(chan struct{})}
}

func failed[T any](loop *host.Loop, err error) *Future[T] {
	f := newFuture[T](loop)
	f.reject(err)
	return f
}

func (f *Future[T]) settle(v T, err error) bool {
	if f.settled {
		return false
	}
	f.val, f.err = v, err
	f.settled = true
	close(f.done)
	for _, fn := range f.callbacks {
		fn()
	}
	f.callbacks = nil
	return true
}

func (f *Future[T]) resolve(v T) bool { return f.settle(v, nil) }

func (f *Future[T]) reject(err error) bool {
	var zero T
	return f.settle(zero, err)
}

// whenSettled runs fn at settlement, or right away if already settled.
func (f *Future[T]) whenSettled(fn func()) {
	if f.settled {
		fn()
		return
	}
	f.callbacks = append(f.callbacks, fn)
}

// Done is closed once the future has settled.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Await returns the settled result. On a coroutine of the future's loop it
// suspends the coroutine, leaving the loop free to deliver the settlement.
// Anywhere else it blocks, so it must not be called from a host listener.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	if host.LoopFrom(ctx) == f.loop && f.loop != nil {
		if !f.settled {
			if err := host.Suspend(ctx, f.whenSettled); err != nil {
				var zero T
				return zero, err
			}
		}
		return f.val, f.err
	}

	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// then derives a future that settles with fn's result once src settles.
func then[T, U any](src *Future[T], fn func(T, error) (U, error)) *Future[U] {
	dst := newFuture[U](src.loop)
	src.whenSettled(func() {
		dst.settle(fn(src.val, src.err))
	})
	return dst
}
