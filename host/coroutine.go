package host

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// A coroutine is a goroutine that runs only while it holds the loop: the
// loop blocks while the coroutine runs and the coroutine blocks while the
// loop runs. The baton is passed over resume/yield, which also orders memory
// between the two sides.
type coroutine struct {
	loop   *Loop
	resume chan struct{}
	yield  chan struct{}
}

type coroutineKey struct{}

func coroutineFrom(ctx context.Context) *coroutine {
	co, _ := ctx.Value(coroutineKey{}).(*coroutine)
	return co
}

// LoopFrom returns the loop a coroutine context belongs to, or nil.
func LoopFrom(ctx context.Context) *Loop {
	if co := coroutineFrom(ctx); co != nil {
		return co.loop
	}
	return nil
}

// handoff gives the baton to the coroutine and waits until it yields.
// Runs on the loop.
func (co *coroutine) handoff() {
	co.resume <- struct{}{}
	<-co.yield
}

// errCoroutineExited is the result of a coroutine whose goroutine exited
// without returning, as runtime.Goexit does.
var errCoroutineExited = errors.New("host: coroutine exited without returning")

// Task is a coroutine started by [Loop.Go].
type Task struct {
	loop    *Loop
	done    chan struct{}
	err     error
	waiters []func()
}

// Go starts fn as a coroutine on the loop. fn must block only through
// [Suspend] (directly or via futures and [Sleep]); blocking any other way
// stalls the whole loop.
func (l *Loop) Go(ctx context.Context, fn func(ctx context.Context) error) *Task {
	t := &Task{loop: l, done: make(chan struct{})}
	co := &coroutine{
		loop:   l,
		resume: make(chan struct{}),
		yield:  make(chan struct{}),
	}
	cctx := context.WithValue(ctx, coroutineKey{}, co)

	err := l.Post(func() {
		go func() {
			defer func() {
				close(t.done)
				for _, wake := range t.waiters {
					wake()
				}
				co.yield <- struct{}{}
			}()
			t.err = errCoroutineExited
			t.err = call(cctx, fn)
		}()
		<-co.yield
	})
	if err != nil {
		t.err = err
		close(t.done)
	}
	return t
}

func call(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("host: coroutine panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// Wait blocks until the task finishes and returns its error. Inside another
// coroutine of the same loop it suspends instead of blocking the loop.
func (t *Task) Wait(ctx context.Context) error {
	if co := coroutineFrom(ctx); co != nil && co.loop == t.loop {
		select {
		case <-t.done:
			return t.err
		default:
		}
		if err := Suspend(ctx, func(wake func()) {
			t.waiters = append(t.waiters, wake)
		}); err != nil {
			return err
		}
		return t.err
	}

	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Exec runs fn as a coroutine and waits for it. It is meant for callers
// outside the loop.
func (l *Loop) Exec(ctx context.Context, fn func(ctx context.Context) error) error {
	return l.Go(ctx, fn).Wait(ctx)
}

// Call runs fn as a plain task and waits for it to return.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if err := l.Post(func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Suspend parks the calling coroutine. arm runs immediately, while the
// coroutine still holds the loop, and receives a wake function; calling wake
// on the loop schedules the coroutine to resume as a microtask. Cancelling
// ctx resumes the coroutine in a new task with ctx.Err().
func Suspend(ctx context.Context, arm func(wake func())) error {
	co := coroutineFrom(ctx)
	if co == nil {
		return ErrNotOnLoop
	}
	l := co.loop

	var woken, cancelled bool
	wake := func() {
		if woken {
			return
		}
		woken = true
		l.Microtask(co.handoff)
	}
	arm(wake)

	stop := make(chan struct{})
	defer close(stop)
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				l.post(func() {
					if woken {
						return
					}
					woken, cancelled = true, true
					co.handoff()
				})
			case <-stop:
			}
		}()
	}

	co.yield <- struct{}{}
	<-co.resume

	if cancelled {
		return ctx.Err()
	}
	return nil
}

// Sleep suspends the calling coroutine for d.
func Sleep(ctx context.Context, d time.Duration) error {
	co := coroutineFrom(ctx)
	if co == nil {
		return ErrNotOnLoop
	}
	var timer *time.Timer
	err := Suspend(ctx, func(wake func()) {
		timer = time.AfterFunc(d, func() { co.loop.post(wake) })
	})
	timer.Stop()
	return err
}
