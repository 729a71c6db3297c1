package host

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/beyondbrewing/brewery-idb/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoop(t *testing.T, opts ...LoopOption) *Loop {
	t.Helper()
	l := NewLoop(append(opts, WithLoopLogger(logger.NewNop()))...)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func turnOrder(t *testing.T, l *Loop) []string {
	t.Helper()
	events := make(chan string, 3)
	require.NoError(t, l.Post(func() {
		l.Microtask(func() { events <- "microtask" })
		l.AtTurnEnd(func() { events <- "turn end" })
		events <- "task"
	}))

	var got []string
	for range 3 {
		select {
		case e := <-events:
			got = append(got, e)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for loop events")
		}
	}
	return got
}

func TestLoopTurnOrder(t *testing.T) {
	tests := []struct {
		name string
		opts []LoopOption
		want []string
	}{
		{name: "modern", want: []string{"task", "microtask", "turn end"}},
		{name: "late", opts: []LoopOption{WithLateMicrotasks()}, want: []string{"task", "turn end", "microtask"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l := newTestLoop(t, tc.opts...)
			assert.Equal(t, tc.want, turnOrder(t, l))
		})
	}
}

func TestFlushMicrotasksRunsQueuedWork(t *testing.T) {
	l := newTestLoop(t, WithLateMicrotasks())

	var got []string
	require.NoError(t, l.Call(context.Background(), func() {
		l.Microtask(func() {
			got = append(got, "first")
			l.Microtask(func() { got = append(got, "nested") })
		})
		l.FlushMicrotasks()
		got = append(got, "after flush")
	}))
	assert.Equal(t, []string{"first", "nested", "after flush"}, got)
}

func TestLoopSurvivesPanics(t *testing.T) {
	l := newTestLoop(t)

	require.NoError(t, l.Post(func() { panic("boom") }))

	ran := false
	require.NoError(t, l.Call(context.Background(), func() { ran = true }))
	assert.True(t, ran)
}

func TestPostAfterClose(t *testing.T) {
	l := NewLoop(WithLoopLogger(logger.NewNop()))
	require.NoError(t, l.Close())

	assert.ErrorIs(t, l.Post(func() {}), ErrLoopClosed)
	assert.ErrorIs(t, l.Close(), ErrLoopClosed)
	assert.ErrorIs(t, l.Exec(context.Background(), func(context.Context) error { return nil }), ErrLoopClosed)
}

func TestExecReturnsCoroutineError(t *testing.T) {
	l := newTestLoop(t)
	want := errors.New("failed")

	err := l.Exec(context.Background(), func(ctx context.Context) error {
		assert.Same(t, l, LoopFrom(ctx))
		return want
	})
	assert.ErrorIs(t, err, want)
}

func TestExecRecoversPanic(t *testing.T) {
	l := newTestLoop(t)

	err := l.Exec(context.Background(), func(context.Context) error { panic("bad") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "coroutine panicked")
}

func TestSleepAndNestedWait(t *testing.T) {
	l := newTestLoop(t)

	var order []string
	err := l.Exec(context.Background(), func(ctx context.Context) error {
		child := l.Go(ctx, func(ctx context.Context) error {
			if err := Sleep(ctx, 10*time.Millisecond); err != nil {
				return err
			}
			order = append(order, "child")
			return nil
		})
		order = append(order, "parent")
		if err := child.Wait(ctx); err != nil {
			return err
		}
		order = append(order, "joined")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"parent", "child", "joined"}, order)
}

func TestSuspendCancellation(t *testing.T) {
	l := newTestLoop(t)
	ctx, cancel := context.WithCancel(context.Background())

	task := l.Go(ctx, func(ctx context.Context) error {
		return Suspend(ctx, func(func()) {
			go cancel()
		})
	})
	assert.ErrorIs(t, task.Wait(context.Background()), context.Canceled)
}

func TestSuspendOffLoop(t *testing.T) {
	assert.ErrorIs(t, Suspend(context.Background(), func(func()) {}), ErrNotOnLoop)
	assert.ErrorIs(t, Sleep(context.Background(), time.Millisecond), ErrNotOnLoop)
}
