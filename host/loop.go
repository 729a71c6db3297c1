package host

import (
	"fmt"
	"sync"

	"github.com/beyondbrewing/brewery-idb/pkg/logger"
)

// Loop is a single-goroutine event loop. Work runs in turns: one task, then
// the microtask queue, then the end-of-turn hooks (where transactions
// auto-commit). All host objects belong to one Loop and may only be touched
// from a task, a microtask, or a coroutine holding the loop (see [Loop.Go]).
//
// With [WithLateMicrotasks] the loop models legacy hosts: microtasks queued
// during a turn run only after that turn's end-of-turn hooks, as a separate
// turn. [Loop.FlushMicrotasks] drains them immediately on either kind of host.
type Loop struct {
	log  logger.Logger
	late bool

	mu     sync.Mutex
	tasks  []func()
	closed bool
	signal chan struct{}
	done   chan struct{}

	// Owned by whoever currently holds the loop.
	micro    []func()
	turnEnd  []func()
	inTurn   bool
	deferred bool
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithLateMicrotasks makes microtasks run after end-of-turn hooks instead of
// before them.
func WithLateMicrotasks() LoopOption {
	return func(l *Loop) { l.late = true }
}

// WithLoopLogger sets the loop's logger. Defaults to logger.Default().
func WithLoopLogger(log logger.Logger) LoopOption {
	return func(l *Loop) { l.log = log }
}

// NewLoop starts a loop goroutine. Call Close to stop it.
func NewLoop(opts ...LoopOption) *Loop {
	l := &Loop{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	if l.log == nil {
		l.log = logger.Default()
	}
	l.log = l.log.With("component", "host", "late_microtasks", l.late)

	go l.run()
	return l
}

// Late reports whether the loop runs microtasks after end-of-turn hooks.
func (l *Loop) Late() bool { return l.late }

// Post queues fn as a new task. Safe to call from any goroutine.
func (l *Loop) Post(fn func()) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLoopClosed
	}
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()

	select {
	case l.signal <- struct{}{}:
	default:
	}
	return nil
}

// post is Post for host internals, which cannot do anything useful with a
// closed loop.
func (l *Loop) post(fn func()) {
	if err := l.Post(fn); err != nil {
		l.log.Debug("task dropped", "error", err)
	}
}

// Microtask queues fn to run before the current turn ends (or, on a late
// loop, right after it). Must be called while holding the loop.
func (l *Loop) Microtask(fn func()) {
	l.micro = append(l.micro, fn)
	if !l.inTurn && !l.deferred {
		// Queued outside any turn (e.g. from a coroutine started by a
		// timer): make sure something drains it.
		l.deferred = true
		l.post(func() {})
	}
}

// AtTurnEnd registers a one-shot hook that runs when the current turn ends.
// Must be called while holding the loop.
func (l *Loop) AtTurnEnd(fn func()) {
	l.turnEnd = append(l.turnEnd, fn)
}

// FlushMicrotasks runs every queued microtask now, including ones queued
// while flushing. Must be called while holding the loop. Reentrant.
func (l *Loop) FlushMicrotasks() {
	for len(l.micro) > 0 {
		fn := l.micro[0]
		l.micro = l.micro[1:]
		l.safely("microtask", fn)
	}
}

// Close stops accepting tasks, lets already queued tasks run, and waits for
// the loop goroutine to exit. Coroutines still parked on work that never
// arrives are abandoned. Must not be called while holding the loop.
func (l *Loop) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLoopClosed
	}
	l.closed = true
	l.mu.Unlock()

	select {
	case l.signal <- struct{}{}:
	default:
	}
	<-l.done
	return nil
}

func (l *Loop) next() (func(), bool) {
	for {
		l.mu.Lock()
		if len(l.tasks) > 0 {
			fn := l.tasks[0]
			l.tasks = l.tasks[1:]
			l.mu.Unlock()
			return fn, true
		}
		closed := l.closed
		l.mu.Unlock()
		if closed {
			return nil, false
		}
		<-l.signal
	}
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		fn, ok := l.next()
		if !ok {
			return
		}
		l.turn(fn)
	}
}

func (l *Loop) turn(fn func()) {
	l.inTurn = true
	l.deferred = false
	l.safely("task", fn)
	if !l.late {
		l.FlushMicrotasks()
	}
	for len(l.turnEnd) > 0 {
		hook := l.turnEnd[0]
		l.turnEnd = l.turnEnd[1:]
		l.safely("turn end hook", hook)
	}
	l.inTurn = false

	if l.late && len(l.micro) > 0 {
		l.deferred = true
		l.post(func() { l.FlushMicrotasks() })
	}
}

func (l *Loop) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("panic in "+what, "panic", fmt.Sprint(r))
		}
	}()
	fn()
}
