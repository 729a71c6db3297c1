// Package idb turns the event-driven host store API into futures that can be
// awaited from loop coroutines, and builds cursor traversal and common
// queries on top of them.
//
// All functions in this package must be called while holding the host loop,
// typically from a coroutine started with [host.Loop.Go] or [host.Loop.Exec].
package idb

import (
	"context"

	"github.com/beyondbrewing/brewery-idb/host"
	"github.com/beyondbrewing/brewery-idb/pkg/logger"
)

// Env binds the bridges to one host factory and carries the flush strategy
// every bridge created from it shares.
type Env struct {
	factory *host.Factory
	loop    *host.Loop
	log     logger.Logger
	flush   FlushStrategy
}

// Option configures an Env.
type Option func(*Env)

// WithFlushStrategy fixes the flush strategy instead of leaving it to
// [Env.DetectLegacyFlush]. Defaults to Deferred.
func WithFlushStrategy(s FlushStrategy) Option {
	return func(e *Env) { e.flush = s }
}

// WithLogger sets the Env's logger. Defaults to logger.Default().
func WithLogger(log logger.Logger) Option {
	return func(e *Env) { e.log = log }
}

// New returns an Env over factory.
func New(factory *host.Factory, opts ...Option) *Env {
	e := &Env{
		factory: factory,
		loop:    factory.Loop(),
		flush:   Deferred,
	}
	for _, o := range opts {
		o(e)
	}
	if e.log == nil {
		e.log = logger.Default()
	}
	if e.flush == nil {
		e.flush = Deferred
	}
	e.log = e.log.With("component", "idb")
	return e
}

// Loop returns the host loop the Env's futures belong to.
func (e *Env) Loop() *host.Loop { return e.loop }

// Factory returns the host factory.
func (e *Env) Factory() *host.Factory { return e.factory }

// FlushStrategy returns the strategy currently in effect.
func (e *Env) FlushStrategy() FlushStrategy { return e.flush }

func (e *Env) afterSettle() {
	e.flush.AfterSettle(e.loop)
}

// Run runs fn holding the loop: directly when ctx already belongs to a
// coroutine of the Env's loop, otherwise as a new coroutine it waits for.
func (e *Env) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if host.LoopFrom(ctx) == e.loop {
		return fn(ctx)
	}
	return e.loop.Exec(ctx, fn)
}
