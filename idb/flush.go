package idb

import "github.com/beyondbrewing/brewery-idb/host"

// FlushStrategy decides what happens right after a bridge settles a future
// from inside a host event.
type FlushStrategy interface {
	AfterSettle(loop *host.Loop)
	String() string
}

var (
	// Deferred leaves continuations to the host's own microtask
	// scheduling. Correct on hosts that drain microtasks before
	// transactions auto-commit.
	Deferred FlushStrategy = deferred{}

	// Eager runs queued continuations before the event handler returns, so
	// that follow-up requests are issued while the transaction is still
	// active on hosts that commit first.
	Eager FlushStrategy = eager{}
)

type deferred struct{}

func (deferred) AfterSettle(*host.Loop) {}
func (deferred) String() string         { return "deferred" }

type eager struct{}

func (eager) AfterSettle(l *host.Loop) { l.FlushMicrotasks() }
func (eager) String() string           { return "eager" }
