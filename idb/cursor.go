package idb

import (
	"bytes"
	"fmt"

	"github.com/beyondbrewing/brewery-idb/host"
)

type decisionKind uint8

const (
	decideContinue decisionKind = iota
	decideStop
	decideJump
)

// Decision tells [Env.Iterate] what to do after visiting a row.
type Decision struct {
	kind decisionKind
	key  []byte
}

var (
	// Continue advances to the next row. It is the zero Decision.
	Continue = Decision{}
	// Stop ends the traversal; Iterate resolves true.
	Stop = Decision{kind: decideStop}
)

// JumpTo advances straight to the first row at or beyond key in the cursor's
// direction, skipping the rows in between. key must lie beyond the current
// row.
func JumpTo(key []byte) Decision {
	return Decision{kind: decideJump, key: bytes.Clone(key)}
}

// IsStop reports whether d ends the traversal.
func (d Decision) IsStop() bool { return d.kind == decideStop }

// Target returns the JumpTo key, or nil.
func (d Decision) Target() []byte { return d.key }

func (d Decision) String() string {
	switch d.kind {
	case decideStop:
		return "stop"
	case decideJump:
		return fmt.Sprintf("jump(%x)", d.key)
	default:
		return "continue"
	}
}

// VisitFunc is called once per row. value is nil for key cursors.
type VisitFunc func(value, key []byte, cursor *host.Cursor) Decision

// Iterate drives the cursor opened by req until visit says Stop (resolving
// true) or the cursor runs out (resolving false). visit runs inside the host
// event, so the transaction is active while it does. A failed advancement
// fails the future with a *StorageError wrapping the cause.
func (e *Env) Iterate(req *host.Request, visit VisitFunc) *Future[bool] {
	f := newFuture[bool](e.loop)
	step := func() bool {
		if req.Err() != nil {
			return f.reject(iterationError(requestError(req)))
		}
		cursor, _ := req.Result().(*host.Cursor)
		if cursor == nil {
			return f.resolve(false)
		}

		var err error
		switch d := visit(cursor.Value(), cursor.Key(), cursor); d.kind {
		case decideStop:
			return f.resolve(true)
		case decideJump:
			err = cursor.ContinueTo(d.key)
		default:
			err = cursor.Continue()
		}
		if err != nil {
			return f.reject(iterationError(err))
		}
		return false
	}

	req.AddListener(host.EventSuccess, func(*host.Event) {
		if !f.settled && step() {
			e.afterSettle()
		}
	})
	req.AddListener(host.EventError, func(*host.Event) {
		if !f.settled && step() {
			e.afterSettle()
		}
	})
	if req.ReadyState() == host.Done && step() {
		e.afterSettle()
	}
	return f
}

func iterationError(err error) *StorageError {
	return &StorageError{Message: "iterateCursor failed", Err: err}
}
