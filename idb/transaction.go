package idb

import (
	"fmt"
	"strings"

	"github.com/beyondbrewing/brewery-idb/host"
)

// Transaction bridges a transaction's lifetime to a future. It resolves when
// the transaction completes. On abort it fails with the *OperationError of
// the first request that failed inside the transaction, or, when nothing
// failed (an explicit abort, a commit failure), with a *StorageError naming
// the database and the stores in scope.
//
// Call it before the transaction finishes, typically right after creating
// it.
func (e *Env) Transaction(txn *host.Transaction) *Future[struct{}] {
	f := newFuture[struct{}](e.loop)
	var captured error

	txn.AddListener(host.EventError, func(ev *host.Event) {
		if captured == nil && ev.Request != nil {
			captured = requestError(ev.Request)
		}
	})
	txn.AddListener(host.EventComplete, func(*host.Event) {
		if f.resolve(struct{}{}) {
			e.afterSettle()
		}
	})
	txn.AddListener(host.EventAbort, func(*host.Event) {
		err := captured
		if err == nil {
			err = &StorageError{
				Message: fmt.Sprintf("Transaction on %s with stores %s was aborted.",
					txn.Database().Name(), strings.Join(txn.ObjectStoreNames(), ", ")),
				Err: txn.Err(),
			}
		}
		if f.reject(err) {
			e.afterSettle()
		}
		e.log.Debug("transaction aborted", "txn", txn.ID().String(), "error", err)
	})
	return f
}
