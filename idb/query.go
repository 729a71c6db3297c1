package idb

import (
	"fmt"

	"github.com/beyondbrewing/brewery-idb/host"
)

// CursorFactory opens the cursor a query walks.
type CursorFactory func(store *host.ObjectStore) (*host.Request, error)

// FullScan walks the whole store in ascending key order.
func FullScan(store *host.ObjectStore) (*host.Request, error) {
	return store.OpenCursor(nil, host.Next)
}

type queryConfig struct {
	cursor CursorFactory
	mode   host.Mode
	txn    *host.Transaction
}

// QueryOption configures SelectRange and FindFirst.
type QueryOption func(*queryConfig)

// WithCursor replaces the default full forward scan.
func WithCursor(f CursorFactory) QueryOption {
	return func(c *queryConfig) { c.cursor = f }
}

// WithMode sets the mode of the transaction the query opens.
func WithMode(m host.Mode) QueryOption {
	return func(c *queryConfig) { c.mode = m }
}

// WithTransaction runs the query inside txn instead of opening a new
// transaction, so the caller can keep using txn afterwards. The mode option
// is ignored.
func WithTransaction(txn *host.Transaction) QueryOption {
	return func(c *queryConfig) { c.txn = txn }
}

func newQueryConfig(mode host.Mode, opts []QueryOption) queryConfig {
	c := queryConfig{cursor: FullScan, mode: mode}
	for _, o := range opts {
		o(&c)
	}
	if c.cursor == nil {
		c.cursor = FullScan
	}
	return c
}

func (c queryConfig) open(d *host.Database, storeName string) (*host.Request, error) {
	txn := c.txn
	if txn == nil {
		var err error
		txn, err = d.Transaction([]string{storeName}, c.mode)
		if err != nil {
			return nil, &OperationError{Database: d.Name(), Store: storeName, Op: "transaction", Err: err}
		}
	}
	store, err := txn.ObjectStore(storeName)
	if err != nil {
		return nil, &OperationError{Database: d.Name(), Store: storeName, Op: "objectStore", Err: err}
	}
	req, err := c.cursor(store)
	if err != nil {
		return nil, &OperationError{Database: d.Name(), Store: storeName, Op: "openCursor", Err: err}
	}
	return req, nil
}

// CollectUntil decodes each visited value and appends it, in traversal
// order, until isDone reports true for the values so far or the cursor runs
// out. A nil isDone collects everything. The result may be empty.
func CollectUntil[T any](e *Env, req *host.Request, codec Codec[T], isDone func([]T) bool) *Future[[]T] {
	results := []T{}
	var decodeErr error
	walk := e.Iterate(req, func(value, key []byte, _ *host.Cursor) Decision {
		v, err := codec.Decode(value)
		if err != nil {
			decodeErr = fmt.Errorf("decode value at %x: %w", key, err)
			return Stop
		}
		results = append(results, v)
		if isDone != nil && isDone(results) {
			return Stop
		}
		return Continue
	})
	return then(walk, func(_ bool, err error) ([]T, error) {
		switch {
		case err != nil:
			return nil, err
		case decodeErr != nil:
			return nil, &StorageError{Message: "collectUntil failed", Err: decodeErr}
		}
		return results, nil
	})
}

// SelectRange collects values from storeName as CollectUntil does, in a
// read-only transaction of its own unless options say otherwise.
func SelectRange[T any](e *Env, d *host.Database, storeName string, codec Codec[T], isDone func([]T) bool, opts ...QueryOption) *Future[[]T] {
	req, err := newQueryConfig(host.ReadOnly, opts).open(d, storeName)
	if err != nil {
		return failed[[]T](e.loop, err)
	}
	return CollectUntil(e, req, codec, isDone)
}

// FindFirst returns the first value in storeName for which matches reports
// true (any value when matches is nil), and visits no row after it. It
// fails with a *StorageError wrapping ErrNotFound when nothing matches. The
// transaction it opens is read-write by default, so a caller passing
// WithTransaction can write in the same transaction after the lookup.
func FindFirst[T any](e *Env, d *host.Database, storeName string, codec Codec[T], matches func(T) bool, opts ...QueryOption) *Future[T] {
	req, err := newQueryConfig(host.ReadWrite, opts).open(d, storeName)
	if err != nil {
		return failed[T](e.loop, err)
	}

	var match T
	var decodeErr error
	walk := e.Iterate(req, func(value, key []byte, _ *host.Cursor) Decision {
		v, err := codec.Decode(value)
		if err != nil {
			decodeErr = fmt.Errorf("decode value at %x: %w", key, err)
			return Stop
		}
		if matches == nil || matches(v) {
			match = v
			return Stop
		}
		return Continue
	})
	return then(walk, func(found bool, err error) (T, error) {
		var zero T
		switch {
		case err != nil:
			return zero, err
		case decodeErr != nil:
			return zero, &StorageError{Message: "findFirst failed", Err: decodeErr}
		case !found:
			return zero, &StorageError{Message: "Value not found", Err: ErrNotFound}
		}
		return match, nil
	})
}
