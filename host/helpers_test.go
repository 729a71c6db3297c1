package host

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/beyondbrewing/brewery-idb/db"
	"github.com/beyondbrewing/brewery-idb/pkg/logger"
	"github.com/stretchr/testify/require"
)

func newTestFactory(t *testing.T, opts ...LoopOption) *Factory {
	t.Helper()
	loop := NewLoop(append(opts, WithLoopLogger(logger.NewNop()))...)
	t.Cleanup(func() { _ = loop.Close() })
	return NewFactory(loop, db.NewMemStore(), WithLogger(logger.NewNop()))
}

// run executes fn as a coroutine on the factory's loop.
func run(t *testing.T, f *Factory, fn func(ctx context.Context) error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.loop.Exec(ctx, fn))
}

// await suspends until req settles and returns its outcome.
func await(ctx context.Context, req *Request) (any, error) {
	err := Suspend(ctx, func(wake func()) {
		req.AddListener(EventSuccess, func(*Event) { wake() })
		req.AddListener(EventError, func(*Event) { wake() })
	})
	if err != nil {
		return nil, err
	}
	return req.Result(), req.Err()
}

// awaitTxn suspends until txn completes or aborts and reports which.
func awaitTxn(ctx context.Context, txn *Transaction) (aborted bool, err error) {
	err = Suspend(ctx, func(wake func()) {
		txn.AddListener(EventComplete, func(*Event) { wake() })
		txn.AddListener(EventAbort, func(*Event) {
			aborted = true
			wake()
		})
	})
	return aborted, err
}

func openDB(ctx context.Context, f *Factory, name string, version uint64, upgrade func(d *Database, txn *Transaction)) (*Database, error) {
	req, err := f.Open(name, version)
	if err != nil {
		return nil, err
	}
	if upgrade != nil {
		req.AddListener(EventUpgradeNeeded, func(ev *Event) {
			upgrade(req.Result().(*Database), ev.Transaction)
		})
	}
	res, err := await(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.(*Database), nil
}

func createStores(names ...string) func(d *Database, _ *Transaction) {
	return func(d *Database, _ *Transaction) {
		for _, n := range names {
			if _, err := d.CreateObjectStore(n); err != nil {
				panic(err)
			}
		}
	}
}

// seed writes key/value pairs into store in one committed transaction.
func seed(ctx context.Context, d *Database, store string, kv ...string) error {
	txn, err := d.Transaction([]string{store}, ReadWrite)
	if err != nil {
		return err
	}
	s, err := txn.ObjectStore(store)
	if err != nil {
		return err
	}
	for i := 0; i+1 < len(kv); i += 2 {
		if _, err := s.Put([]byte(kv[i]), []byte(kv[i+1])); err != nil {
			return err
		}
	}
	if aborted, err := awaitTxn(ctx, txn); err != nil || aborted {
		return errors.Join(err, txn.Err(), errAborted)
	}
	return nil
}

var errAborted = errors.New("transaction aborted")

// walk advances a cursor request with Continue and returns the keys seen.
func walk(ctx context.Context, req *Request) ([]string, error) {
	var keys []string
	for {
		res, err := await(ctx, req)
		if err != nil {
			return keys, err
		}
		c, _ := res.(*Cursor)
		if c == nil {
			return keys, nil
		}
		keys = append(keys, string(c.Key()))
		if err := c.Continue(); err != nil {
			return keys, err
		}
	}
}
