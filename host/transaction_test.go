package host

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openItems(ctx context.Context, t *testing.T, f *Factory) *Database {
	t.Helper()
	d, err := openDB(ctx, f, "app", 1, createStores("items", "logs"))
	require.NoError(t, err)
	return d
}

func store(t *testing.T, d *Database, mode Mode, name string) (*Transaction, *ObjectStore) {
	t.Helper()
	txn, err := d.Transaction([]string{name}, mode)
	require.NoError(t, err)
	s, err := txn.ObjectStore(name)
	require.NoError(t, err)
	return txn, s
}

func get(ctx context.Context, s *ObjectStore, key string) ([]byte, error) {
	req, err := s.Get([]byte(key))
	if err != nil {
		return nil, err
	}
	res, err := await(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.([]byte), nil
}

func TestTransaction(t *testing.T) {
	tests := []struct {
		name string
		fn   func(ctx context.Context, t *testing.T, d *Database)
	}{
		{name: "commit_and_read_back", fn: testCommitAndReadBack},
		{name: "read_your_writes", fn: testReadYourWrites},
		{name: "constraint_error_aborts", fn: testConstraintErrorAborts},
		{name: "prevent_default_keeps_transaction", fn: testPreventDefault},
		{name: "explicit_abort", fn: testExplicitAbort},
		{name: "read_only_rejects_writes", fn: testReadOnlyRejectsWrites},
		{name: "inactive_after_turn", fn: testInactiveAfterTurn},
		{name: "count_and_clear", fn: testCountAndClear},
		{name: "scope_errors", fn: testScopeErrors},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newTestFactory(t)
			run(t, f, func(ctx context.Context) error {
				tc.fn(ctx, t, openItems(ctx, t, f))
				return nil
			})
		})
	}
}

func testCommitAndReadBack(ctx context.Context, t *testing.T, d *Database) {
	txn, s := store(t, d, ReadWrite, "items")
	_, err := s.Put([]byte("k"), []byte("v"))
	require.NoError(t, err)

	aborted, err := awaitTxn(ctx, txn)
	require.NoError(t, err)
	assert.False(t, aborted)
	assert.True(t, txn.Finished())

	_, s = store(t, d, ReadOnly, "items")
	v, err := get(ctx, s, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	v, err = get(ctx, s, "missing")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func testReadYourWrites(ctx context.Context, t *testing.T, d *Database) {
	require.NoError(t, seed(ctx, d, "items", "a", "1", "b", "2"))

	_, s := store(t, d, ReadWrite, "items")
	_, err := s.Put([]byte("a"), []byte("changed"))
	require.NoError(t, err)
	_, err = s.Delete([]byte("b"))
	require.NoError(t, err)

	v, err := get(ctx, s, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("changed"), v)

	v, err = get(ctx, s, "b")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func testConstraintErrorAborts(ctx context.Context, t *testing.T, d *Database) {
	require.NoError(t, seed(ctx, d, "items", "k", "v"))

	txn, s := store(t, d, ReadWrite, "items")
	var bubbled *Event
	txn.AddListener(EventError, func(ev *Event) { bubbled = ev })

	_, err := s.Put([]byte("other"), []byte("x"))
	require.NoError(t, err)
	req, err := s.Add([]byte("k"), []byte("again"))
	require.NoError(t, err)

	_, err = await(ctx, req)
	assert.ErrorIs(t, err, ErrConstraint)
	require.NotNil(t, bubbled)
	assert.Same(t, req, bubbled.Request)

	aborted, err := awaitTxn(ctx, txn)
	require.NoError(t, err)
	assert.True(t, aborted)
	assert.ErrorIs(t, txn.Err(), ErrConstraint)

	_, s = store(t, d, ReadOnly, "items")
	v, err := get(ctx, s, "other")
	require.NoError(t, err)
	assert.Nil(t, v, "writes of an aborted transaction must not persist")
}

func testPreventDefault(ctx context.Context, t *testing.T, d *Database) {
	require.NoError(t, seed(ctx, d, "items", "k", "v"))

	txn, s := store(t, d, ReadWrite, "items")
	req, err := s.Add([]byte("k"), []byte("again"))
	require.NoError(t, err)
	req.AddListener(EventError, func(ev *Event) { ev.PreventDefault() })
	_, err = s.Put([]byte("other"), []byte("x"))
	require.NoError(t, err)

	aborted, err := awaitTxn(ctx, txn)
	require.NoError(t, err)
	assert.False(t, aborted)

	_, s = store(t, d, ReadOnly, "items")
	v, err := get(ctx, s, "other")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), v)
}

func testExplicitAbort(ctx context.Context, t *testing.T, d *Database) {
	txn, s := store(t, d, ReadWrite, "items")

	var order []string
	req, err := s.Get([]byte("k"))
	require.NoError(t, err)
	req.AddListener(EventError, func(*Event) { order = append(order, "request error") })
	req.AddListener(EventSuccess, func(*Event) { order = append(order, "request success") })
	txn.AddListener(EventComplete, func(*Event) { order = append(order, "complete") })
	txn.AddListener(EventAbort, func(*Event) { order = append(order, "abort") })

	require.NoError(t, txn.Abort())
	assert.ErrorIs(t, txn.Abort(), ErrInvalidState)

	aborted, err := awaitTxn(ctx, txn)
	require.NoError(t, err)
	assert.True(t, aborted)
	assert.NoError(t, txn.Err())
	assert.ErrorIs(t, req.Err(), ErrAbort)
	assert.Equal(t, []string{"request error", "abort"}, order)

	_, err = txn.ObjectStore("items")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func testReadOnlyRejectsWrites(ctx context.Context, t *testing.T, d *Database) {
	_, s := store(t, d, ReadOnly, "items")

	_, err := s.Put([]byte("k"), []byte("v"))
	assert.ErrorIs(t, err, ErrReadOnly)
	_, err = s.Delete([]byte("k"))
	assert.ErrorIs(t, err, ErrReadOnly)
	_, err = s.Clear()
	assert.ErrorIs(t, err, ErrReadOnly)
	_, err = s.Get(nil)
	assert.ErrorIs(t, err, ErrData)
}

func testInactiveAfterTurn(ctx context.Context, t *testing.T, d *Database) {
	txn, s := store(t, d, ReadOnly, "items")
	assert.True(t, txn.Active())

	require.NoError(t, Sleep(ctx, time.Millisecond))

	assert.False(t, txn.Active())
	_, err := s.Get([]byte("k"))
	assert.ErrorIs(t, err, ErrTransactionInactive)
}

func testCountAndClear(ctx context.Context, t *testing.T, d *Database) {
	require.NoError(t, seed(ctx, d, "items", "a", "1", "b", "2", "c", "3"))

	_, s := store(t, d, ReadWrite, "items")
	count := func(rng *KeyRange) uint64 {
		req, err := s.Count(rng)
		require.NoError(t, err)
		res, err := await(ctx, req)
		require.NoError(t, err)
		return res.(uint64)
	}

	assert.Equal(t, uint64(3), count(nil))
	assert.Equal(t, uint64(2), count(LowerBound([]byte("b"), false)))
	assert.Equal(t, uint64(1), count(Only([]byte("a"))))

	_, err := s.Clear()
	require.NoError(t, err)
	_, err = s.Put([]byte("z"), []byte("26"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count(nil))
}

func testScopeErrors(ctx context.Context, t *testing.T, d *Database) {
	_, err := d.Transaction(nil, ReadOnly)
	assert.ErrorIs(t, err, ErrInvalidAccess)

	_, err = d.Transaction([]string{"missing"}, ReadOnly)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = d.Transaction([]string{"items"}, VersionChange)
	assert.ErrorIs(t, err, ErrInvalidAccess)

	txn, err := d.Transaction([]string{"logs", "items", "logs"}, ReadOnly)
	require.NoError(t, err)
	assert.Equal(t, []string{"items", "logs"}, txn.ObjectStoreNames())

	d.Close()
	_, err = d.Transaction([]string{"items"}, ReadOnly)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestLateLoopCommitsBeforeContinuation(t *testing.T) {
	f := newTestFactory(t, WithLateMicrotasks())

	run(t, f, func(ctx context.Context) error {
		d := openItems(ctx, t, f)
		txn, s := store(t, d, ReadOnly, "items")

		_, err := get(ctx, s, "a")
		require.NoError(t, err)

		assert.False(t, txn.Active())
		_, err = s.Get([]byte("b"))
		assert.ErrorIs(t, err, ErrTransactionInactive)
		return nil
	})
}
