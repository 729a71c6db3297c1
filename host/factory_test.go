package host

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/beyondbrewing/brewery-idb/db"
	"github.com/beyondbrewing/brewery-idb/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRunsUpgradeOnce(t *testing.T) {
	f := newTestFactory(t)
	upgrades := 0

	run(t, f, func(ctx context.Context) error {
		d, err := openDB(ctx, f, "app", 1, func(d *Database, txn *Transaction) {
			upgrades++
			assert.Equal(t, VersionChange, txn.Mode())
			createStores("logs", "items")(d, txn)
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(1), d.Version())
		assert.Equal(t, []string{"items", "logs"}, d.ObjectStoreNames())

		again, err := openDB(ctx, f, "app", 1, func(*Database, *Transaction) { upgrades++ })
		require.NoError(t, err)
		assert.Equal(t, []string{"items", "logs"}, again.ObjectStoreNames())
		return nil
	})
	assert.Equal(t, 1, upgrades)

	names, err := f.Databases()
	require.NoError(t, err)
	assert.Equal(t, []string{"app"}, names)
}

func TestOpenVersionRules(t *testing.T) {
	f := newTestFactory(t)

	_, err := f.Open("app", 0)
	assert.ErrorIs(t, err, ErrData)
	_, err = f.Open("", 1)
	assert.ErrorIs(t, err, ErrData)

	run(t, f, func(ctx context.Context) error {
		_, err := openDB(ctx, f, "app", 3, createStores("items"))
		require.NoError(t, err)

		_, err = openDB(ctx, f, "app", 2, nil)
		assert.ErrorIs(t, err, ErrVersion)

		var oldVersion, newVersion uint64
		req, err := f.Open("app", 5)
		require.NoError(t, err)
		req.AddListener(EventUpgradeNeeded, func(ev *Event) {
			oldVersion, newVersion = ev.OldVersion, ev.NewVersion
		})
		_, err = await(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), oldVersion)
		assert.Equal(t, uint64(5), newVersion)
		return nil
	})
}

func TestAbortedUpgradeRollsBack(t *testing.T) {
	f := newTestFactory(t)

	run(t, f, func(ctx context.Context) error {
		_, err := openDB(ctx, f, "app", 1, createStores("a"))
		require.NoError(t, err)

		_, err = openDB(ctx, f, "app", 2, func(d *Database, txn *Transaction) {
			createStores("b")(d, txn)
			assert.NoError(t, d.DeleteObjectStore("a"))
			assert.NoError(t, txn.Abort())
		})
		assert.ErrorIs(t, err, ErrAbort)

		d, err := openDB(ctx, f, "app", 1, nil)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), d.Version())
		assert.Equal(t, []string{"a"}, d.ObjectStoreNames())
		return nil
	})
}

func TestDeleteObjectStore(t *testing.T) {
	f := newTestFactory(t)

	run(t, f, func(ctx context.Context) error {
		d, err := openDB(ctx, f, "app", 1, createStores("a", "b"))
		require.NoError(t, err)
		require.NoError(t, seed(ctx, d, "a", "k", "v"))

		d, err = openDB(ctx, f, "app", 2, func(d *Database, _ *Transaction) {
			assert.NoError(t, d.DeleteObjectStore("a"))
			assert.ErrorIs(t, d.DeleteObjectStore("missing"), ErrNotFound)
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, d.ObjectStoreNames())

		_, err = d.Transaction([]string{"a"}, ReadOnly)
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	})
}

func TestSchemaChangesOutsideUpgrade(t *testing.T) {
	f := newTestFactory(t)

	run(t, f, func(ctx context.Context) error {
		d, err := openDB(ctx, f, "app", 1, createStores("a"))
		require.NoError(t, err)

		_, err = d.CreateObjectStore("b")
		assert.ErrorIs(t, err, ErrInvalidState)
		assert.ErrorIs(t, d.DeleteObjectStore("a"), ErrInvalidState)
		return nil
	})
}

func TestDeleteDatabase(t *testing.T) {
	f := newTestFactory(t)

	run(t, f, func(ctx context.Context) error {
		d, err := openDB(ctx, f, "app", 1, createStores("a"))
		require.NoError(t, err)
		require.NoError(t, seed(ctx, d, "a", "k", "v"))
		d.Close()

		req, err := f.DeleteDatabase("app")
		require.NoError(t, err)
		_, err = await(ctx, req)
		require.NoError(t, err)

		var upgraded bool
		d, err = openDB(ctx, f, "app", 1, func(*Database, *Transaction) { upgraded = true })
		require.NoError(t, err)
		assert.True(t, upgraded)
		assert.Empty(t, d.ObjectStoreNames())
		return nil
	})
}

func TestDatabasePersistsInPebble(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pebble")

	withFactory := func(fn func(f *Factory)) {
		engine, err := db.Open(path, db.WithCacheSize(1<<20), db.WithLogger(logger.NewNop()))
		require.NoError(t, err)
		defer engine.Close()

		loop := NewLoop(WithLoopLogger(logger.NewNop()))
		defer loop.Close()
		fn(NewFactory(loop, engine, WithLogger(logger.NewNop())))
	}

	withFactory(func(f *Factory) {
		run(t, f, func(ctx context.Context) error {
			d, err := openDB(ctx, f, "app", 2, createStores("items"))
			require.NoError(t, err)
			return seed(ctx, d, "items", "k1", "v1", "k2", "v2")
		})
	})

	withFactory(func(f *Factory) {
		run(t, f, func(ctx context.Context) error {
			d, err := openDB(ctx, f, "app", 2, nil)
			require.NoError(t, err)
			assert.Equal(t, []string{"items"}, d.ObjectStoreNames())

			txn, err := d.Transaction([]string{"items"}, ReadOnly)
			require.NoError(t, err)
			s, err := txn.ObjectStore("items")
			require.NoError(t, err)
			req, err := s.OpenCursor(nil, Next)
			require.NoError(t, err)
			keys, err := walk(ctx, req)
			require.NoError(t, err)
			assert.Equal(t, []string{"k1", "k2"}, keys)
			return nil
		})
	})
}
