package idb

import (
	"context"
	"testing"
	"time"

	"github.com/beyondbrewing/brewery-idb/db"
	"github.com/beyondbrewing/brewery-idb/host"
	"github.com/beyondbrewing/brewery-idb/pkg/logger"
	"github.com/stretchr/testify/require"
)

type record struct {
	ID   uint32 `json:"id"`
	Name string `json:"name,omitempty"`
}

func newTestEnv(t *testing.T, loopOpts []host.LoopOption, opts ...Option) *Env {
	t.Helper()
	loop := host.NewLoop(append(loopOpts, host.WithLoopLogger(logger.NewNop()))...)
	t.Cleanup(func() { _ = loop.Close() })
	factory := host.NewFactory(loop, db.NewMemStore(), host.WithLogger(logger.NewNop()))
	return New(factory, append([]Option{WithLogger(logger.NewNop())}, opts...)...)
}

func run(t *testing.T, e *Env, fn func(ctx context.Context) error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Run(ctx, fn))
}

func createStores(names ...string) UpgradeFunc {
	return func(d *host.Database, _ *host.Transaction, _, _ uint64) error {
		for _, n := range names {
			if _, err := d.CreateObjectStore(n); err != nil {
				return err
			}
		}
		return nil
	}
}

func openApp(ctx context.Context, t *testing.T, e *Env) *host.Database {
	t.Helper()
	d, err := e.OpenDatabase("app", 1, createStores("items", "logs")).Await(ctx)
	require.NoError(t, err)
	return d
}

// seedRecords stores {id: i} under EncodeUint32(i) for every id.
func seedRecords(ctx context.Context, t *testing.T, e *Env, d *host.Database, store string, ids ...uint32) {
	t.Helper()
	txn, err := d.Transaction([]string{store}, host.ReadWrite)
	require.NoError(t, err)
	s, err := txn.ObjectStore(store)
	require.NoError(t, err)
	done := e.Transaction(txn)

	codec := JSON[record]{}
	for _, id := range ids {
		v, err := codec.Encode(record{ID: id})
		require.NoError(t, err)
		_, err = s.Put([]byte(EncodeUint32(id)), v)
		require.NoError(t, err)
	}
	_, err = done.Await(ctx)
	require.NoError(t, err)
}

func readStore(t *testing.T, d *host.Database, mode host.Mode, store string) (*host.Transaction, *host.ObjectStore) {
	t.Helper()
	txn, err := d.Transaction([]string{store}, mode)
	require.NoError(t, err)
	s, err := txn.ObjectStore(store)
	require.NoError(t, err)
	return txn, s
}

// countingCodec counts decoded values.
type countingCodec[T any] struct {
	Codec[T]
	decoded *int
}

func (c countingCodec[T]) Decode(data []byte) (T, error) {
	*c.decoded++
	return c.Codec.Decode(data)
}
