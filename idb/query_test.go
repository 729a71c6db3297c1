package idb

import (
	"context"
	"testing"

	"github.com/beyondbrewing/brewery-idb/host"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func atLeast(n int) func([]record) bool {
	return func(rs []record) bool { return len(rs) >= n }
}

func TestSelectRange(t *testing.T) {
	tests := []struct {
		name string
		fn   func(ctx context.Context, t *testing.T, e *Env, d *host.Database)
	}{
		{name: "first_three_ascending", fn: testSelectFirstThree},
		{name: "nil_is_done_collects_all", fn: testSelectAll},
		{name: "empty_store", fn: testSelectEmpty},
		{name: "custom_cursor", fn: testSelectCustomCursor},
		{name: "unknown_store", fn: testSelectUnknownStore},
		{name: "decode_failure", fn: testSelectDecodeFailure},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEnv(t, nil)
			run(t, e, func(ctx context.Context) error {
				tc.fn(ctx, t, e, openApp(ctx, t, e))
				return nil
			})
		})
	}
}

func testSelectFirstThree(ctx context.Context, t *testing.T, e *Env, d *host.Database) {
	seedRecords(ctx, t, e, d, "items", 5, 3, 1, 4, 2)

	rows, err := SelectRange(e, d, "items", JSON[record]{}, atLeast(3)).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, []record{{ID: 1}, {ID: 2}, {ID: 3}}, rows)
}

func testSelectAll(ctx context.Context, t *testing.T, e *Env, d *host.Database) {
	seedRecords(ctx, t, e, d, "items", 1, 2, 3, 4, 5)

	rows, err := SelectRange(e, d, "items", JSON[record]{}, nil).Await(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 5)
}

func testSelectEmpty(ctx context.Context, t *testing.T, e *Env, d *host.Database) {
	rows, err := SelectRange(e, d, "items", JSON[record]{}, atLeast(3)).Await(ctx)
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func testSelectCustomCursor(ctx context.Context, t *testing.T, e *Env, d *host.Database) {
	seedRecords(ctx, t, e, d, "items", 1, 2, 3, 4, 5)

	latest := WithCursor(func(s *host.ObjectStore) (*host.Request, error) {
		return s.OpenCursor(host.UpperBound([]byte(EncodeUint32(4)), false), host.Prev)
	})
	rows, err := SelectRange(e, d, "items", JSON[record]{}, atLeast(2), latest).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, []record{{ID: 4}, {ID: 3}}, rows)
}

func testSelectUnknownStore(ctx context.Context, t *testing.T, e *Env, d *host.Database) {
	_, err := SelectRange(e, d, "missing", JSON[record]{}, nil).Await(ctx)
	var oe *OperationError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "transaction", oe.Op)
	assert.ErrorIs(t, err, host.ErrNotFound)
}

func testSelectDecodeFailure(ctx context.Context, t *testing.T, e *Env, d *host.Database) {
	txn, s := readStore(t, d, host.ReadWrite, "items")
	_, err := s.Put([]byte(EncodeUint32(1)), []byte("not json"))
	require.NoError(t, err)
	_, err = e.Transaction(txn).Await(ctx)
	require.NoError(t, err)

	_, err = SelectRange(e, d, "items", JSON[record]{}, nil).Await(ctx)
	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "collectUntil failed", se.Message)
}

func TestCollectUntilOrder(t *testing.T) {
	e := newTestEnv(t, nil)
	run(t, e, func(ctx context.Context) error {
		d := openApp(ctx, t, e)
		seedRecords(ctx, t, e, d, "items", 1, 2, 3)

		_, s := readStore(t, d, host.ReadOnly, "items")
		req, err := s.OpenCursor(nil, host.Prev)
		require.NoError(t, err)

		var seen []int
		rows, err := CollectUntil(e, req, JSON[record]{}, func(rs []record) bool {
			seen = append(seen, len(rs))
			return false
		}).Await(ctx)
		require.NoError(t, err)
		assert.Equal(t, []record{{ID: 3}, {ID: 2}, {ID: 1}}, rows)
		assert.Equal(t, []int{1, 2, 3}, seen)
		return nil
	})
}

func TestFindFirst(t *testing.T) {
	tests := []struct {
		name string
		fn   func(ctx context.Context, t *testing.T, e *Env, d *host.Database)
	}{
		{name: "not_found", fn: testFindNotFound},
		{name: "single_match_stops", fn: testFindSingleMatch},
		{name: "nil_matcher_takes_first_row", fn: testFindFirstRow},
		{name: "write_after_find", fn: testFindThenWrite},
		{name: "read_only_mode", fn: testFindReadOnly},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEnv(t, nil)
			run(t, e, func(ctx context.Context) error {
				d := openApp(ctx, t, e)
				seedRecords(ctx, t, e, d, "items", 1, 2, 3, 4, 5)
				tc.fn(ctx, t, e, d)
				return nil
			})
		})
	}
}

func testFindNotFound(ctx context.Context, t *testing.T, e *Env, d *host.Database) {
	_, err := FindFirst(e, d, "items", JSON[record]{}, func(r record) bool { return r.ID > 10 }).Await(ctx)

	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, ErrNotFound)
}

func testFindSingleMatch(ctx context.Context, t *testing.T, e *Env, d *host.Database) {
	decoded := 0
	codec := countingCodec[record]{Codec: JSON[record]{}, decoded: &decoded}

	got, err := FindFirst(e, d, "items", Codec[record](codec), func(r record) bool { return r.ID == 2 }).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, record{ID: 2}, got)
	assert.Equal(t, 2, decoded, "rows after the match must not be visited")
}

func testFindFirstRow(ctx context.Context, t *testing.T, e *Env, d *host.Database) {
	got, err := FindFirst(e, d, "items", JSON[record]{}, nil).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, record{ID: 1}, got)
}

func testFindThenWrite(ctx context.Context, t *testing.T, e *Env, d *host.Database) {
	txn, s := readStore(t, d, host.ReadWrite, "items")
	done := e.Transaction(txn)

	got, err := FindFirst(e, d, "items", JSON[record]{}, func(r record) bool { return r.ID == 3 }, WithTransaction(txn)).Await(ctx)
	require.NoError(t, err)

	got.Name = "found"
	v, err := JSON[record]{}.Encode(got)
	require.NoError(t, err)
	_, err = s.Put([]byte(EncodeUint32(got.ID)), v)
	require.NoError(t, err)
	_, err = done.Await(ctx)
	require.NoError(t, err)

	again, err := FindFirst(e, d, "items", JSON[record]{}, func(r record) bool { return r.ID == 3 }).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "found", again.Name)
}

func testFindReadOnly(ctx context.Context, t *testing.T, e *Env, d *host.Database) {
	var mode host.Mode = -1
	cursor := WithCursor(func(s *host.ObjectStore) (*host.Request, error) {
		mode = s.Transaction().Mode()
		return FullScan(s)
	})

	_, err := FindFirst(e, d, "items", JSON[record]{}, nil, cursor).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, host.ReadWrite, mode)

	_, err = FindFirst(e, d, "items", JSON[record]{}, nil, cursor, WithMode(host.ReadOnly)).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, host.ReadOnly, mode)
}
