package db

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/beyondbrewing/brewery-idb/pkg/logger"
	bolt "go.etcd.io/bbolt"
	bolterrors "go.etcd.io/bbolt/errors"
)

// Compile-time interface check.
var _ Store = (*BoltDB)(nil)

// BoltDB is a persistent [Store] backed by bbolt, with one top-level bucket
// per column family.
//
// Iterators hold a read transaction until Close. bbolt may deadlock when a
// goroutine holding a read transaction starts a write that remaps the file,
// so iterators must be closed before writing from the same goroutine.
type BoltDB struct {
	db     *bolt.DB
	path   string
	logger logger.Logger

	closed atomic.Bool
	mu     sync.RWMutex
}

// OpenBolt creates or opens a bbolt file at path.
func OpenBolt(path string, opts ...Option) (*BoltDB, error) {
	cfg := DefaultConfig()
	for _, o := range opts {
		o(cfg)
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	log = log.With("component", "db", "engine", "bolt")

	bdb, err := bolt.Open(path, cfg.FileMode, &bolt.Options{
		Timeout:        cfg.LockTimeout,
		NoSync:         !cfg.SyncWrites,
		NoFreelistSync: true,
	})
	if err != nil {
		return nil, fmt.Errorf("db: failed to open %s: %w", path, err)
	}

	cfs := append([]string{DefaultColumnFamily}, cfg.ColumnFamilies...)
	err = bdb.Update(func(tx *bolt.Tx) error {
		for _, cf := range cfs {
			if err := validColumnFamily(cf); err != nil {
				return err
			}
			if _, err := tx.CreateBucketIfNotExists([]byte(cf)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("db: failed to register column families: %w", err)
	}

	log.Info("database opened", "path", path)
	return &BoltDB{db: bdb, path: path, logger: log}, nil
}

func (b *BoltDB) view(fn func(tx *bolt.Tx) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed.Load() {
		return ErrClosed
	}
	return b.db.View(fn)
}

func (b *BoltDB) update(fn func(tx *bolt.Tx) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed.Load() {
		return ErrClosed
	}
	return b.db.Update(fn)
}

func bucket(tx *bolt.Tx, cf string) (*bolt.Bucket, error) {
	bk := tx.Bucket([]byte(cf))
	if bk == nil {
		return nil, fmt.Errorf("%w: %q", ErrColumnFamilyNotFound, cf)
	}
	return bk, nil
}

func (b *BoltDB) Get(cf string, key []byte) ([]byte, error) {
	if key == nil {
		return nil, ErrNilKey
	}
	var out []byte
	err := b.view(func(tx *bolt.Tx) error {
		bk, err := bucket(tx, cf)
		if err != nil {
			return err
		}
		v := bk.Get(key)
		if v == nil {
			return ErrKeyNotFound
		}
		out = bytes.Clone(v)
		return nil
	})
	return out, err
}

func (b *BoltDB) Put(cf string, key, value []byte) error {
	if key == nil {
		return ErrNilKey
	}
	return b.update(func(tx *bolt.Tx) error {
		bk, err := bucket(tx, cf)
		if err != nil {
			return err
		}
		if err := bk.Put(key, value); err != nil {
			return fmt.Errorf("db: put failed: %w", err)
		}
		return nil
	})
}

func (b *BoltDB) Delete(cf string, key []byte) error {
	if key == nil {
		return ErrNilKey
	}
	return b.update(func(tx *bolt.Tx) error {
		bk, err := bucket(tx, cf)
		if err != nil {
			return err
		}
		if err := bk.Delete(key); err != nil {
			return fmt.Errorf("db: delete failed: %w", err)
		}
		return nil
	})
}

func (b *BoltDB) Has(cf string, key []byte) (bool, error) {
	_, err := b.Get(cf, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrKeyNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (b *BoltDB) CreateColumnFamily(cf string) error {
	if err := validColumnFamily(cf); err != nil {
		return err
	}
	return b.update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucket([]byte(cf))
		if errors.Is(err, bolterrors.ErrBucketExists) {
			return fmt.Errorf("%w: %q", ErrColumnFamilyExists, cf)
		}
		return err
	})
}

func (b *BoltDB) DropColumnFamily(cf string) error {
	if cf == DefaultColumnFamily {
		return ErrInvalidColumnFamily
	}
	return b.update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket([]byte(cf))
		if errors.Is(err, bolterrors.ErrBucketNotFound) {
			return fmt.Errorf("%w: %q", ErrColumnFamilyNotFound, cf)
		}
		return err
	})
}

func (b *BoltDB) ColumnFamilies() ([]string, error) {
	var out []string
	err := b.view(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			out = append(out, string(name))
			return nil
		})
	})
	sort.Strings(out)
	return out, err
}

func (b *BoltDB) NewBatch() Batch {
	return &boltBatch{owner: b}
}

func (b *BoltDB) NewIterator(cf string) (Iterator, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed.Load() {
		return nil, ErrClosed
	}
	tx, err := b.db.Begin(false)
	if err != nil {
		return nil, fmt.Errorf("db: new iterator failed: %w", err)
	}
	bk, err := bucket(tx, cf)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	return &boltIterator{tx: tx, cur: bk.Cursor()}, nil
}

func (b *BoltDB) Flush() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed.Load() {
		return ErrClosed
	}
	if err := b.db.Sync(); err != nil {
		return fmt.Errorf("db: flush failed: %w", err)
	}
	return nil
}

func (b *BoltDB) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed.Load() {
		return ErrClosed
	}
	b.closed.Store(true)

	b.logger.Info("closing database", "path", b.path)
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("db: close failed: %w", err)
	}
	b.logger.Info("database closed", "path", b.path)
	return nil
}

// ---------------------------------------------------------------------------
// Batch implementation
// ---------------------------------------------------------------------------

type boltBatch struct {
	owner  *BoltDB
	ops    []memOp
	closed bool
}

func (bb *boltBatch) Put(cf string, key, value []byte) error {
	if bb.closed {
		return ErrBatchClosed
	}
	if key == nil {
		return ErrNilKey
	}
	bb.ops = append(bb.ops, memOp{cf: cf, key: string(key), value: bytes.Clone(value)})
	return nil
}

func (bb *boltBatch) Delete(cf string, key []byte) error {
	if bb.closed {
		return ErrBatchClosed
	}
	if key == nil {
		return ErrNilKey
	}
	bb.ops = append(bb.ops, memOp{del: true, cf: cf, key: string(key)})
	return nil
}

func (bb *boltBatch) Count() int { return len(bb.ops) }

// Commit applies all operations in one bolt write transaction.
func (bb *boltBatch) Commit() error {
	if bb.closed {
		return ErrBatchClosed
	}
	return bb.owner.update(func(tx *bolt.Tx) error {
		for _, op := range bb.ops {
			bk, err := bucket(tx, op.cf)
			if err != nil {
				return err
			}
			if op.del {
				err = bk.Delete([]byte(op.key))
			} else {
				err = bk.Put([]byte(op.key), op.value)
			}
			if err != nil {
				return fmt.Errorf("db: batch commit failed: %w", err)
			}
		}
		return nil
	})
}

func (bb *boltBatch) Close() {
	bb.closed = true
	bb.ops = nil
}

// ---------------------------------------------------------------------------
// Iterator implementation
// ---------------------------------------------------------------------------

type boltIterator struct {
	tx     *bolt.Tx
	cur    *bolt.Cursor
	key    []byte
	value  []byte
	closed bool
}

func (it *boltIterator) set(k, v []byte) {
	it.key, it.value = k, v
}

func (it *boltIterator) Seek(target []byte) { it.set(it.cur.Seek(target)) }

func (it *boltIterator) SeekLT(target []byte) {
	if k, _ := it.cur.Seek(target); k == nil {
		it.set(it.cur.Last())
		return
	}
	it.set(it.cur.Prev())
}

func (it *boltIterator) SeekToFirst() { it.set(it.cur.First()) }
func (it *boltIterator) SeekToLast()  { it.set(it.cur.Last()) }
func (it *boltIterator) Next()        { it.set(it.cur.Next()) }
func (it *boltIterator) Prev()        { it.set(it.cur.Prev()) }
func (it *boltIterator) Valid() bool  { return it.key != nil }

func (it *boltIterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return bytes.Clone(it.key)
}

func (it *boltIterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	return bytes.Clone(it.value)
}

func (it *boltIterator) Err() error { return nil }

func (it *boltIterator) Close() {
	if !it.closed {
		_ = it.tx.Rollback()
		it.closed = true
	}
}
