package db

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store]. Nothing is
// persisted; it backs ephemeral hosts and tests.
//
//	store := db.NewMemStore("sessions")
//	defer store.Close()
type MemStore struct {
	mu     sync.RWMutex
	data   map[string]map[string][]byte // cf -> key(string) -> value
	closed atomic.Bool
}

// NewMemStore creates a MemStore with the given column families.
// The [DefaultColumnFamily] is always included.
func NewMemStore(cfs ...string) *MemStore {
	m := &MemStore{
		data: make(map[string]map[string][]byte, 1+len(cfs)),
	}
	m.data[DefaultColumnFamily] = make(map[string][]byte)
	for _, cf := range cfs {
		m.data[cf] = make(map[string][]byte)
	}
	return m
}

func (m *MemStore) bucket(cf string) (map[string][]byte, error) {
	b, ok := m.data[cf]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrColumnFamilyNotFound, cf)
	}
	return b, nil
}

func (m *MemStore) Get(cf string, key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed.Load() {
		return nil, ErrClosed
	}
	if key == nil {
		return nil, ErrNilKey
	}
	b, err := m.bucket(cf)
	if err != nil {
		return nil, err
	}

	v, ok := b[string(key)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return bytes.Clone(v), nil
}

func (m *MemStore) Put(cf string, key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Load() {
		return ErrClosed
	}
	if key == nil {
		return ErrNilKey
	}
	b, err := m.bucket(cf)
	if err != nil {
		return err
	}
	b[string(key)] = bytes.Clone(value)
	return nil
}

func (m *MemStore) Delete(cf string, key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Load() {
		return ErrClosed
	}
	if key == nil {
		return ErrNilKey
	}
	b, err := m.bucket(cf)
	if err != nil {
		return err
	}
	delete(b, string(key))
	return nil
}

func (m *MemStore) Has(cf string, key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed.Load() {
		return false, ErrClosed
	}
	if key == nil {
		return false, ErrNilKey
	}
	b, err := m.bucket(cf)
	if err != nil {
		return false, err
	}
	_, ok := b[string(key)]
	return ok, nil
}

func (m *MemStore) CreateColumnFamily(cf string) error {
	if err := validColumnFamily(cf); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Load() {
		return ErrClosed
	}
	if _, ok := m.data[cf]; ok {
		return fmt.Errorf("%w: %q", ErrColumnFamilyExists, cf)
	}
	m.data[cf] = make(map[string][]byte)
	return nil
}

func (m *MemStore) DropColumnFamily(cf string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Load() {
		return ErrClosed
	}
	if cf == DefaultColumnFamily {
		return ErrInvalidColumnFamily
	}
	if _, err := m.bucket(cf); err != nil {
		return err
	}
	delete(m.data, cf)
	return nil
}

func (m *MemStore) ColumnFamilies() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed.Load() {
		return nil, ErrClosed
	}
	out := make([]string, 0, len(m.data))
	for cf := range m.data {
		out = append(out, cf)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemStore) NewBatch() Batch {
	return &memBatch{store: m}
}

// NewIterator returns an iterator over a sorted snapshot of the family.
func (m *MemStore) NewIterator(cf string) (Iterator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed.Load() {
		return nil, ErrClosed
	}
	b, err := m.bucket(cf)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]memEntry, len(keys))
	for i, k := range keys {
		entries[i] = memEntry{key: []byte(k), value: bytes.Clone(b[k])}
	}
	return &memIterator{entries: entries, pos: -1}, nil
}

func (m *MemStore) Flush() error {
	if m.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Load() {
		return ErrClosed
	}
	m.closed.Store(true)
	m.data = nil
	return nil
}

// Len returns the number of keys in the given column family. Returns -1 if
// the column family does not exist or the store is closed.
func (m *MemStore) Len(cf string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed.Load() {
		return -1
	}
	b, ok := m.data[cf]
	if !ok {
		return -1
	}
	return len(b)
}

// ---------------------------------------------------------------------------
// Batch implementation
// ---------------------------------------------------------------------------

type memOp struct {
	del   bool
	cf    string
	key   string
	value []byte
}

type memBatch struct {
	store  *MemStore
	ops    []memOp
	closed bool
}

func (b *memBatch) Put(cf string, key, value []byte) error {
	if b.closed {
		return ErrBatchClosed
	}
	if key == nil {
		return ErrNilKey
	}
	b.ops = append(b.ops, memOp{cf: cf, key: string(key), value: bytes.Clone(value)})
	return nil
}

func (b *memBatch) Delete(cf string, key []byte) error {
	if b.closed {
		return ErrBatchClosed
	}
	if key == nil {
		return ErrNilKey
	}
	b.ops = append(b.ops, memOp{del: true, cf: cf, key: string(key)})
	return nil
}

func (b *memBatch) Count() int {
	return len(b.ops)
}

// Commit validates every family before applying anything, so a batch either
// lands whole or not at all.
func (b *memBatch) Commit() error {
	if b.closed {
		return ErrBatchClosed
	}

	b.store.mu.Lock()
	defer b.store.mu.Unlock()

	if b.store.closed.Load() {
		return ErrClosed
	}
	for _, op := range b.ops {
		if _, err := b.store.bucket(op.cf); err != nil {
			return err
		}
	}
	for _, op := range b.ops {
		if op.del {
			delete(b.store.data[op.cf], op.key)
		} else {
			b.store.data[op.cf][op.key] = op.value
		}
	}
	return nil
}

func (b *memBatch) Close() {
	b.closed = true
	b.ops = nil
}

// ---------------------------------------------------------------------------
// Iterator implementation
// ---------------------------------------------------------------------------

type memEntry struct {
	key   []byte
	value []byte
}

type memIterator struct {
	entries []memEntry
	pos     int
}

func (it *memIterator) Seek(target []byte) {
	it.pos = sort.Search(len(it.entries), func(i int) bool {
		return bytes.Compare(it.entries[i].key, target) >= 0
	})
}

func (it *memIterator) SeekLT(target []byte) {
	it.Seek(target)
	it.pos--
}

func (it *memIterator) SeekToFirst() { it.pos = 0 }
func (it *memIterator) SeekToLast()  { it.pos = len(it.entries) - 1 }
func (it *memIterator) Next()        { it.pos++ }
func (it *memIterator) Prev()        { it.pos-- }

func (it *memIterator) Valid() bool {
	return it.pos >= 0 && it.pos < len(it.entries)
}

func (it *memIterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return bytes.Clone(it.entries[it.pos].key)
}

func (it *memIterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	return bytes.Clone(it.entries[it.pos].value)
}

func (it *memIterator) Err() error { return nil }
func (it *memIterator) Close()     {}
