// Package db provides the ordered key-value engines that back the host store:
// logical column families, atomic batch writes, ordered bidirectional
// iteration, and graceful shutdown.
//
// The primary interface is [Store], satisfied by [PebbleDB] (persistent, key
// prefixed families), [BoltDB] (persistent, one bucket per family) and
// [MemStore] (in memory). Column families can be created and dropped at
// runtime, which is what object store creation during a schema upgrade needs.
package db

import (
	"errors"
	"io"
)

// Sentinel errors returned by Store implementations.
var (
	ErrClosed               = errors.New("db: database is closed")
	ErrColumnFamilyNotFound = errors.New("db: column family not found")
	ErrColumnFamilyExists   = errors.New("db: column family already exists")
	ErrInvalidColumnFamily  = errors.New("db: invalid column family name")
	ErrKeyNotFound          = errors.New("db: key not found")
	ErrNilKey               = errors.New("db: key must not be nil")
	ErrBatchClosed          = errors.New("db: batch is closed")
)

// DefaultColumnFamily is always registered and cannot be dropped.
const DefaultColumnFamily = "default"

// Store defines the contract for all engine operations.
// All methods are safe for concurrent use by multiple goroutines.
type Store interface {
	// Get retrieves the value for a key in the given column family.
	// Returns ErrKeyNotFound if the key does not exist.
	Get(cf string, key []byte) ([]byte, error)

	// Put stores a key-value pair in the given column family.
	Put(cf string, key []byte, value []byte) error

	// Delete removes a key. Deleting a non-existent key is not an error.
	Delete(cf string, key []byte) error

	// Has reports whether a key exists in the given column family.
	Has(cf string, key []byte) (bool, error)

	// CreateColumnFamily registers a new, empty column family.
	// Returns ErrColumnFamilyExists if it is already registered.
	CreateColumnFamily(cf string) error

	// DropColumnFamily removes a column family and all of its keys.
	DropColumnFamily(cf string) error

	// ColumnFamilies lists registered column families in sorted order.
	ColumnFamilies() ([]string, error)

	// NewBatch creates an atomic write batch applied on Commit. The caller
	// must call Close when the batch is no longer needed.
	NewBatch() Batch

	// NewIterator creates an iterator scoped to the given column family.
	// The caller must call Close on the returned Iterator.
	NewIterator(cf string) (Iterator, error)

	// Flush forces buffered writes to persistent storage.
	Flush() error

	// Close flushes pending writes and releases all resources.
	// After Close returns, every other method returns ErrClosed.
	io.Closer
}

// Batch is an atomic write batch.
type Batch interface {
	Put(cf string, key []byte, value []byte) error
	Delete(cf string, key []byte) error

	// Count returns the number of staged operations.
	Count() int

	// Commit atomically applies all staged operations.
	Commit() error

	// Close releases batch resources. Must be called even after Commit.
	Close()
}

// Iterator provides ordered traversal over the keys of one column family.
// Key and Value return copies that remain valid after the iterator moves.
type Iterator interface {
	// Seek positions the iterator at the first key >= target.
	Seek(target []byte)

	// SeekLT positions the iterator at the last key < target.
	SeekLT(target []byte)

	SeekToFirst()
	SeekToLast()
	Next()
	Prev()
	Valid() bool

	// Key returns a copy of the current key. Only valid when Valid() is true.
	Key() []byte

	// Value returns a copy of the current value. Only valid when Valid() is true.
	Value() []byte

	// Err returns any accumulated error from the underlying engine.
	Err() error

	Close()
}

func validColumnFamily(cf string) error {
	if cf == "" {
		return ErrInvalidColumnFamily
	}
	for i := 0; i < len(cf); i++ {
		if cf[i] == 0x00 {
			return ErrInvalidColumnFamily
		}
	}
	return nil
}
