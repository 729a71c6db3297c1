package idb

import (
	"errors"
	"fmt"

	"github.com/beyondbrewing/brewery-idb/host"
)

// ErrNotFound is wrapped by the *StorageError a lookup fails with when no
// row matched.
var ErrNotFound = errors.New("idb: value not found")

// OperationError reports one failed host operation together with where it
// ran. Err is usually a *host.DOMError.
type OperationError struct {
	Database string
	Store    string
	Op       string
	Err      error
}

func (e *OperationError) Error() string {
	if e.Store == "" {
		return fmt.Sprintf("idb: %s on database %q failed: %v", e.Op, e.Database, e.Err)
	}
	return fmt.Sprintf("idb: %s on %q in database %q failed: %v", e.Op, e.Store, e.Database, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

// StorageError reports a failure that is not tied to a single operation: an
// aborted transaction, a failed iteration, or a missing value.
type StorageError struct {
	Message string
	Err     error
}

func (e *StorageError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error { return e.Err }

func requestError(req *host.Request) *OperationError {
	return &OperationError{
		Database: req.Database(),
		Store:    req.Source(),
		Op:       req.Op(),
		Err:      req.Err(),
	}
}
