package host

import (
	"errors"
	"fmt"
)

// DOMError is the error type the host reports for failed requests and
// aborted transactions. Name is one of the DOM exception names below.
type DOMError struct {
	Name    string
	Message string
}

func (e *DOMError) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}

// Is matches any DOMError with the same Name, so the sentinels below work
// with errors.Is regardless of message.
func (e *DOMError) Is(target error) bool {
	t, ok := target.(*DOMError)
	return ok && t.Name == e.Name
}

// Sentinels for errors.Is. Their messages are empty.
var (
	ErrTransactionInactive = &DOMError{Name: "TransactionInactiveError"}
	ErrReadOnly            = &DOMError{Name: "ReadOnlyError"}
	ErrConstraint          = &DOMError{Name: "ConstraintError"}
	ErrNotFound            = &DOMError{Name: "NotFoundError"}
	ErrData                = &DOMError{Name: "DataError"}
	ErrInvalidState        = &DOMError{Name: "InvalidStateError"}
	ErrInvalidAccess       = &DOMError{Name: "InvalidAccessError"}
	ErrAbort               = &DOMError{Name: "AbortError"}
	ErrVersion             = &DOMError{Name: "VersionError"}
	ErrUnknown             = &DOMError{Name: "UnknownError"}
)

// ErrLoopClosed is returned when work is posted to a closed [Loop].
var ErrLoopClosed = errors.New("host: event loop is closed")

// ErrNotOnLoop is returned by [Suspend] when the context does not belong to
// a coroutine started with [Loop.Go].
var ErrNotOnLoop = errors.New("host: not running on an event loop coroutine")

func domError(sentinel *DOMError, format string, args ...any) *DOMError {
	return &DOMError{Name: sentinel.Name, Message: fmt.Sprintf(format, args...)}
}

// engineError maps a storage engine failure onto the host taxonomy.
func engineError(err error) *DOMError {
	return &DOMError{Name: ErrUnknown.Name, Message: err.Error()}
}
