package idb

import (
	"fmt"

	"github.com/beyondbrewing/brewery-idb/host"
)

// Request bridges one host request to a future of its raw result.
func (e *Env) Request(req *host.Request) *Future[any] {
	return RequestAs[any](e, req)
}

// RequestAs bridges one host request to a future of its result as T. The
// future resolves on the request's success event and fails with an
// *OperationError on its error event. A result that is not a T fails with a
// *StorageError; a nil result resolves to T's zero value.
//
// For cursor requests only the first settlement counts; use [Env.Iterate]
// to walk a cursor.
func RequestAs[T any](e *Env, req *host.Request) *Future[T] {
	f := newFuture[T](e.loop)
	if req.ReadyState() == host.Done {
		if settleRequest(f, req) {
			e.afterSettle()
		}
		return f
	}
	req.AddListener(host.EventSuccess, func(*host.Event) {
		if settleRequest(f, req) {
			e.afterSettle()
		}
	})
	req.AddListener(host.EventError, func(*host.Event) {
		if settleRequest(f, req) {
			e.afterSettle()
		}
	})
	return f
}

func settleRequest[T any](f *Future[T], req *host.Request) bool {
	if req.Err() != nil {
		return f.reject(requestError(req))
	}
	raw := req.Result()
	if raw == nil {
		var zero T
		return f.resolve(zero)
	}
	v, ok := raw.(T)
	if !ok {
		return f.reject(&StorageError{
			Message: fmt.Sprintf("%s returned %T", req.Op(), raw),
		})
	}
	return f.resolve(v)
}
