package host

// ReadyState is a request's lifecycle state.
type ReadyState int

const (
	Pending ReadyState = iota
	Done
)

// Request is one operation against a store, a cursor, or the factory. Its
// outcome is delivered as exactly one success or error event; a cursor
// request is re-armed by each cursor advancement and settles once per
// advancement.
type Request struct {
	loop     *Loop
	txn      *Transaction
	database string
	source   string
	op       string

	state     ReadyState
	result    any
	err       *DOMError
	listeners listeners

	// exec computes the outcome when the request is dispatched.
	exec func() (any, *DOMError)
}

// AddListener registers fn for success or error events (and, on open
// requests, upgradeneeded).
func (r *Request) AddListener(t EventType, fn Listener) {
	r.listeners.add(t, fn)
}

// Result is the value of the last successful settlement. Get yields []byte
// (nil for a missing key), Put/Add yield the key, Count yields uint64,
// cursor requests yield *Cursor (nil once exhausted), open requests yield
// *Database.
func (r *Request) Result() any { return r.result }

// Err is the failure of the last settlement, or nil.
func (r *Request) Err() error {
	if r.err == nil {
		return nil
	}
	return r.err
}

// ReadyState reports whether the request is still pending.
func (r *Request) ReadyState() ReadyState { return r.state }

// Database names the database the request belongs to.
func (r *Request) Database() string { return r.database }

// Source names the object store the request was issued against. It is empty
// for factory requests.
func (r *Request) Source() string { return r.source }

// Op names the operation ("get", "put", "openCursor", ...).
func (r *Request) Op() string { return r.op }

// Transaction is the owning transaction. For open requests it is the
// version change transaction while an upgrade runs, and nil otherwise.
func (r *Request) Transaction() *Transaction { return r.txn }

func (r *Request) succeed(result any) {
	r.state = Done
	r.result, r.err = result, nil
	r.listeners.fire(&Event{Type: EventSuccess, Request: r, Transaction: r.txn})
}

// fail fires the error event at the request and returns it so the caller
// can bubble it.
func (r *Request) fail(err *DOMError) *Event {
	r.state = Done
	r.result, r.err = nil, err
	ev := &Event{Type: EventError, Request: r, Transaction: r.txn}
	r.listeners.fire(ev)
	return ev
}
