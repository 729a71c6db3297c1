package host

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/beyondbrewing/brewery-idb/db"
	"github.com/beyondbrewing/brewery-idb/pkg/logger"
	"github.com/google/uuid"
)

// Mode is a transaction's access mode.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
	// VersionChange is the mode of the transaction the host creates while an
	// open request upgrades a database. It cannot be requested directly.
	VersionChange
)

func (m Mode) String() string {
	switch m {
	case ReadOnly:
		return "readonly"
	case ReadWrite:
		return "readwrite"
	case VersionChange:
		return "versionchange"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

type txnState int

const (
	txnRunning txnState = iota
	txnCommitting
	txnFinished
)

// Transaction scopes requests to a set of object stores. It is active while
// the turn that created it runs and while any turn dispatching one of its
// request events runs. When a turn ends with nothing pending the transaction
// commits on its own. Exactly one of complete or abort fires.
type Transaction struct {
	id    uuid.UUID
	db    *Database
	scope []string
	mode  Mode
	log   logger.Logger

	state   txnState
	aborted bool
	active  bool
	pending int
	err     *DOMError

	writes    map[string]*overlay
	stores    map[string]*ObjectStore
	listeners listeners

	// Version change bookkeeping.
	oldVersion uint64
	created    []string
	dropped    []string

	// finish runs after the complete or abort listeners.
	finish func(aborted bool)
}

type entry struct {
	value   []byte
	deleted bool
}

// overlay holds a transaction's uncommitted writes to one store.
type overlay struct {
	cleared bool
	entries map[string]entry
}

func newTransaction(d *Database, scope []string, mode Mode) *Transaction {
	t := &Transaction{
		id:     uuid.Must(uuid.NewV7()),
		db:     d,
		scope:  scope,
		mode:   mode,
		writes: make(map[string]*overlay),
		stores: make(map[string]*ObjectStore),
	}
	t.log = d.factory.log.With("txn", t.id.String())
	t.activate()
	t.log.Debug("transaction started", "db", d.name, "mode", mode.String(), "stores", scope)
	return t
}

// ID identifies the transaction in logs.
func (t *Transaction) ID() uuid.UUID { return t.id }

// Mode returns the access mode.
func (t *Transaction) Mode() Mode { return t.mode }

// Database returns the owning database.
func (t *Transaction) Database() *Database { return t.db }

// ObjectStoreNames lists the stores in scope, sorted.
func (t *Transaction) ObjectStoreNames() []string {
	if t.mode == VersionChange {
		return t.db.ObjectStoreNames()
	}
	return append([]string(nil), t.scope...)
}

// Err is the reason the transaction aborted. It is nil while running, after
// commit, and after an explicit Abort.
func (t *Transaction) Err() error {
	if t.err == nil {
		return nil
	}
	return t.err
}

// Active reports whether new requests can be issued right now.
func (t *Transaction) Active() bool {
	return t.active && t.state == txnRunning
}

// Finished reports whether complete or abort has been decided.
func (t *Transaction) Finished() bool {
	return t.state != txnRunning
}

// AddListener registers fn for complete, abort, or bubbled error events.
func (t *Transaction) AddListener(e EventType, fn Listener) {
	t.listeners.add(e, fn)
}

// ObjectStore returns a handle on a store in scope.
func (t *Transaction) ObjectStore(name string) (*ObjectStore, error) {
	if t.state == txnFinished {
		return nil, domError(ErrInvalidState, "transaction has finished")
	}
	if !t.inScope(name) {
		return nil, domError(ErrNotFound, "object store %q is not in the transaction scope", name)
	}
	if s, ok := t.stores[name]; ok {
		return s, nil
	}
	s := &ObjectStore{txn: t, name: name}
	t.stores[name] = s
	return s, nil
}

func (t *Transaction) inScope(name string) bool {
	if t.mode == VersionChange {
		return t.db.hasStore(name)
	}
	i := sort.SearchStrings(t.scope, name)
	return i < len(t.scope) && t.scope[i] == name
}

// Abort rolls the transaction back. Pending requests fail with AbortError,
// then abort fires with a nil Err.
func (t *Transaction) Abort() error {
	if t.state != txnRunning {
		return domError(ErrInvalidState, "transaction is %s", t.stateName())
	}
	t.abort(nil)
	return nil
}

func (t *Transaction) stateName() string {
	switch t.state {
	case txnCommitting:
		return "committing"
	case txnFinished:
		return "finished"
	default:
		return "running"
	}
}

func (t *Transaction) activate() {
	if t.active {
		return
	}
	t.active = true
	t.db.factory.loop.AtTurnEnd(t.deactivate)
}

func (t *Transaction) deactivate() {
	t.active = false
	if t.state == txnRunning && t.pending == 0 {
		t.commit()
	}
}

// issue creates a request. exec runs when the request is dispatched, so
// requests observe each other's effects in issue order.
func (t *Transaction) issue(source, op string, exec func() (any, *DOMError)) *Request {
	r := &Request{loop: t.db.factory.loop, txn: t, database: t.db.name, source: source, op: op}
	t.rearm(r, exec)
	return r
}

func (t *Transaction) rearm(r *Request, exec func() (any, *DOMError)) {
	r.state = Pending
	r.exec = exec
	t.pending++
	t.db.factory.loop.post(func() { t.dispatch(r) })
}

func (t *Transaction) dispatch(r *Request) {
	if t.state == txnFinished {
		if r.state == Pending {
			r.fail(domError(ErrAbort, "transaction was aborted"))
		}
		return
	}
	t.pending--
	t.activate()

	result, err := r.exec()
	if err != nil {
		t.requestFailed(r, err)
		return
	}
	r.succeed(result)
}

func (t *Transaction) requestFailed(r *Request, err *DOMError) {
	ev := r.fail(err)
	t.listeners.fire(ev)
	if !ev.defaultPrevented && t.state == txnRunning {
		t.abort(err)
	}
}

func (t *Transaction) abort(err *DOMError) {
	if t.state == txnFinished {
		return
	}
	t.state = txnFinished
	t.aborted = true
	t.active = false
	t.err = err
	t.writes = nil
	t.rollbackSchema()

	t.log.Debug("transaction aborted", "error", t.Err())
	t.db.factory.loop.post(func() {
		t.listeners.fire(&Event{Type: EventAbort, Transaction: t})
		if t.finish != nil {
			t.finish(true)
		}
	})
}

func (t *Transaction) commit() {
	t.state = txnCommitting
	if err := t.persist(); err != nil {
		t.abort(engineError(err))
		return
	}
	t.log.Debug("transaction committed")
	t.db.factory.loop.post(func() {
		t.state = txnFinished
		t.listeners.fire(&Event{Type: EventComplete, Transaction: t})
		if t.finish != nil {
			t.finish(false)
		}
	})
}

// persist writes the overlay to the engine in one batch.
func (t *Transaction) persist() error {
	engine := t.db.factory.engine
	batch := engine.NewBatch()
	defer batch.Close()

	for store, ov := range t.writes {
		if !t.db.hasStore(store) {
			continue
		}
		cf := t.db.cf(store)
		if ov.cleared {
			if err := t.clearEngine(batch, cf); err != nil {
				return err
			}
		}
		for k, e := range ov.entries {
			var err error
			if e.deleted {
				err = batch.Delete(cf, []byte(k))
			} else {
				err = batch.Put(cf, []byte(k), e.value)
			}
			if err != nil {
				return err
			}
		}
	}
	if t.mode == VersionChange {
		if err := batch.Put(db.DefaultColumnFamily, versionKey(t.db.name), encodeVersion(t.db.version)); err != nil {
			return err
		}
	}
	if batch.Count() > 0 {
		if err := batch.Commit(); err != nil {
			return err
		}
	}

	var errs []error
	for _, store := range t.dropped {
		errs = append(errs, engine.DropColumnFamily(t.db.cf(store)))
	}
	return errors.Join(errs...)
}

func (t *Transaction) clearEngine(batch db.Batch, cf string) error {
	it, err := t.db.factory.engine.NewIterator(cf)
	if err != nil {
		return err
	}
	defer it.Close()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		if err := batch.Delete(cf, it.Key()); err != nil {
			return err
		}
	}
	return it.Err()
}

func (t *Transaction) rollbackSchema() {
	if t.mode != VersionChange {
		return
	}
	for _, store := range t.created {
		delete(t.db.stores, store)
		if err := t.db.factory.engine.DropColumnFamily(t.db.cf(store)); err != nil {
			t.log.Warn("failed to drop store created by aborted upgrade", "store", store, "error", err)
		}
	}
	for _, store := range t.dropped {
		t.db.stores[store] = struct{}{}
	}
	t.created, t.dropped = nil, nil
	t.db.version = t.oldVersion
}

// ---------------------------------------------------------------------------
// Reads and writes through the overlay
// ---------------------------------------------------------------------------

func (t *Transaction) overlay(store string) *overlay {
	ov, ok := t.writes[store]
	if !ok {
		ov = &overlay{entries: make(map[string]entry)}
		t.writes[store] = ov
	}
	return ov
}

func (t *Transaction) get(store string, key []byte) ([]byte, bool, *DOMError) {
	if ov := t.writes[store]; ov != nil {
		if e, ok := ov.entries[string(key)]; ok {
			if e.deleted {
				return nil, false, nil
			}
			return bytes.Clone(e.value), true, nil
		}
		if ov.cleared {
			return nil, false, nil
		}
	}
	v, err := t.db.factory.engine.Get(t.db.cf(store), key)
	switch {
	case err == nil:
		return v, true, nil
	case errors.Is(err, db.ErrKeyNotFound):
		return nil, false, nil
	default:
		return nil, false, engineError(err)
	}
}

func (t *Transaction) put(store string, key, value []byte) {
	t.overlay(store).entries[string(key)] = entry{value: value}
}

func (t *Transaction) del(store string, key []byte) {
	t.overlay(store).entries[string(key)] = entry{deleted: true}
}

func (t *Transaction) clear(store string) {
	ov := t.overlay(store)
	ov.cleared = true
	ov.entries = make(map[string]entry)
}

// seek finds the nearest visible key from `from` in direction dir. A nil
// from starts at the first (Next) or last (Prev) key.
func (t *Transaction) seek(store string, from []byte, inclusive bool, dir Direction) ([]byte, []byte, bool, *DOMError) {
	ov := t.writes[store]

	ek, ev, eok, err := t.seekEngine(store, ov, from, inclusive, dir)
	if err != nil {
		return nil, nil, false, engineError(err)
	}
	var wk, wv []byte
	wok := false
	if ov != nil {
		wk, wv, wok = ov.seek(from, inclusive, dir)
	}

	switch {
	case eok && wok:
		if c := bytes.Compare(ek, wk); (dir == Next && c < 0) || (dir == Prev && c > 0) {
			return ek, ev, true, nil
		}
		return wk, bytes.Clone(wv), true, nil
	case eok:
		return ek, ev, true, nil
	case wok:
		return wk, bytes.Clone(wv), true, nil
	default:
		return nil, nil, false, nil
	}
}

// seekEngine walks committed data, skipping keys the overlay supersedes.
func (t *Transaction) seekEngine(store string, ov *overlay, from []byte, inclusive bool, dir Direction) ([]byte, []byte, bool, error) {
	if ov != nil && ov.cleared {
		return nil, nil, false, nil
	}
	it, err := t.db.factory.engine.NewIterator(t.db.cf(store))
	if err != nil {
		return nil, nil, false, err
	}
	defer it.Close()

	step := it.Next
	switch {
	case dir == Next && from == nil:
		it.SeekToFirst()
	case dir == Next:
		it.Seek(from)
		if !inclusive && it.Valid() && bytes.Equal(it.Key(), from) {
			it.Next()
		}
	case from == nil:
		step = it.Prev
		it.SeekToLast()
	default:
		step = it.Prev
		it.Seek(from)
		if !(inclusive && it.Valid() && bytes.Equal(it.Key(), from)) {
			it.SeekLT(from)
		}
	}

	for ; it.Valid(); step() {
		k := it.Key()
		if ov != nil {
			if _, shadowed := ov.entries[string(k)]; shadowed {
				continue
			}
		}
		return k, it.Value(), true, nil
	}
	return nil, nil, false, it.Err()
}

func (ov *overlay) seek(from []byte, inclusive bool, dir Direction) ([]byte, []byte, bool) {
	var best, bestVal []byte
	found := false
	for ks, e := range ov.entries {
		if e.deleted {
			continue
		}
		k := []byte(ks)
		if from != nil {
			c := bytes.Compare(k, from)
			if c == 0 && !inclusive {
				continue
			}
			if (dir == Next && c < 0) || (dir == Prev && c > 0) {
				continue
			}
		}
		if !found {
			best, bestVal, found = k, e.value, true
			continue
		}
		c := bytes.Compare(k, best)
		if (dir == Next && c < 0) || (dir == Prev && c > 0) {
			best, bestVal = k, e.value
		}
	}
	return best, bestVal, found
}
