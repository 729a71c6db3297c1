package host

import (
	"errors"
	"slices"
	"sort"

	"github.com/beyondbrewing/brewery-idb/db"
)

// storeSep separates the database name from the store name in engine column
// family names. Database and store names may not contain it.
const storeSep = "\x1f"

// Database is an open connection to a named, versioned database.
type Database struct {
	factory *Factory
	name    string
	version uint64
	stores  map[string]struct{}
	closed  bool

	// upgrade is the running version change transaction, if any.
	upgrade *Transaction
}

// Name is the database name.
func (d *Database) Name() string { return d.name }

// Version is the schema version.
func (d *Database) Version() uint64 { return d.version }

// ObjectStoreNames lists the database's stores, sorted.
func (d *Database) ObjectStoreNames() []string {
	names := make([]string, 0, len(d.stores))
	for n := range d.stores {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (d *Database) hasStore(name string) bool {
	_, ok := d.stores[name]
	return ok
}

func (d *Database) cf(store string) string {
	return d.name + storeSep + store
}

// Transaction starts a transaction over stores. mode must be ReadOnly or
// ReadWrite.
func (d *Database) Transaction(stores []string, mode Mode) (*Transaction, error) {
	switch {
	case d.closed:
		return nil, domError(ErrInvalidState, "database %q is closed", d.name)
	case d.upgrade != nil:
		return nil, domError(ErrInvalidState, "database %q is being upgraded", d.name)
	case len(stores) == 0:
		return nil, domError(ErrInvalidAccess, "transaction scope is empty")
	case mode != ReadOnly && mode != ReadWrite:
		return nil, domError(ErrInvalidAccess, "invalid transaction mode %s", mode)
	}

	scope := slices.Clone(stores)
	sort.Strings(scope)
	scope = slices.Compact(scope)
	for _, s := range scope {
		if !d.hasStore(s) {
			return nil, domError(ErrNotFound, "object store %q does not exist in %q", s, d.name)
		}
	}
	return newTransaction(d, scope, mode), nil
}

// CreateObjectStore adds a store. Only valid inside the upgrade transaction
// while it is active.
func (d *Database) CreateObjectStore(name string) (*ObjectStore, error) {
	t, err := d.versionChange()
	if err != nil {
		return nil, err
	}
	if !validName(name) {
		return nil, domError(ErrData, "invalid object store name %q", name)
	}
	if d.hasStore(name) {
		return nil, domError(ErrConstraint, "object store %q already exists", name)
	}

	if i := slices.Index(t.dropped, name); i >= 0 {
		// Deleted earlier in this upgrade: the engine data is still there
		// until commit, so reuse it and hide the old contents.
		t.dropped = slices.Delete(t.dropped, i, i+1)
		d.stores[name] = struct{}{}
		t.clear(name)
		return t.ObjectStore(name)
	}

	if err := d.factory.engine.CreateColumnFamily(d.cf(name)); err != nil && !errors.Is(err, db.ErrColumnFamilyExists) {
		return nil, engineError(err)
	}
	d.stores[name] = struct{}{}
	t.created = append(t.created, name)
	return t.ObjectStore(name)
}

// DeleteObjectStore removes a store. Only valid inside the upgrade
// transaction while it is active. The data goes away when the upgrade
// commits.
func (d *Database) DeleteObjectStore(name string) error {
	t, err := d.versionChange()
	if err != nil {
		return err
	}
	if !d.hasStore(name) {
		return domError(ErrNotFound, "object store %q does not exist", name)
	}
	delete(d.stores, name)
	delete(t.writes, name)
	delete(t.stores, name)

	if i := slices.Index(t.created, name); i >= 0 {
		t.created = slices.Delete(t.created, i, i+1)
		if err := d.factory.engine.DropColumnFamily(d.cf(name)); err != nil {
			return engineError(err)
		}
		return nil
	}
	t.dropped = append(t.dropped, name)
	return nil
}

func (d *Database) versionChange() (*Transaction, error) {
	t := d.upgrade
	if t == nil || t.state != txnRunning {
		return nil, domError(ErrInvalidState, "no upgrade is running on %q", d.name)
	}
	if !t.Active() {
		return nil, domError(ErrTransactionInactive, "upgrade transaction is not active")
	}
	return t, nil
}

// Close closes the connection. Transactions already started still finish.
func (d *Database) Close() {
	d.closed = true
}

// Closed reports whether Close was called, or the upgrade that opened the
// connection failed.
func (d *Database) Closed() bool { return d.closed }
