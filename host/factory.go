package host

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"

	"github.com/beyondbrewing/brewery-idb/db"
	"github.com/beyondbrewing/brewery-idb/pkg/logger"
)

var versionPrefix = []byte("idb\x00version\x00")

func versionKey(name string) []byte {
	return append(bytes.Clone(versionPrefix), name...)
}

func encodeVersion(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

func decodeVersion(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, errors.New("host: corrupt database version record")
	}
	return binary.BigEndian.Uint64(b), nil
}

func validName(name string) bool {
	return name != "" && !strings.ContainsAny(name, storeSep+"\x00")
}

// Factory opens and deletes databases kept in one engine.
type Factory struct {
	loop   *Loop
	engine db.Store
	log    logger.Logger
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithLogger sets the factory's logger. Defaults to logger.Default().
func WithLogger(log logger.Logger) FactoryOption {
	return func(f *Factory) { f.log = log }
}

// NewFactory returns a factory whose databases live in engine and whose
// events are dispatched on loop. The engine's lifetime stays with the
// caller.
func NewFactory(loop *Loop, engine db.Store, opts ...FactoryOption) *Factory {
	f := &Factory{loop: loop, engine: engine}
	for _, o := range opts {
		o(f)
	}
	if f.log == nil {
		f.log = logger.Default()
	}
	f.log = f.log.With("component", "host")
	return f
}

// Loop returns the factory's loop.
func (f *Factory) Loop() *Loop { return f.loop }

// Open requests a connection to name at version. When the stored version is
// lower (a new database has version 0), the request first fires
// upgradeneeded with a version change transaction on Request.Transaction;
// the stores can be reshaped from that listener. It then succeeds with the
// *Database once the upgrade commits, or fails with the upgrade's error (or
// AbortError) if it aborts. A version lower than the stored one fails with
// VersionError.
func (f *Factory) Open(name string, version uint64) (*Request, error) {
	if !validName(name) {
		return nil, domError(ErrData, "invalid database name %q", name)
	}
	if version == 0 {
		return nil, domError(ErrData, "version must be positive")
	}
	req := &Request{loop: f.loop, database: name, op: "open"}
	if err := f.loop.Post(func() { f.open(req, name, version) }); err != nil {
		return nil, err
	}
	return req, nil
}

func (f *Factory) open(req *Request, name string, version uint64) {
	old, err := f.storedVersion(name)
	if err != nil {
		req.fail(engineError(err))
		return
	}
	if version < old {
		req.fail(domError(ErrVersion, "requested version %d is less than the existing version %d", version, old))
		return
	}
	d, err := f.load(name, old)
	if err != nil {
		req.fail(engineError(err))
		return
	}
	if version == old {
		f.log.Debug("database opened", "db", name, "version", version)
		req.succeed(d)
		return
	}

	d.version = version
	t := newTransaction(d, nil, VersionChange)
	t.oldVersion = old
	d.upgrade = t
	req.txn, req.result = t, d
	t.finish = func(aborted bool) {
		d.upgrade = nil
		req.txn = nil
		if aborted {
			d.closed = true
			err := t.err
			if err == nil {
				err = domError(ErrAbort, "upgrade of %q was aborted", name)
			}
			f.log.Warn("database upgrade aborted", "db", name, "from", old, "to", version, "error", err)
			req.fail(err)
			return
		}
		f.log.Info("database upgraded", "db", name, "from", old, "to", version)
		req.succeed(d)
	}

	req.listeners.fire(&Event{
		Type:        EventUpgradeNeeded,
		Request:     req,
		Transaction: t,
		OldVersion:  old,
		NewVersion:  version,
	})
}

func (f *Factory) storedVersion(name string) (uint64, error) {
	raw, err := f.engine.Get(db.DefaultColumnFamily, versionKey(name))
	switch {
	case errors.Is(err, db.ErrKeyNotFound):
		return 0, nil
	case err != nil:
		return 0, err
	}
	return decodeVersion(raw)
}

func (f *Factory) load(name string, version uint64) (*Database, error) {
	d := &Database{factory: f, name: name, version: version, stores: make(map[string]struct{})}
	cfs, err := f.engine.ColumnFamilies()
	if err != nil {
		return nil, err
	}
	prefix := name + storeSep
	for _, cf := range cfs {
		if store, ok := strings.CutPrefix(cf, prefix); ok {
			d.stores[store] = struct{}{}
		}
	}
	return d, nil
}

// DeleteDatabase requests removal of name and all its stores. Deleting a
// database that does not exist succeeds.
func (f *Factory) DeleteDatabase(name string) (*Request, error) {
	if !validName(name) {
		return nil, domError(ErrData, "invalid database name %q", name)
	}
	req := &Request{loop: f.loop, database: name, op: "deleteDatabase"}
	err := f.loop.Post(func() {
		if err := f.deleteDatabase(name); err != nil {
			req.fail(engineError(err))
			return
		}
		f.log.Info("database deleted", "db", name)
		req.succeed(nil)
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (f *Factory) deleteDatabase(name string) error {
	cfs, err := f.engine.ColumnFamilies()
	if err != nil {
		return err
	}
	var errs []error
	for _, cf := range cfs {
		if strings.HasPrefix(cf, name+storeSep) {
			errs = append(errs, f.engine.DropColumnFamily(cf))
		}
	}
	errs = append(errs, f.engine.Delete(db.DefaultColumnFamily, versionKey(name)))
	return errors.Join(errs...)
}

// Databases lists the names of existing databases, sorted.
func (f *Factory) Databases() ([]string, error) {
	it, err := f.engine.NewIterator(db.DefaultColumnFamily)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var names []string
	for it.Seek(versionPrefix); it.Valid(); it.Next() {
		k := it.Key()
		if !bytes.HasPrefix(k, versionPrefix) {
			break
		}
		names = append(names, string(k[len(versionPrefix):]))
	}
	return names, it.Err()
}
