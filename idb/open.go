package idb

import (
	"github.com/beyondbrewing/brewery-idb/host"
)

// UpgradeFunc reshapes a database whose stored version is older than the
// requested one. It runs synchronously inside the upgrade, while txn is
// active. Returning an error aborts the upgrade.
type UpgradeFunc func(db *host.Database, txn *host.Transaction, oldVersion, newVersion uint64) error

// OpenDatabase opens name at version, running upgrade first when the stored
// version is lower. The future fails with an *OperationError when the open
// or the upgrade fails; for an upgrade that returned an error, that error is
// the one wrapped.
func (e *Env) OpenDatabase(name string, version uint64, upgrade UpgradeFunc) *Future[*host.Database] {
	req, err := e.factory.Open(name, version)
	if err != nil {
		return failed[*host.Database](e.loop, &OperationError{Database: name, Op: "open", Err: err})
	}

	var upgradeErr error
	req.AddListener(host.EventUpgradeNeeded, func(ev *host.Event) {
		if upgrade == nil {
			return
		}
		d, _ := req.Result().(*host.Database)
		if err := upgrade(d, ev.Transaction, ev.OldVersion, ev.NewVersion); err != nil {
			upgradeErr = err
			if abortErr := ev.Transaction.Abort(); abortErr != nil {
				e.log.Warn("failed to abort upgrade", "db", name, "error", abortErr)
			}
		}
	})

	return then(RequestAs[*host.Database](e, req), func(d *host.Database, err error) (*host.Database, error) {
		if err != nil && upgradeErr != nil {
			return nil, &OperationError{Database: name, Op: "upgrade", Err: upgradeErr}
		}
		if err == nil {
			e.log.Info("database open", "db", name, "version", d.Version())
		}
		return d, err
	})
}

// DeleteDatabase deletes name and everything in it.
func (e *Env) DeleteDatabase(name string) *Future[struct{}] {
	req, err := e.factory.DeleteDatabase(name)
	if err != nil {
		return failed[struct{}](e.loop, &OperationError{Database: name, Op: "deleteDatabase", Err: err})
	}
	return then(e.Request(req), func(_ any, err error) (struct{}, error) {
		return struct{}{}, err
	})
}
