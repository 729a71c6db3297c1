package idb

import (
	"context"

	"github.com/beyondbrewing/brewery-idb/host"
)

const (
	probeDatabase = "test-idb-needs-sync-promise"
	probeStore    = "test"
)

// DetectLegacyFlush checks whether the host commits transactions before
// continuations of their requests get to run, and if so switches the Env to
// the Eager strategy for good. It reports whether it did.
//
// The probe awaits two lookups in one read-only transaction with the
// Deferred strategy in force; on an affected host the second lookup finds
// the transaction already inactive. Only opening the probe database can
// fail the call. The probe database is left in place.
func (e *Env) DetectLegacyFlush(ctx context.Context) (bool, error) {
	var needed bool
	err := e.Run(ctx, func(ctx context.Context) error {
		e.flush = Deferred

		d, err := e.OpenDatabase(probeDatabase, 1, func(d *host.Database, _ *host.Transaction, _, _ uint64) error {
			_, err := d.CreateObjectStore(probeStore)
			return err
		}).Await(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		probeErr := e.probe(ctx, d)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if probeErr != nil {
			needed = true
			e.flush = Eager
		}
		e.log.Info("legacy flush probe finished", "eager", needed, "reason", probeErr)
		return nil
	})
	return needed, err
}

func (e *Env) probe(ctx context.Context, d *host.Database) error {
	txn, err := d.Transaction([]string{probeStore}, host.ReadOnly)
	if err != nil {
		return err
	}
	store, err := txn.ObjectStore(probeStore)
	if err != nil {
		return err
	}
	for _, n := range []uint32{1, 2} {
		req, err := store.Get([]byte(EncodeUint32(n)))
		if err != nil {
			return err
		}
		if _, err := e.Request(req).Await(ctx); err != nil {
			return err
		}
	}
	return nil
}
