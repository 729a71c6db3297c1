package host

import "bytes"

// ObjectStore issues requests against one store within one transaction.
// Keys are compared bytewise.
type ObjectStore struct {
	txn  *Transaction
	name string
}

// Name is the store's name.
func (s *ObjectStore) Name() string { return s.name }

// Transaction is the transaction the handle belongs to.
func (s *ObjectStore) Transaction() *Transaction { return s.txn }

// check runs the synchronous preconditions every request shares.
func (s *ObjectStore) check(write bool) *DOMError {
	if !s.txn.db.hasStore(s.name) {
		return domError(ErrInvalidState, "object store %q has been deleted", s.name)
	}
	if !s.txn.Active() {
		return domError(ErrTransactionInactive, "transaction %s is not active", s.txn.id)
	}
	if write && s.txn.mode == ReadOnly {
		return domError(ErrReadOnly, "transaction is read-only")
	}
	return nil
}

func checkKey(key []byte) *DOMError {
	if len(key) == 0 {
		return domError(ErrData, "key must not be empty")
	}
	return nil
}

func (s *ObjectStore) request(op string, write bool, exec func() (any, *DOMError)) (*Request, error) {
	if err := s.check(write); err != nil {
		return nil, err
	}
	return s.txn.issue(s.name, op, exec), nil
}

func (s *ObjectStore) keyed(op string, write bool, key []byte, exec func() (any, *DOMError)) (*Request, error) {
	if err := s.check(write); err != nil {
		return nil, err
	}
	if err := checkKey(key); err != nil {
		return nil, err
	}
	return s.txn.issue(s.name, op, exec), nil
}

// Get looks up key. The result is the value, or nil if key is absent.
func (s *ObjectStore) Get(key []byte) (*Request, error) {
	key = bytes.Clone(key)
	return s.keyed("get", false, key, func() (any, *DOMError) {
		v, _, err := s.txn.get(s.name, key)
		if err != nil {
			return nil, err
		}
		return v, nil
	})
}

// Put writes value under key, replacing any existing value. The result is
// the key.
func (s *ObjectStore) Put(key, value []byte) (*Request, error) {
	key, value = bytes.Clone(key), cloneValue(value)
	return s.keyed("put", true, key, func() (any, *DOMError) {
		s.txn.put(s.name, key, value)
		return key, nil
	})
}

// Add writes value under key. The request fails with ConstraintError when
// key already exists, which aborts the transaction unless prevented.
func (s *ObjectStore) Add(key, value []byte) (*Request, error) {
	key, value = bytes.Clone(key), cloneValue(value)
	return s.keyed("add", true, key, func() (any, *DOMError) {
		_, exists, err := s.txn.get(s.name, key)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, domError(ErrConstraint, "key %x already exists in %q", key, s.name)
		}
		s.txn.put(s.name, key, value)
		return key, nil
	})
}

// Delete removes key. Removing an absent key succeeds.
func (s *ObjectStore) Delete(key []byte) (*Request, error) {
	key = bytes.Clone(key)
	return s.keyed("delete", true, key, func() (any, *DOMError) {
		s.txn.del(s.name, key)
		return nil, nil
	})
}

// Clear removes every key in the store.
func (s *ObjectStore) Clear() (*Request, error) {
	return s.request("clear", true, func() (any, *DOMError) {
		s.txn.clear(s.name)
		return nil, nil
	})
}

// Count counts keys inside rng (all keys when rng is nil). The result is a
// uint64.
func (s *ObjectStore) Count(rng *KeyRange) (*Request, error) {
	return s.request("count", false, func() (any, *DOMError) {
		var n uint64
		from, inclusive := rng.start(Next)
		for {
			k, _, ok, err := s.txn.seek(s.name, from, inclusive, Next)
			if err != nil {
				return nil, err
			}
			if !ok || rng.past(k, Next) {
				return n, nil
			}
			n++
			from, inclusive = k, false
		}
	})
}

// OpenCursor opens a cursor over rng walking in dir. The request succeeds
// once per cursor position with the *Cursor, and with nil when the range is
// exhausted.
func (s *ObjectStore) OpenCursor(rng *KeyRange, dir Direction) (*Request, error) {
	return s.openCursor("openCursor", rng, dir, false)
}

// OpenKeyCursor is OpenCursor without values.
func (s *ObjectStore) OpenKeyCursor(rng *KeyRange, dir Direction) (*Request, error) {
	return s.openCursor("openKeyCursor", rng, dir, true)
}

func (s *ObjectStore) openCursor(op string, rng *KeyRange, dir Direction, keyOnly bool) (*Request, error) {
	c := &Cursor{store: s, rng: rng, dir: dir, keyOnly: keyOnly}
	from, inclusive := rng.start(dir)
	req, err := s.request(op, false, func() (any, *DOMError) {
		return c.moveTo(from, inclusive, 1)
	})
	if err != nil {
		return nil, err
	}
	c.req = req
	return req, nil
}

// cloneValue keeps empty values non-nil so engines store them as present.
func cloneValue(v []byte) []byte {
	if v == nil {
		return []byte{}
	}
	return bytes.Clone(v)
}
