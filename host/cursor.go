package host

import "bytes"

// Cursor is a position over a key range of one store. It is delivered as the
// result of its cursor request and becomes unusable once its transaction
// finishes. Each advancement re-arms the same request, which then settles
// again with the cursor at its new position, or with nil at the end.
type Cursor struct {
	store   *ObjectStore
	req     *Request
	rng     *KeyRange
	dir     Direction
	keyOnly bool

	key      []byte
	value    []byte
	gotValue bool
}

// Key is the key at the current position.
func (c *Cursor) Key() []byte { return c.key }

// Value is the value at the current position, or nil for key cursors.
func (c *Cursor) Value() []byte { return c.value }

// Direction is the order the cursor walks in.
func (c *Cursor) Direction() Direction { return c.dir }

// Request is the cursor's request.
func (c *Cursor) Request() *Request { return c.req }

// Continue advances to the next key in the cursor's direction.
func (c *Cursor) Continue() error {
	if err := c.checkAdvance(); err != nil {
		return err
	}
	from := c.key
	c.rearm(func() (any, *DOMError) { return c.moveTo(from, false, 1) })
	return nil
}

// ContinueTo advances to the first key at or beyond key in the cursor's
// direction. key must lie strictly beyond the current position.
func (c *Cursor) ContinueTo(key []byte) error {
	if err := c.checkAdvance(); err != nil {
		return err
	}
	cmp := bytes.Compare(key, c.key)
	if (c.dir == Next && cmp <= 0) || (c.dir == Prev && cmp >= 0) {
		return domError(ErrData, "key %x is not beyond the cursor position %x", key, c.key)
	}
	target := bytes.Clone(key)
	c.rearm(func() (any, *DOMError) { return c.moveTo(target, true, 1) })
	return nil
}

// Advance skips count positions.
func (c *Cursor) Advance(count uint) error {
	if count == 0 {
		return domError(ErrData, "advance count must be positive")
	}
	if err := c.checkAdvance(); err != nil {
		return err
	}
	from := c.key
	c.rearm(func() (any, *DOMError) { return c.moveTo(from, false, count) })
	return nil
}

func (c *Cursor) checkAdvance() *DOMError {
	if err := c.store.check(false); err != nil {
		return err
	}
	if !c.gotValue {
		return domError(ErrInvalidState, "cursor is advancing or exhausted")
	}
	return nil
}

func (c *Cursor) rearm(exec func() (any, *DOMError)) {
	c.gotValue = false
	c.store.txn.rearm(c.req, exec)
}

// moveTo steps count visible keys from `from` and returns the cursor, or nil
// once the range is exhausted.
func (c *Cursor) moveTo(from []byte, inclusive bool, count uint) (any, *DOMError) {
	var k, v []byte
	for ; count > 0; count-- {
		var ok bool
		var err *DOMError
		k, v, ok, err = c.store.txn.seek(c.store.name, from, inclusive, c.dir)
		if err != nil {
			return nil, err
		}
		if !ok || c.rng.past(k, c.dir) {
			c.key, c.value = nil, nil
			return nil, nil
		}
		from, inclusive = k, false
	}
	c.key = k
	c.value = nil
	if !c.keyOnly {
		c.value = v
	}
	c.gotValue = true
	return c, nil
}
