package host

import "bytes"

// Direction is the order a cursor walks its range in.
type Direction int

const (
	// Next walks keys in ascending order.
	Next Direction = iota
	// Prev walks keys in descending order.
	Prev
)

func (d Direction) String() string {
	if d == Prev {
		return "prev"
	}
	return "next"
}

// KeyRange bounds the keys a cursor or count visits. A nil Lower or Upper
// is unbounded; a nil *KeyRange matches every key.
type KeyRange struct {
	Lower     []byte
	Upper     []byte
	LowerOpen bool
	UpperOpen bool
}

// Only matches exactly key.
func Only(key []byte) *KeyRange {
	return &KeyRange{Lower: key, Upper: key}
}

// LowerBound matches keys >= key, or > key when open.
func LowerBound(key []byte, open bool) *KeyRange {
	return &KeyRange{Lower: key, LowerOpen: open}
}

// UpperBound matches keys <= key, or < key when open.
func UpperBound(key []byte, open bool) *KeyRange {
	return &KeyRange{Upper: key, UpperOpen: open}
}

// Bound matches keys between lower and upper. It fails with DataError when
// lower > upper, or when they are equal and either end is open.
func Bound(lower, upper []byte, lowerOpen, upperOpen bool) (*KeyRange, error) {
	switch c := bytes.Compare(lower, upper); {
	case c > 0:
		return nil, domError(ErrData, "lower bound is greater than upper bound")
	case c == 0 && (lowerOpen || upperOpen):
		return nil, domError(ErrData, "empty range with equal bounds")
	}
	return &KeyRange{Lower: lower, Upper: upper, LowerOpen: lowerOpen, UpperOpen: upperOpen}, nil
}

// Includes reports whether key lies inside the range.
func (r *KeyRange) Includes(key []byte) bool {
	return r.aboveLower(key) && r.belowUpper(key)
}

func (r *KeyRange) aboveLower(key []byte) bool {
	if r == nil || r.Lower == nil {
		return true
	}
	c := bytes.Compare(key, r.Lower)
	return c > 0 || (c == 0 && !r.LowerOpen)
}

func (r *KeyRange) belowUpper(key []byte) bool {
	if r == nil || r.Upper == nil {
		return true
	}
	c := bytes.Compare(key, r.Upper)
	return c < 0 || (c == 0 && !r.UpperOpen)
}

// start returns where a cursor walking in dir begins.
func (r *KeyRange) start(dir Direction) (key []byte, inclusive bool) {
	if r == nil {
		return nil, true
	}
	if dir == Prev {
		return r.Upper, !r.UpperOpen
	}
	return r.Lower, !r.LowerOpen
}

// past reports whether key lies beyond the far end of the range for dir.
func (r *KeyRange) past(key []byte, dir Direction) bool {
	if dir == Prev {
		return !r.aboveLower(key)
	}
	return !r.belowUpper(key)
}
