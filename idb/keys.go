package idb

import (
	"fmt"
	"strconv"
)

// EncodeUint32 renders n as 8 lowercase, zero-padded hex digits, so that
// keys compare bytewise in numeric order.
func EncodeUint32(n uint32) string {
	return fmt.Sprintf("%08x", n)
}

// EncodeUint64 is EncodeUint32 for 64-bit values such as timestamps. It
// renders 16 digits.
func EncodeUint64(n uint64) string {
	return fmt.Sprintf("%016x", n)
}

// DecodeUint32 parses a key produced by EncodeUint32.
func DecodeUint32(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("idb: decode uint32 key %q: %w", s, err)
	}
	return uint32(n), nil
}

// DecodeUint64 parses a key produced by EncodeUint64.
func DecodeUint64(s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("idb: decode uint64 key %q: %w", s, err)
	}
	return n, nil
}
