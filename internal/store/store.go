// Package store provides the non-volatile byte storage the configuration
// record lives in: an emulated EEPROM backed by SQLite on the device and an
// in-memory implementation for tests.
package store

import (
	"errors"
	"fmt"
)

// DefaultSize is the emulated EEPROM capacity in bytes.
const DefaultSize = 1024

// erased is the value of a byte that has never been written.
const erased = 0xFF

// ErrOutOfRange is returned when an access falls outside the store.
var ErrOutOfRange = errors.New("address out of range")

// ByteStore is a small addressable non-volatile memory.
type ByteStore interface {
	// Load returns size bytes starting at addr. Unwritten bytes read as 0xFF.
	Load(addr, size int) ([]byte, error)
	// Store writes data at addr. Implementations only write bytes that differ.
	Store(addr int, data []byte) error
}

func checkRange(addr, size, capacity int) error {
	if addr < 0 || size < 0 || addr+size > capacity {
		return fmt.Errorf("%w: [%d, %d) of %d", ErrOutOfRange, addr, addr+size, capacity)
	}
	return nil
}
