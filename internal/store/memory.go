package store

import "sync"

// Memory is an in-memory ByteStore for tests.
type Memory struct {
	mu   sync.Mutex
	data []byte

	// Written counts bytes that actually changed on Store.
	Written int

	// LoadErr and StoreErr, when set, are returned by the next calls.
	LoadErr  error
	StoreErr error
}

// NewMemory creates an erased Memory of the given size.
func NewMemory(size int) *Memory {
	data := make([]byte, size)
	for i := range data {
		data[i] = erased
	}
	return &Memory{data: data}
}

// Load implements ByteStore.
func (m *Memory) Load(addr, size int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	if err := checkRange(addr, size, len(m.data)); err != nil {
		return nil, err
	}
	out := make([]byte, size)
	copy(out, m.data[addr:])
	return out, nil
}

// Store implements ByteStore.
func (m *Memory) Store(addr int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StoreErr != nil {
		return m.StoreErr
	}
	if err := checkRange(addr, len(data), len(m.data)); err != nil {
		return err
	}
	for i, b := range data {
		if m.data[addr+i] != b {
			m.data[addr+i] = b
			m.Written++
		}
	}
	return nil
}

// Corrupt overwrites bytes without counting them as writes.
func (m *Memory) Corrupt(addr int, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy(m.data[addr:], data)
}
