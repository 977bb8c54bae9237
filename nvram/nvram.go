// Package nvram defines the persistence boundary the safety data store
// writes through for datums marked Persistent. The runtime never ships a
// concrete flash/EEPROM driver; callers supply one satisfying Store.
package nvram

import (
	"sync"

	"github.com/redlinetelematics/ecucore/ecoerr"
)

// Store is the non-volatile backing a safety datum can be written through.
type Store interface {
	Read(addr uint32, buf []byte) error
	Write(addr uint32, buf []byte) error
}

// MapBackend is an in-memory Store for tests and for targets without real
// NVRAM hardware wired up yet.
type MapBackend struct {
	mu   sync.Mutex
	data map[uint32][]byte
}

// NewMapBackend creates an empty in-memory backend.
func NewMapBackend() *MapBackend {
	return &MapBackend{data: make(map[uint32][]byte)}
}

// Read copies the stored bytes at addr into buf. It is an error if fewer
// bytes than len(buf) were ever written at addr.
func (m *MapBackend) Read(addr uint32, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.data[addr]
	if !ok || len(stored) < len(buf) {
		return ecoerr.New(ecoerr.KindTransient, "nvram_no_data_at_addr", ecoerr.ErrNotFound)
	}
	copy(buf, stored)
	return nil
}

// Write stores a copy of buf at addr, overwriting any prior value.
func (m *MapBackend) Write(addr uint32, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(buf))
	copy(stored, buf)
	m.data[addr] = stored
	return nil
}
