package settings

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemorySource keeps raw values in a map. Safe for concurrent use.
type MemorySource struct {
	mu     sync.RWMutex
	values map[uuid.UUID]map[string]string
}

func NewMemorySource() *MemorySource {
	return &MemorySource{values: make(map[uuid.UUID]map[string]string)}
}

// NewMemory returns a Store backed by a fresh MemorySource, plus the source
// so tests can set values.
func NewMemory() (*Store, *MemorySource) {
	src := NewMemorySource()
	return NewStore(src), src
}

func (m *MemorySource) Lookup(_ context.Context, clinicID uuid.UUID, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[clinicID][key]
	return v, ok, nil
}

func (m *MemorySource) Set(clinicID uuid.UUID, key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values[clinicID] == nil {
		m.values[clinicID] = make(map[string]string)
	}
	m.values[clinicID][key] = value
}

func (m *MemorySource) Put(_ context.Context, clinicID uuid.UUID, key, value string) error {
	m.Set(clinicID, key, value)
	return nil
}

func (m *MemorySource) Delete(clinicID uuid.UUID, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values[clinicID], key)
}
