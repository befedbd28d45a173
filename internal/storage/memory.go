package storage

import (
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of the Store interface.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]Snapshot
	now  func() time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]Snapshot),
		now:  time.Now,
	}
}

// SaveSnapshot replaces the document's content.
func (m *MemoryStore) SaveSnapshot(docID string, content string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		DocID:     docID,
		Revision:  m.docs[docID].Revision + 1,
		Content:   content,
		UpdatedAt: m.now(),
	}

	m.docs[docID] = snap

	return snap, nil
}

// LoadSnapshot retrieves the latest snapshot for a document.
func (m *MemoryStore) LoadSnapshot(docID string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, exists := m.docs[docID]
	if !exists {
		return Snapshot{}, ErrSnapshotNotFound
	}

	return snap, nil
}

// DeleteSnapshot forgets a document.
func (m *MemoryStore) DeleteSnapshot(docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.docs, docID)

	return nil
}

// Documents returns the IDs of stored documents, sorted.
func (m *MemoryStore) Documents() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.docs))
	for id := range m.docs {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids, nil
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
