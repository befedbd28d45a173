// Package storage holds the latest known content of each live document.
// Nothing is persisted: state lives only as long as the process.
package storage

import (
	"errors"
	"time"
)

// Common errors.
var (
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// Snapshot is the latest content seen for a document.
type Snapshot struct {
	DocID string `json:"documentId"`
	// Revision counts the updates seen; it says nothing about send order.
	Revision  int       `json:"revision"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store defines the interface for holding document snapshots.
type Store interface {
	// SaveSnapshot replaces the document's content and returns the new snapshot.
	SaveSnapshot(docID string, content string) (Snapshot, error)

	// LoadSnapshot retrieves the latest snapshot for a document.
	// Returns ErrSnapshotNotFound if nothing was saved for it.
	LoadSnapshot(docID string) (Snapshot, error)

	// DeleteSnapshot forgets a document. Deleting an unknown document is not an error.
	DeleteSnapshot(docID string) error

	// Documents returns the IDs of documents that have a snapshot.
	Documents() ([]string, error)
}
