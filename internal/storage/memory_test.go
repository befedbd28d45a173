package storage_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/serroba/livedoc/internal/storage"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SaveAndLoad(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()

	snap, err := store.SaveSnapshot("doc1", "hello")
	require.NoError(t, err)

	if snap.Revision != 1 {
		t.Errorf("expected revision 1, got %d", snap.Revision)
	}

	loaded, err := store.LoadSnapshot("doc1")
	require.NoError(t, err)

	if loaded.Content != "hello" {
		t.Errorf("expected content 'hello', got %q", loaded.Content)
	}

	if loaded.DocID != "doc1" {
		t.Errorf("expected docID doc1, got %s", loaded.DocID)
	}

	if loaded.UpdatedAt.IsZero() {
		t.Error("expected update time to be set")
	}
}

func TestMemoryStore_SaveReplaces(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()

	_, err := store.SaveSnapshot("doc1", "first")
	require.NoError(t, err)

	snap, err := store.SaveSnapshot("doc1", "second")
	require.NoError(t, err)

	if snap.Revision != 2 {
		t.Errorf("expected revision 2, got %d", snap.Revision)
	}

	loaded, err := store.LoadSnapshot("doc1")
	require.NoError(t, err)

	if loaded.Content != "second" {
		t.Errorf("expected content 'second', got %q", loaded.Content)
	}
}

func TestMemoryStore_LoadSnapshot_NotFound(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()

	_, err := store.LoadSnapshot("nonexistent")
	if !errors.Is(err, storage.ErrSnapshotNotFound) {
		t.Errorf("expected ErrSnapshotNotFound, got %v", err)
	}
}

func TestMemoryStore_DeleteSnapshot(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()

	_, err := store.SaveSnapshot("doc1", "hello")
	require.NoError(t, err)

	require.NoError(t, store.DeleteSnapshot("doc1"))
	require.NoError(t, store.DeleteSnapshot("doc1"))

	_, err = store.LoadSnapshot("doc1")
	require.ErrorIs(t, err, storage.ErrSnapshotNotFound)

	// Revisions restart after a delete.
	snap, err := store.SaveSnapshot("doc1", "again")
	require.NoError(t, err)
	require.Equal(t, 1, snap.Revision)
}

func TestMemoryStore_Documents(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()

	for _, id := range []string{"b", "a", "c"} {
		_, err := store.SaveSnapshot(id, id)
		require.NoError(t, err)
	}

	ids, err := store.Documents()
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()

	var wg sync.WaitGroup

	for i := range 10 {
		wg.Add(1)

		go func(n int) {
			defer wg.Done()

			_, err := store.SaveSnapshot("doc1", fmt.Sprintf("v%d", n))
			if err != nil {
				t.Errorf("save: %v", err)
			}

			_, _ = store.LoadSnapshot("doc1")
		}(i)
	}

	wg.Wait()

	snap, err := store.LoadSnapshot("doc1")
	require.NoError(t, err)

	if snap.Revision != 10 {
		t.Errorf("expected revision 10, got %d", snap.Revision)
	}
}
