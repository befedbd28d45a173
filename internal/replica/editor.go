package replica

import (
	"errors"
	"sync"
	"unicode/utf8"
)

// ErrInvalidRange is returned when a selection does not fit the content.
var ErrInvalidRange = errors.New("selection range is outside the content")

// Selection is a range of character offsets, Start <= End.
type Selection struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Editor is the editing surface a replica drives. Setting the content
// may drop the current selection.
type Editor interface {
	Content() string
	SetContent(content string)
	Selection() (Selection, bool)
	SetSelection(sel Selection) error
	ClearSelection()
}

// Buffer is an in-memory Editor. Replacing its content clears the selection.
type Buffer struct {
	mu      sync.Mutex
	content string
	sel     *Selection
}

// NewBuffer creates a buffer holding content.
func NewBuffer(content string) *Buffer {
	return &Buffer{content: content}
}

// Content returns the serialized content.
func (b *Buffer) Content() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.content
}

// SetContent replaces the content.
func (b *Buffer) SetContent(content string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.content = content
	b.sel = nil
}

// Selection returns the current selection, if any.
func (b *Buffer) Selection() (Selection, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sel == nil {
		return Selection{}, false
	}

	return *b.sel, true
}

// SetSelection selects a range of the content.
func (b *Buffer) SetSelection(sel Selection) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sel.Start < 0 || sel.End < sel.Start || sel.End > utf8.RuneCountInString(b.content) {
		return ErrInvalidRange
	}

	b.sel = &sel

	return nil
}

// ClearSelection removes the selection.
func (b *Buffer) ClearSelection() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sel = nil
}
