// Package replica holds a client's copy of the shared document and decides
// whether an incoming update is applied.
//
// Updates carry the whole document. The last update delivered to a replica
// wins for that replica; there is no causality tracking.
package replica

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/serroba/livedoc/internal/outcome"
	"github.com/serroba/livedoc/internal/protocol"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Replica is one client's copy of a document.
type Replica struct {
	documentID string
	editor     Editor

	mu          sync.Mutex
	lastApplied string
}

// New creates a replica of documentID backed by editor.
func New(documentID string, editor Editor) *Replica {
	return &Replica{
		documentID: documentID,
		editor:     editor,
	}
}

// DocumentID returns the ID of the replicated document.
func (r *Replica) DocumentID() string {
	return r.documentID
}

// Content returns the editor's current content.
func (r *Replica) Content() string {
	return r.editor.Content()
}

// LastApplied returns the content this client last published or applied.
func (r *Replica) LastApplied() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.lastApplied
}

// CaptureLocal records a local edit. It returns the content and whether it
// differs from what was last published or applied, i.e. whether it should
// be broadcast.
func (r *Replica) CaptureLocal() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	content := r.editor.Content()
	if content == r.lastApplied {
		return content, false
	}

	r.lastApplied = content

	return content, true
}

// ApplyRemote overwrites the local content with a remote update.
func (r *Replica) ApplyRemote(content string) outcome.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.replace(content)
}

// ApplyOperations applies the replace operations of a content-update in
// order. Replaces without content and unknown operation kinds are skipped.
func (r *Replica) ApplyOperations(ops []protocol.Operation) outcome.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := outcome.Ignored(outcome.NoOperations)
	applied := false

	for _, op := range ops {
		if op.Kind != protocol.OpReplace || op.Content == nil {
			continue
		}

		if res := r.replace(*op.Content); res.Applied() {
			applied = true
		} else if !applied {
			result = res
		}
	}

	if applied {
		return outcome.Applied
	}

	return result
}

// LoadSnapshot loads a document snapshot unless it is empty or already applied.
func (r *Replica) LoadSnapshot(content string) outcome.Outcome {
	if content == "" {
		return outcome.Ignored(outcome.EmptySnapshot)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.replace(content)
}

// replace swaps the content, keeping the local selection when it still fits.
func (r *Replica) replace(content string) outcome.Outcome {
	if content == r.lastApplied {
		return outcome.Ignored(outcome.DuplicateContent)
	}

	sel, hadSelection := r.editor.Selection()

	r.editor.SetContent(content)
	r.lastApplied = content

	if hadSelection {
		if err := r.editor.SetSelection(sel); err != nil {
			r.editor.ClearSelection()
		}
	}

	return outcome.Applied
}

// Reset empties the replica, as for a fresh session.
func (r *Replica) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.editor.SetContent("")
	r.lastApplied = ""
}

// TextLength returns the number of characters in the text of content, with
// markup stripped and entities decoded.
func TextLength(content string) int {
	context := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}

	nodes, err := html.ParseFragment(strings.NewReader(content), context)
	if err != nil {
		return utf8.RuneCountInString(content)
	}

	n := 0
	for _, node := range nodes {
		n += textLength(node)
	}

	return n
}

func textLength(n *html.Node) int {
	if n.Type == html.TextNode {
		return utf8.RuneCountInString(n.Data)
	}

	total := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		total += textLength(c)
	}

	return total
}
