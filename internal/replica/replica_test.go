package replica_test

import (
	"testing"

	"github.com/serroba/livedoc/internal/outcome"
	"github.com/serroba/livedoc/internal/protocol"
	"github.com/serroba/livedoc/internal/replica"
	"github.com/stretchr/testify/require"
)

func newReplica(content string) (*replica.Replica, *replica.Buffer) {
	buf := replica.NewBuffer(content)

	return replica.New("doc-1", buf), buf
}

func ptr(s string) *string { return &s }

func TestReplica_ApplyTwiceIsNoOp(t *testing.T) {
	t.Parallel()

	r, _ := newReplica("")

	require.Equal(t, outcome.Applied, r.ApplyRemote("hello"))
	require.Equal(t, "hello", r.LastApplied())

	require.Equal(t, outcome.Ignored(outcome.DuplicateContent), r.ApplyRemote("hello"))
	require.Equal(t, "hello", r.LastApplied())
	require.Equal(t, "hello", r.Content())
}

func TestReplica_LastDeliveredWins(t *testing.T) {
	t.Parallel()

	// A sent X then Y; deliver Y first.
	r, _ := newReplica("")

	require.True(t, r.ApplyRemote("Y").Applied())
	require.True(t, r.ApplyRemote("X").Applied())

	require.Equal(t, "X", r.Content())
	require.Equal(t, "X", r.LastApplied())
}

func TestReplica_ApplyOperations(t *testing.T) {
	t.Parallel()

	r, _ := newReplica("")

	require.Equal(t, outcome.Ignored(outcome.NoOperations), r.ApplyOperations(nil))
	require.Equal(t, outcome.Ignored(outcome.NoOperations), r.ApplyOperations([]protocol.Operation{
		{Kind: protocol.OpReplace},
		{Kind: "insert", Content: ptr("ignored")},
	}))

	require.True(t, r.ApplyOperations([]protocol.Operation{
		protocol.Replace("first"),
		protocol.Replace("second"),
	}).Applied())
	require.Equal(t, "second", r.Content())

	require.Equal(t, outcome.Ignored(outcome.DuplicateContent),
		r.ApplyOperations([]protocol.Operation{protocol.Replace("second")}))
}

func TestReplica_EmptyReplaceClears(t *testing.T) {
	t.Parallel()

	r, _ := newReplica("")
	r.ApplyRemote("text")

	require.True(t, r.ApplyOperations([]protocol.Operation{protocol.Replace("")}).Applied())
	require.Equal(t, "", r.Content())
}

func TestReplica_LoadSnapshot(t *testing.T) {
	t.Parallel()

	r, _ := newReplica("")

	require.Equal(t, outcome.Ignored(outcome.EmptySnapshot), r.LoadSnapshot(""))
	require.True(t, r.LoadSnapshot("<p>state</p>").Applied())
	require.Equal(t, outcome.Ignored(outcome.DuplicateContent), r.LoadSnapshot("<p>state</p>"))
	require.Equal(t, "<p>state</p>", r.Content())
}

func TestReplica_CaptureLocal(t *testing.T) {
	t.Parallel()

	r, buf := newReplica("")

	if _, changed := r.CaptureLocal(); changed {
		t.Error("unchanged editor must not produce an update")
	}

	buf.SetContent("hello")

	content, changed := r.CaptureLocal()
	require.True(t, changed)
	require.Equal(t, "hello", content)
	require.Equal(t, "hello", r.LastApplied())

	if _, changed := r.CaptureLocal(); changed {
		t.Error("second capture of the same content must be de-duplicated")
	}

	// Content applied from a peer is not echoed back.
	r.ApplyRemote("from peer")

	if _, changed := r.CaptureLocal(); changed {
		t.Error("applied remote content must not be re-published")
	}
}

func TestReplica_RestoresSelection(t *testing.T) {
	t.Parallel()

	r, buf := newReplica("hello world")
	require.NoError(t, buf.SetSelection(replica.Selection{Start: 2, End: 5}))

	require.True(t, r.ApplyRemote("hello there world").Applied())

	sel, ok := buf.Selection()
	require.True(t, ok)
	require.Equal(t, replica.Selection{Start: 2, End: 5}, sel)
}

func TestReplica_ClearsStaleSelection(t *testing.T) {
	t.Parallel()

	r, buf := newReplica("hello world")
	require.NoError(t, buf.SetSelection(replica.Selection{Start: 6, End: 11}))

	require.True(t, r.ApplyRemote("hi").Applied())

	if _, ok := buf.Selection(); ok {
		t.Error("expected selection to be left unset when it no longer fits")
	}

	require.Equal(t, "hi", r.Content())
}

func TestReplica_NoSelectionStaysUnset(t *testing.T) {
	t.Parallel()

	r, buf := newReplica("abc")
	r.ApplyRemote("abcdef")

	if _, ok := buf.Selection(); ok {
		t.Error("no selection expected")
	}
}

func TestReplica_Reset(t *testing.T) {
	t.Parallel()

	r, _ := newReplica("")
	r.ApplyRemote("something")
	r.Reset()

	require.Equal(t, "", r.Content())
	require.Equal(t, "", r.LastApplied())
	require.Equal(t, "doc-1", r.DocumentID())
}

func TestBuffer_SetSelection(t *testing.T) {
	t.Parallel()

	buf := replica.NewBuffer("héllo")

	require.NoError(t, buf.SetSelection(replica.Selection{Start: 0, End: 5}))
	require.ErrorIs(t, buf.SetSelection(replica.Selection{Start: 0, End: 6}), replica.ErrInvalidRange)
	require.ErrorIs(t, buf.SetSelection(replica.Selection{Start: 3, End: 2}), replica.ErrInvalidRange)
	require.ErrorIs(t, buf.SetSelection(replica.Selection{Start: -1, End: 2}), replica.ErrInvalidRange)

	buf.ClearSelection()

	if _, ok := buf.Selection(); ok {
		t.Error("expected no selection after clear")
	}
}

func TestTextLength(t *testing.T) {
	t.Parallel()

	tests := []struct {
		content string
		want    int
	}{
		{"", 0},
		{"plain", 5},
		{"<p>Hello <b>world</b></p>", 11},
		{"<ul><li>one</li><li>two</li></ul>", 6},
		{"a &amp; b", 5},
		{"<div><br></div>", 0},
		{"naïve", 5},
	}

	for _, tt := range tests {
		if got := replica.TextLength(tt.content); got != tt.want {
			t.Errorf("TextLength(%q) = %d, want %d", tt.content, got, tt.want)
		}
	}
}
