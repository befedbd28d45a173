package eventloop_test

import (
	"sync"
	"testing"
	"time"

	"github.com/serroba/livedoc/internal/eventloop"
	"github.com/stretchr/testify/require"
)

func TestLoop_RunsInPostOrder(t *testing.T) {
	t.Parallel()

	loop := eventloop.New()

	var (
		mu  sync.Mutex
		got []int
	)

	for i := range 100 {
		loop.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}

	loop.Stop()

	select {
	case <-loop.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not drain")
	}

	require.Len(t, got, 100)

	for i, v := range got {
		if v != i {
			t.Fatalf("position %d: expected %d, got %d", i, i, v)
		}
	}
}

func TestLoop_PostAfterStop(t *testing.T) {
	t.Parallel()

	loop := eventloop.New()
	loop.Stop()
	loop.Stop()

	if loop.Post(func() {}) {
		t.Error("expected Post to be refused after Stop")
	}
}

func TestLoop_CallbackMayPost(t *testing.T) {
	t.Parallel()

	loop := eventloop.New()
	done := make(chan struct{})

	loop.Post(func() {
		loop.Post(func() { close(done) })
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("nested post never ran")
	}
}

func TestLoop_StopIdleLoop(t *testing.T) {
	t.Parallel()

	loop := eventloop.New()
	loop.Stop()

	select {
	case <-loop.Done():
	default:
		t.Fatal("expected Done to be closed for a loop that never ran")
	}
}

func TestLoop_ResumesAfterDraining(t *testing.T) {
	t.Parallel()

	loop := eventloop.New()
	first := make(chan struct{})

	loop.Post(func() { close(first) })
	<-first

	// The queue drained; a later post starts draining again.
	second := make(chan struct{})
	loop.Post(func() { close(second) })

	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("post after an idle period never ran")
	}
}

func TestLoop_StopWaitsForRunningCallback(t *testing.T) {
	t.Parallel()

	loop := eventloop.New()
	started := make(chan struct{})
	release := make(chan struct{})

	loop.Post(func() {
		close(started)
		<-release
	})
	<-started

	loop.Stop()

	select {
	case <-loop.Done():
		t.Fatal("Done closed while a callback was running")
	default:
	}

	close(release)

	select {
	case <-loop.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not finish after the callback returned")
	}
}
