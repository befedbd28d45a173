// Package eventloop runs callbacks one at a time, in the order they were
// posted, on a single goroutine.
package eventloop

import "sync"

// Loop is an unbounded FIFO mailbox. Posting never blocks, so timers and
// network readers can post freely.
//
// A goroutine drains the queue only while it is non-empty, so an idle loop
// holds no goroutine and a loop that is never stopped does not leak one.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	running bool
	stopped bool
	done    chan struct{}
}

// New creates an idle loop.
func New() *Loop {
	return &Loop{done: make(chan struct{})}
}

// Post schedules f. It reports false once the loop is stopped.
func (l *Loop) Post(f func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return false
	}

	l.queue = append(l.queue, f)

	if !l.running {
		l.running = true

		go l.run()
	}

	return true
}

// Stop refuses new callbacks. Callbacks already posted still run.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return
	}

	l.stopped = true

	if !l.running {
		close(l.done)
	}
}

// Done is closed after Stop once the queue has drained.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) run() {
	for {
		l.mu.Lock()

		if len(l.queue) == 0 {
			l.running = false

			if l.stopped {
				close(l.done)
			}

			l.mu.Unlock()

			return
		}

		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, f := range batch {
			f()
		}
	}
}
