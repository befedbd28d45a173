// Package activity publishes relay activity metadata to Kafka. Message
// contents never leave the relay; only who did what, where, and how much.
package activity

import (
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"
	"github.com/serroba/livedoc/internal/protocol"
	"github.com/serroba/livedoc/internal/relay"
)

// Event kinds besides message tags.
const (
	KindRegistered   = "registered"
	KindUnregistered = "unregistered"
	KindMalformed    = "malformed"
)

// Event is one activity record.
type Event struct {
	DocumentID string    `json:"documentId"`
	Endpoint   string    `json:"endpoint"`
	Kind       string    `json:"kind"`
	Bytes      int       `json:"bytes,omitempty"`
	At         time.Time `json:"at"`
}

// Dispatcher queues events locally and sends them from background workers
// with bounded retries. A full queue drops events instead of blocking the relay.
type Dispatcher struct {
	producer sarama.SyncProducer
	topic    string

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	wg     sync.WaitGroup

	maxRetry       int
	initialBackoff time.Duration
	maxBackoff     time.Duration

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Options tunes a dispatcher. Zero fields take defaults.
type Options struct {
	QueueSize      int
	Workers        int
	MaxRetry       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// NewDispatcher creates a dispatcher and starts its workers.
func NewDispatcher(producer sarama.SyncProducer, topic string, opt Options) *Dispatcher {
	if opt.QueueSize <= 0 {
		opt.QueueSize = 1024
	}

	if opt.Workers <= 0 {
		opt.Workers = 2
	}

	if opt.InitialBackoff <= 0 {
		opt.InitialBackoff = 100 * time.Millisecond
	}

	if opt.MaxBackoff <= 0 {
		opt.MaxBackoff = 2 * time.Second
	}

	d := &Dispatcher{
		producer:       producer,
		topic:          topic,
		queue:          make(chan Event, opt.QueueSize),
		maxRetry:       opt.MaxRetry,
		initialBackoff: opt.InitialBackoff,
		maxBackoff:     opt.MaxBackoff,
	}

	for i := range opt.Workers {
		d.wg.Add(1)

		go d.workerLoop(i)
	}

	return d
}

// Enqueue adds an event without blocking. It reports false when the event
// was dropped.
func (d *Dispatcher) Enqueue(evt Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.dropped.Add(1)

		return false
	}

	select {
	case d.queue <- evt:
		return true
	default:
		d.dropped.Add(1)

		return false
	}
}

// Close stops accepting events and waits for queued ones to be sent.
// The producer is left open.
func (d *Dispatcher) Close() {
	d.mu.Lock()

	if d.closed {
		d.mu.Unlock()

		return
	}

	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

// Sent returns the number of events delivered to Kafka.
func (d *Dispatcher) Sent() uint64 {
	return d.sent.Load()
}

// Dropped returns the number of events given up on.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

func (d *Dispatcher) workerLoop(workerID int) {
	defer d.wg.Done()

	for evt := range d.queue {
		d.sendWithRetry(workerID, evt)
	}
}

func (d *Dispatcher) sendWithRetry(workerID int, evt Event) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.initialBackoff
	b.MaxInterval = d.maxBackoff
	b.MaxElapsedTime = 0

	err := backoff.Retry(func() error {
		return d.sendOnce(evt)
	}, backoff.WithMaxRetries(b, uint64(d.maxRetry)))
	if err != nil {
		d.dropped.Add(1)
		log.Printf("kafka send failed, drop event doc=%s kind=%s worker=%d err=%v",
			evt.DocumentID, evt.Kind, workerID, err)

		return
	}

	d.sent.Add(1)
}

func (d *Dispatcher) sendOnce(evt Event) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: d.topic,
		Key:   sarama.StringEncoder(evt.DocumentID),
		Value: sarama.ByteEncoder(value),
	}

	_, _, err = d.producer.SendMessage(msg)

	return err
}

// Registered implements relay.Observer.
func (d *Dispatcher) Registered(room, id string) {
	d.Enqueue(Event{DocumentID: room, Endpoint: id, Kind: KindRegistered, At: time.Now()})
}

// Unregistered implements relay.Observer.
func (d *Dispatcher) Unregistered(room, id string) {
	d.Enqueue(Event{DocumentID: room, Endpoint: id, Kind: KindUnregistered, At: time.Now()})
}

// Published implements relay.Observer.
func (d *Dispatcher) Published(room, from string, data []byte) {
	kind := KindMalformed
	if t, err := protocol.PeekType(data); err == nil && t != "" {
		kind = string(t)
	}

	d.Enqueue(Event{DocumentID: room, Endpoint: from, Kind: kind, Bytes: len(data), At: time.Now()})
}

var _ relay.Observer = (*Dispatcher)(nil)
