// Package bridge joins relay nodes through Redis pub/sub, so participants
// connected to different nodes share a room.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/ksuid"
	"github.com/serroba/livedoc/internal/relay"
)

const (
	defaultPrefix  = "livedoc"
	publishTimeout = 2 * time.Second
)

// Envelope is what travels over Redis.
type Envelope struct {
	Node string `json:"node"`
	From string `json:"from"`
	Data []byte `json:"data"`
}

// Redis forwards locally published messages to Redis and injects messages
// from other nodes into the local relay.
type Redis struct {
	rdb    *redis.Client
	relay  *relay.Relay
	node   string
	prefix string
}

// Config holds configuration for creating a bridge.
type Config struct {
	Client *redis.Client
	Relay  *relay.Relay

	// Node identifies this relay node. Defaults to a fresh ksuid.
	Node string
	// Prefix of the Redis channels. Defaults to "livedoc".
	Prefix string
}

// New creates a bridge and attaches it to the relay.
func New(cfg Config) *Redis {
	node := cfg.Node
	if node == "" {
		node = ksuid.New().String()
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}

	b := &Redis{
		rdb:    cfg.Client,
		relay:  cfg.Relay,
		node:   node,
		prefix: prefix,
	}

	cfg.Relay.Observe(b)

	return b
}

// Node returns this node's ID.
func (b *Redis) Node() string {
	return b.node
}

// Channel returns the Redis channel of a room.
func (b *Redis) Channel(room string) string {
	return b.prefix + ":" + room
}

// Registered implements relay.Observer.
func (b *Redis) Registered(string, string) {}

// Unregistered implements relay.Observer.
func (b *Redis) Unregistered(string, string) {}

// Published forwards a local message to the other nodes.
func (b *Redis) Published(room, from string, data []byte) {
	payload, err := json.Marshal(Envelope{Node: b.node, From: from, Data: data})
	if err != nil {
		log.Printf("bridge: encode envelope room=%s: %v", room, err)

		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := b.rdb.Publish(ctx, b.Channel(room), payload).Err(); err != nil {
		log.Printf("bridge: publish room=%s: %v", room, err)
	}
}

// Run subscribes to every room channel and injects remote messages until ctx
// is done.
func (b *Redis) Run(ctx context.Context) error {
	sub := b.rdb.PSubscribe(ctx, b.prefix+":*")
	defer sub.Close()

	// Wait for the subscription to be confirmed.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("bridge: subscribe: %w", err)
	}

	log.Printf("bridge subscribed node=%s pattern=%s:*", b.node, b.prefix)

	ch := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			b.HandleMessage(msg)
		}
	}
}

// HandleMessage injects one Redis message into the local relay. Messages
// from this node and undecodable envelopes are skipped.
func (b *Redis) HandleMessage(msg *redis.Message) {
	room, ok := strings.CutPrefix(msg.Channel, b.prefix+":")
	if !ok || room == "" {
		return
	}

	var env Envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		log.Printf("bridge: dropping envelope channel=%s: %v", msg.Channel, err)

		return
	}

	if env.Node == b.node {
		return
	}

	b.relay.Inject(room, env.From, env.Data)
}

var _ relay.Observer = (*Redis)(nil)
