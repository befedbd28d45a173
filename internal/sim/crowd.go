// Package sim runs simulated participants that join a document and wander
// their cursors around, so a lone user has someone to collaborate with.
package sim

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"time"

	"github.com/serroba/livedoc/internal/channel"
	"github.com/serroba/livedoc/internal/collab"
	"github.com/serroba/livedoc/internal/protocol"
)

const (
	// DefaultInterval between cursor rounds.
	DefaultInterval = 2 * time.Second
	// DefaultMoveChance is the probability that a bot moves in a round.
	DefaultMoveChance = 0.3
)

// Cursor area, in viewport pixels.
const (
	minX, spanX = 50, 300
	minY, spanY = 50, 200
)

// Bots returns the default simulated participants.
func Bots() []protocol.Participant {
	return []protocol.Participant{
		{ID: "user2", DisplayName: "Alex Johnson", Color: "#34a853", Avatar: "A"},
		{ID: "user3", DisplayName: "Sam Davis", Color: "#fbbc05", Avatar: "S"},
	}
}

// Crowd drives a set of bot sessions on one document.
type Crowd struct {
	manager  *collab.Manager
	docID    string
	bots     []protocol.Participant
	interval time.Duration
	chance   float64
	rnd      *rand.Rand
}

// Config holds configuration for creating a crowd.
type Config struct {
	Manager    *collab.Manager
	DocumentID string

	// Bots defaults to Bots().
	Bots []protocol.Participant
	// Interval defaults to DefaultInterval.
	Interval time.Duration
	// MoveChance defaults to DefaultMoveChance; a negative value never moves.
	MoveChance float64
	// Rand defaults to a time-seeded source.
	Rand *rand.Rand
}

// NewCrowd creates a crowd. Nobody joins until Join or Run.
func NewCrowd(cfg Config) *Crowd {
	bots := cfg.Bots
	if len(bots) == 0 {
		bots = Bots()
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	chance := cfg.MoveChance
	if chance == 0 {
		chance = DefaultMoveChance
	}

	rnd := cfg.Rand
	if rnd == nil {
		seed := uint64(time.Now().UnixNano())
		rnd = rand.New(rand.NewPCG(seed, seed>>1))
	}

	return &Crowd{
		manager:  cfg.Manager,
		docID:    cfg.DocumentID,
		bots:     bots,
		interval: interval,
		chance:   chance,
		rnd:      rnd,
	}
}

// Join starts a session for every bot.
func (c *Crowd) Join() error {
	for _, bot := range c.bots {
		if _, err := c.manager.Join(c.docID, bot); err != nil {
			return fmt.Errorf("join %s: %w", bot.DisplayName, err)
		}
	}

	return nil
}

// Tick gives every connected bot one chance to move its cursor and returns
// how many moved. It must not be called concurrently.
func (c *Crowd) Tick() int {
	moved := 0

	for _, bot := range c.bots {
		s := c.manager.Session(bot.ID)
		if s == nil || s.State() != channel.Open {
			continue
		}

		if c.rnd.Float64() >= c.chance {
			continue
		}

		if o, err := s.MoveCursor(RandomPosition(c.rnd)); err == nil && o.Applied() {
			moved++
		}
	}

	return moved
}

// Leave makes every bot leave.
func (c *Crowd) Leave() {
	for _, bot := range c.bots {
		c.manager.Leave(bot.ID)
	}
}

// Run joins, moves cursors every interval, and leaves when ctx is done.
func (c *Crowd) Run(ctx context.Context) error {
	if err := c.Join(); err != nil {
		return err
	}
	defer c.Leave()

	log.Printf("crowd joined doc=%s bots=%d", c.docID, len(c.bots))

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Tick()
		}
	}
}

// RandomPosition picks a cursor position within the simulated area.
func RandomPosition(rnd *rand.Rand) protocol.Position {
	return protocol.Position{
		X: minX + rnd.Float64()*spanX,
		Y: minY + rnd.Float64()*spanY,
	}
}
