package relay

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Scheduler runs f after d. It stands in for the network's clock.
type Scheduler interface {
	AfterFunc(d time.Duration, f func())
}

// RealTime schedules on the wall clock.
type RealTime struct{}

// AfterFunc schedules f with time.AfterFunc.
func (RealTime) AfterFunc(d time.Duration, f func()) {
	time.AfterFunc(d, f)
}

// Link decides, independently for every (sender, receiver) pair and every
// message, how long a delivery takes and whether it is lost.
type Link interface {
	Plan(from, to string) (delay time.Duration, drop bool)
}

// Direct delivers immediately and never drops.
type Direct struct{}

// Plan implements Link.
func (Direct) Plan(_, _ string) (time.Duration, bool) {
	return 0, false
}

// RandomLink injects uncorrelated delays in [0, MaxDelay) and drops a
// DropRate fraction of deliveries.
type RandomLink struct {
	MaxDelay time.Duration
	DropRate float64

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRandomLink creates a fault injector. A nil rnd uses a time-seeded source.
func NewRandomLink(maxDelay time.Duration, dropRate float64, rnd *rand.Rand) *RandomLink {
	if rnd == nil {
		seed := uint64(time.Now().UnixNano())
		rnd = rand.New(rand.NewPCG(seed, seed>>1))
	}

	return &RandomLink{MaxDelay: maxDelay, DropRate: dropRate, rnd: rnd}
}

// Plan implements Link.
func (l *RandomLink) Plan(_, _ string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.DropRate > 0 && l.rnd.Float64() < l.DropRate {
		return 0, true
	}

	if l.MaxDelay <= 0 {
		return 0, false
	}

	return time.Duration(l.rnd.Int64N(int64(l.MaxDelay))), false
}
