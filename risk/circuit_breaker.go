package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Breaker trips an exchange out of the batch after too many consecutive
// non-fills, and resets itself after cooldown. It tracks nothing but a
// streak counter — there is no equity/PnL concept at this layer, unlike the
// teacher's balance-driven breaker it descends from.
type Breaker struct {
	mu sync.Mutex

	maxConsecutiveLosses int
	cooldown             time.Duration

	consecutiveLosses int
	tripped           bool
	trippedAt         time.Time
}

// NewBreaker creates a breaker that trips after maxLosses consecutive
// non-fills and resets after cooldown.
func NewBreaker(maxLosses int, cooldown time.Duration) *Breaker {
	return &Breaker{maxConsecutiveLosses: maxLosses, cooldown: cooldown}
}

// IsTripped reports whether the breaker is currently open, resetting it
// first if its cooldown has elapsed.
func (b *Breaker) IsTripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tripped && time.Since(b.trippedAt) > b.cooldown {
		b.tripped = false
		b.consecutiveLosses = 0
		log.Info().Msg("risk breaker reset after cooldown")
	}
	return b.tripped
}

// RecordLoss records a non-fill outcome, tripping the breaker once the
// consecutive count reaches the configured threshold.
func (b *Breaker) RecordLoss() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveLosses++
	if b.consecutiveLosses >= b.maxConsecutiveLosses && !b.tripped {
		b.tripped = true
		b.trippedAt = time.Now()
		log.Warn().Int("consecutive_losses", b.consecutiveLosses).Msg("risk breaker tripped")
	}
}

// RecordWin resets the consecutive-loss streak.
func (b *Breaker) RecordWin() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveLosses = 0
}
