// Package upstream protects the rate-limited generative model behind retries
// and a process-wide circuit breaker.
package upstream

import (
	"sync"
	"time"
)

// BreakerConfig bounds the breaker cooldown.
type BreakerConfig struct {
	BaseCooldown time.Duration
	MaxCooldown  time.Duration
	Factor       float64
}

// DefaultBreakerConfig is 60s growing by 2x up to 10m.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		BaseCooldown: 60 * time.Second,
		MaxCooldown:  600 * time.Second,
		Factor:       2.0,
	}
}

// BreakerState is a point-in-time copy of the breaker.
type BreakerState struct {
	Open      bool          `json:"open"`
	OpenUntil time.Time     `json:"open_until"`
	Cooldown  time.Duration `json:"cooldown"`
}

// Breaker is a two-state (closed/open) circuit breaker whose cooldown grows
// on every trip and decays on every success, within [BaseCooldown, MaxCooldown].
// It is safe for concurrent use.
type Breaker struct {
	mu        sync.Mutex
	cfg       BreakerConfig
	openUntil time.Time
	cooldown  time.Duration
	now       func() time.Time
}

// NewBreaker creates a closed breaker. A nil clock uses time.Now.
func NewBreaker(cfg BreakerConfig, now func() time.Time) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.BaseCooldown <= 0 {
		cfg.BaseCooldown = def.BaseCooldown
	}
	if cfg.MaxCooldown < cfg.BaseCooldown {
		cfg.MaxCooldown = cfg.BaseCooldown
	}
	if cfg.Factor < 1 {
		cfg.Factor = def.Factor
	}
	if now == nil {
		now = time.Now
	}
	return &Breaker{cfg: cfg, cooldown: cfg.BaseCooldown, now: now}
}

// Allow reports whether a call may go out. When it may not, it also returns
// the time the breaker closes again.
func (b *Breaker) Allow() (bool, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.now().Before(b.openUntil) {
		return false, b.openUntil
	}
	return true, time.Time{}
}

// Trip opens the breaker for the current cooldown and then grows the cooldown.
// Tripping an already open breaker changes nothing, so concurrent callers
// that hit the same quota error count as one trip.
func (b *Breaker) Trip() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	if now.Before(b.openUntil) {
		return b.openUntil
	}
	b.openUntil = now.Add(b.cooldown)
	next := time.Duration(float64(b.cooldown) * b.cfg.Factor)
	if next > b.cfg.MaxCooldown {
		next = b.cfg.MaxCooldown
	}
	b.cooldown = next
	return b.openUntil
}

// Succeed decays the cooldown toward the floor.
func (b *Breaker) Succeed() {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := time.Duration(float64(b.cooldown) / b.cfg.Factor)
	if next < b.cfg.BaseCooldown {
		next = b.cfg.BaseCooldown
	}
	b.cooldown = next
}

// Quiet is true while the breaker is open and for one base cooldown after it
// closes. Background work such as summarization stays off while quiet.
func (b *Breaker) Quiet() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openUntil.IsZero() {
		return false
	}
	return b.now().Before(b.openUntil.Add(b.cfg.BaseCooldown))
}

// State returns a snapshot for health reporting and tests.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerState{
		Open:      b.now().Before(b.openUntil),
		OpenUntil: b.openUntil,
		Cooldown:  b.cooldown,
	}
}
