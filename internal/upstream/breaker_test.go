package upstream

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestBreakerTripAndDecay(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	b := NewBreaker(BreakerConfig{BaseCooldown: time.Minute, MaxCooldown: 10 * time.Minute, Factor: 2}, clock.Now)

	start := clock.Now()
	until := b.Trip()
	if !until.Equal(start.Add(time.Minute)) {
		t.Fatalf("expected openUntil now+60s, got %v", until.Sub(start))
	}
	if got := b.State().Cooldown; got != 2*time.Minute {
		t.Fatalf("expected next cooldown 120s, got %v", got)
	}

	clock.Advance(10 * time.Second)
	if ok, _ := b.Allow(); ok {
		t.Fatal("breaker must stay open before openUntil")
	}

	clock.Advance(51 * time.Second)
	if ok, _ := b.Allow(); !ok {
		t.Fatal("breaker must close after openUntil")
	}

	b.Succeed()
	if got := b.State().Cooldown; got != time.Minute {
		t.Fatalf("expected cooldown to decay to 60s, got %v", got)
	}
	b.Succeed()
	if got := b.State().Cooldown; got != time.Minute {
		t.Fatalf("cooldown must hold at the floor, got %v", got)
	}
}

func TestBreakerConsecutiveTripsCapAtMax(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	b := NewBreaker(BreakerConfig{BaseCooldown: time.Minute, MaxCooldown: 5 * time.Minute, Factor: 2}, clock.Now)

	var prev time.Duration
	for i := 0; i < 6; i++ {
		start := clock.Now()
		until := b.Trip()
		window := until.Sub(start)
		if window < prev {
			t.Fatalf("trip %d: window %v shrank from %v", i, window, prev)
		}
		if window > 5*time.Minute {
			t.Fatalf("trip %d: window %v exceeds max", i, window)
		}
		prev = window
		clock.Advance(window)
	}
	if prev != 5*time.Minute {
		t.Fatalf("expected window to reach max cooldown, got %v", prev)
	}
}

func TestBreakerTripWhileOpenIsNoop(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	b := NewBreaker(BreakerConfig{BaseCooldown: time.Minute, MaxCooldown: 10 * time.Minute, Factor: 2}, clock.Now)

	first := b.Trip()
	clock.Advance(5 * time.Second)
	second := b.Trip()
	if !first.Equal(second) {
		t.Fatalf("trip while open moved openUntil: %v -> %v", first, second)
	}
	if got := b.State().Cooldown; got != 2*time.Minute {
		t.Fatalf("trip while open must not grow cooldown, got %v", got)
	}
}

func TestBreakerQuietWindow(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	b := NewBreaker(BreakerConfig{BaseCooldown: time.Minute, MaxCooldown: 10 * time.Minute, Factor: 2}, clock.Now)

	if b.Quiet() {
		t.Fatal("fresh breaker must not be quiet")
	}
	b.Trip()
	clock.Advance(90 * time.Second)
	if !b.Quiet() {
		t.Fatal("breaker must stay quiet for a base cooldown after closing")
	}
	clock.Advance(31 * time.Second)
	if b.Quiet() {
		t.Fatal("breaker must leave quiet window")
	}
}

func TestBreakerConcurrentTrips(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	b := NewBreaker(BreakerConfig{BaseCooldown: time.Minute, MaxCooldown: 10 * time.Minute, Factor: 2}, clock.Now)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Trip()
			b.Allow()
		}()
	}
	wg.Wait()

	if got := b.State().Cooldown; got != 2*time.Minute {
		t.Fatalf("concurrent trips at one instant must count once, got cooldown %v", got)
	}
}
