// Package cooldown enforces a minimum spacing between messages from one user.
package cooldown

import (
	"context"
	"fmt"
	"time"
)

// DefaultSpacing is the minimum time between two processed messages.
const DefaultSpacing = 2 * time.Second

// Toucher records a user's message time if it is far enough from the last one.
// The check and the write must be one atomic operation.
type Toucher interface {
	Touch(ctx context.Context, userID string, now time.Time, minSpacing time.Duration) (bool, error)
}

// Guard drops messages that arrive inside the per-user window.
type Guard struct {
	store   Toucher
	spacing time.Duration
	now     func() time.Time
}

// New creates a Guard. A negative spacing uses DefaultSpacing; zero disables it.
func New(store Toucher, spacing time.Duration) *Guard {
	if spacing < 0 {
		spacing = DefaultSpacing
	}
	return &Guard{store: store, spacing: spacing, now: time.Now}
}

// Allow reports whether the message may be processed. A rejected message
// leaves the stored timestamp unchanged. Allow also creates the session on
// a user's first message.
func (g *Guard) Allow(ctx context.Context, userID string) (bool, error) {
	ok, err := g.store.Touch(ctx, userID, g.now(), g.spacing)
	if err != nil {
		return false, fmt.Errorf("cooldown check: %w", err)
	}
	return ok, nil
}
