// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/uhwio/whatsappaibot/internal/domain"
)

// ErrSessionGone is returned when a targeted update finds no session row,
// typically because /reset deleted it while a reply was being generated.
var ErrSessionGone = errors.New("session no longer exists")

// Repository persists sessions, turns and processed-message markers.
// Every mutating method is a single targeted statement or a short
// transaction; none reads the whole session and writes it back.
type Repository interface {
	// Touch creates the session if needed and records now as the user's last
	// message time, but only when the previous one is at least minSpacing old.
	// It returns false when the message falls inside the spacing window.
	Touch(ctx context.Context, userID string, now time.Time, minSpacing time.Duration) (bool, error)

	// GetSession returns the session without its history, or nil if absent.
	GetSession(ctx context.Context, userID string) (*domain.Session, error)

	// SetMode sets the interaction mode, creating the session if needed.
	SetMode(ctx context.Context, userID string, mode domain.Mode) error

	// AppendExchange appends a (user, assistant) turn pair atomically.
	AppendExchange(ctx context.Context, userID, userText, assistantText string) error

	// RecentTurns returns up to n of the newest turns, oldest first.
	RecentTurns(ctx context.Context, userID string, n int) ([]domain.Turn, error)

	// TurnRange returns turns with index in [from, to), oldest first.
	TurnRange(ctx context.Context, userID string, from, to int) ([]domain.Turn, error)

	// ApplySummary replaces the summary and advances the pointer from
	// expectedUpTo to newUpTo. createdAt pins the session generation read
	// before folding. It returns false when another fold already moved the
	// pointer or the session was deleted or recreated.
	ApplySummary(ctx context.Context, userID string, createdAt time.Time, expectedUpTo, newUpTo int, summary string, at time.Time) (bool, error)

	// MarkRateLimitNotice records that the user was told to retry later.
	// It returns false if a notice was already sent within minInterval.
	MarkRateLimitNotice(ctx context.Context, userID string, now time.Time, minInterval time.Duration) (bool, error)

	// DeleteSession removes the session and its whole history.
	DeleteSession(ctx context.Context, userID string) error

	// InsertMarker records a processed message id until expireAt.
	// It returns false if a live marker for id already exists.
	InsertMarker(ctx context.Context, id string, now, expireAt time.Time) (bool, error)

	// PurgeExpiredMarkers deletes markers whose expiry has passed.
	PurgeExpiredMarkers(ctx context.Context, now time.Time) (int64, error)

	// PurgeIdleSessions deletes sessions not updated since cutoff.
	PurgeIdleSessions(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
