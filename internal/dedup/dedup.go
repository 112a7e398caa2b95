// Package dedup turns at-least-once webhook delivery into exactly-once processing.
package dedup

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// DefaultRetention matches the provider's maximum webhook retry window.
const DefaultRetention = 48 * time.Hour

// MarkerStore records processed message ids. InsertMarker must be a single
// atomic insert-if-absent and return false when a live marker already exists.
type MarkerStore interface {
	InsertMarker(ctx context.Context, id string, now, expireAt time.Time) (bool, error)
}

// Deduplicator gates inbound events on their provider message id.
type Deduplicator struct {
	markers   MarkerStore
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Deduplicator. A non-positive retention uses DefaultRetention.
func New(markers MarkerStore, retention time.Duration, logger *slog.Logger) *Deduplicator {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Deduplicator{
		markers:   markers,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
}

// MarkProcessedOnce returns true if id has never been seen and records it.
// Empty ids cannot be deduplicated and always count as new. When the marker
// store fails the message is also treated as new: an occasional duplicate
// reply is preferable to a lost one.
func (d *Deduplicator) MarkProcessedOnce(ctx context.Context, id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return true
	}

	now := d.now()
	fresh, err := d.markers.InsertMarker(ctx, id, now, now.Add(d.retention))
	if err != nil {
		d.logger.Warn("dedupe store unavailable, processing message without dedupe",
			"message_id", id, "error", err)
		return true
	}
	return fresh
}
