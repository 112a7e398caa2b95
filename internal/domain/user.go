// Package domain contains core domain types for the WhatsApp bot.
package domain

import (
	"time"
)

// Mode is the interaction mode a user has selected.
type Mode string

const (
	// ModeUnset means the user has not picked a mode yet.
	ModeUnset Mode = ""
	// ModeChat routes plain text to the conversational model.
	ModeChat Mode = "chat"
	// ModeImage routes plain text to image generation.
	ModeImage Mode = "image"
)

// ParseMode maps user input such as "chat" or "Image" to a Mode.
func ParseMode(s string) (Mode, bool) {
	switch Mode(normalizeMode(s)) {
	case ModeChat:
		return ModeChat, true
	case ModeImage:
		return ModeImage, true
	default:
		return ModeUnset, false
	}
}

// Session is the persisted per-user conversation state.
// History is not loaded with the session; TurnCount is the length of it.
type Session struct {
	UserID          string     `json:"user_id"`
	Mode            Mode       `json:"mode"`
	Summary         string     `json:"summary"`
	SummarizedUpTo  int        `json:"summarized_up_to"`
	TurnCount       int        `json:"turn_count"`
	LastSummaryAt   *time.Time `json:"last_summary_at,omitempty"`
	LastUserAt      *time.Time `json:"last_user_at,omitempty"`
	LastRateLimitAt *time.Time `json:"last_rate_limit_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// HasMode returns true if the user has picked chat or image mode.
func (s *Session) HasMode() bool {
	return s != nil && s.Mode != ModeUnset
}

// Unsummarized returns how many turns sit between the summary pointer and
// the live tail of size tail. It never returns a negative number.
func (s *Session) Unsummarized(tail int) int {
	n := s.TurnCount - tail - s.SummarizedUpTo
	if n < 0 {
		return 0
	}
	return n
}
