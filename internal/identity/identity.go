// Package identity derives opaque per-user identifiers from WhatsApp senders.
package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hasher maps a sender phone number to a stable user id so the number itself
// is never stored.
type Hasher struct {
	salt []byte
}

// NewHasher creates a Hasher keyed by salt.
func NewHasher(salt string) *Hasher {
	return &Hasher{salt: []byte(salt)}
}

// UserID returns hex(HMAC-SHA256(salt, sender)).
func (h *Hasher) UserID(sender string) string {
	mac := hmac.New(sha256.New, h.salt)
	mac.Write([]byte(normalizeSender(sender)))
	return hex.EncodeToString(mac.Sum(nil))
}

// normalizeSender drops whitespace and a leading "+" so "+1 555" and "1555"
// hash to the same user.
func normalizeSender(sender string) string {
	sender = strings.Join(strings.Fields(sender), "")
	return strings.TrimPrefix(sender, "+")
}
