package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
)

func TestUserIDStableAndOpaque(t *testing.T) {
	t.Parallel()
	h := NewHasher("salt")

	id := h.UserID("15551234567")
	if raw, err := hex.DecodeString(id); err != nil || len(raw) != sha256.Size {
		t.Fatalf("unexpected id format %q", id)
	}
	if strings.Contains(id, "5551234567") {
		t.Fatal("id must not contain the phone number")
	}
	if h.UserID("+1 555 123 4567") != id {
		t.Fatal("formatting differences must map to the same id")
	}
	if NewHasher("other").UserID("15551234567") == id {
		t.Fatal("different salts must produce different ids")
	}
}
