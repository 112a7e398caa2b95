package domain

import "strings"

// Role identifies the author of a turn.
type Role string

const (
	// RoleUser marks a message sent by the WhatsApp user.
	RoleUser Role = "user"
	// RoleAssistant marks a reply produced by the model.
	RoleAssistant Role = "assistant"
)

// Turn is one user message or one assistant reply.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// UserTurn builds a user turn.
func UserTurn(text string) Turn {
	return Turn{Role: RoleUser, Text: text}
}

// AssistantTurn builds an assistant turn.
func AssistantTurn(text string) Turn {
	return Turn{Role: RoleAssistant, Text: text}
}

func normalizeMode(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
