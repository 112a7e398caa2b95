// Package memory keeps conversation context bounded: a verbatim tail of
// recent turns plus a rolling summary of everything older.
package memory

import (
	"github.com/uhwio/whatsappaibot/internal/domain"
)

const (
	summaryPreamble = "Background context only, not a new message. " +
		"This is a summary of our earlier conversation:\n"
	summaryAck = "Understood. I will use that only as background context."
)

// Assemble builds the prompt turns: an optional summary framing pair, the
// last k turns of tail verbatim, then message as the final user turn.
// It is deterministic and does nothing else.
func Assemble(summary string, tail []domain.Turn, message string, k int) []domain.Turn {
	if k < 0 {
		k = 0
	}
	if len(tail) > k {
		tail = tail[len(tail)-k:]
	}

	out := make([]domain.Turn, 0, len(tail)+3)
	if summary != "" {
		out = append(out,
			domain.UserTurn(summaryPreamble+summary),
			domain.AssistantTurn(summaryAck),
		)
	}
	out = append(out, tail...)
	out = append(out, domain.UserTurn(message))
	return out
}
