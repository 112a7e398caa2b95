// Package whatsapp talks to the WhatsApp Cloud API: it parses inbound webhook
// envelopes and sends text, interactive prompts and images.
package whatsapp

import "strings"

// Envelope is the webhook payload posted by the Cloud API.
type Envelope struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups changes for one business account.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change is one notification.
type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

// Value carries either messages or delivery statuses.
type Value struct {
	MessagingProduct string          `json:"messaging_product"`
	Messages         []Message       `json:"messages"`
	Statuses         []StatusUpdate  `json:"statuses"`
	Contacts         []ContactRecord `json:"contacts"`
}

// ContactRecord is sender profile info; only used for logging counts.
type ContactRecord struct {
	WaID string `json:"wa_id"`
}

// StatusUpdate is a sent/delivered/read callback. These are ignored.
type StatusUpdate struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Message is one inbound user message.
type Message struct {
	ID          string       `json:"id"`
	From        string       `json:"from"`
	Timestamp   string       `json:"timestamp"`
	Type        string       `json:"type"`
	Text        *TextBody    `json:"text,omitempty"`
	Interactive *Interactive `json:"interactive,omitempty"`
}

// TextBody holds a text message.
type TextBody struct {
	Body string `json:"body"`
}

// Interactive holds the user's reply to buttons or a list.
type Interactive struct {
	Type        string     `json:"type"`
	ButtonReply *ReplyItem `json:"button_reply,omitempty"`
	ListReply   *ReplyItem `json:"list_reply,omitempty"`
}

// ReplyItem is the chosen option.
type ReplyItem struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// EventKind discriminates inbound messages.
type EventKind string

const (
	// EventText is a plain text message.
	EventText EventKind = "text"
	// EventSelection is a reply to an interactive prompt.
	EventSelection EventKind = "selection"
	// EventOther is anything else (media, location, reactions...).
	EventOther EventKind = "other"
)

// InboundEvent is a flattened, typed view of one Message.
type InboundEvent struct {
	MessageID   string
	From        string
	Kind        EventKind
	Text        string
	SelectionID string
	RawType     string
}

// Events flattens every message in every entry and change. Status callbacks
// produce no events.
func (e *Envelope) Events() []InboundEvent {
	var out []InboundEvent
	for _, entry := range e.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				out = append(out, msg.event())
			}
		}
	}
	return out
}

// StatusCount returns how many delivery statuses the envelope carries.
func (e *Envelope) StatusCount() int {
	n := 0
	for _, entry := range e.Entry {
		for _, change := range entry.Changes {
			n += len(change.Value.Statuses)
		}
	}
	return n
}

func (m Message) event() InboundEvent {
	ev := InboundEvent{
		MessageID: m.ID,
		From:      m.From,
		Kind:      EventOther,
		RawType:   m.Type,
	}
	switch m.Type {
	case "text":
		if m.Text != nil {
			ev.Kind = EventText
			ev.Text = m.Text.Body
		}
	case "interactive":
		if m.Interactive == nil {
			break
		}
		var item *ReplyItem
		switch {
		case m.Interactive.ButtonReply != nil:
			item = m.Interactive.ButtonReply
		case m.Interactive.ListReply != nil:
			item = m.Interactive.ListReply
		}
		if item != nil && strings.TrimSpace(item.ID) != "" {
			ev.Kind = EventSelection
			ev.SelectionID = item.ID
			ev.Text = item.Title
		}
	}
	return ev
}
