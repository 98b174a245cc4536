package domain

import (
	"fmt"
	"time"
)

// DefaultDuplicateWindow is the trailing window within which a message with
// the same sender and identical content is treated as a duplicate delivery.
const DefaultDuplicateWindow = 5 * time.Second

// messageIDContentRunes is how much of the content participates in the
// derived message ID.
const messageIDContentRunes = 24

// Message is a single entry in the conversation history.
type Message struct {
	// ID is derived from sender, truncated content and timestamp. It is
	// used for client-side reconciliation only and is not guaranteed to be
	// globally unique.
	ID string `json:"id"`

	// Sender identifies who authored the message.
	Sender Sender `json:"sender"`

	// Content is the message text.
	Content string `json:"content"`

	// Metadata holds opaque, sender-defined payload data.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// SentAt records when the message was accepted into the history.
	SentAt time.Time `json:"sent_at"`
}

// NewMessage builds a message with a derived ID at the given time.
func NewMessage(sender Sender, content string, metadata map[string]interface{}, at time.Time) Message {
	return Message{
		ID:       NewMessageID(sender, content, at),
		Sender:   sender,
		Content:  content,
		Metadata: metadata,
		SentAt:   at,
	}
}

// NewMessageID derives a message identifier from the sender, a truncated
// content key and the millisecond timestamp.
func NewMessageID(sender Sender, content string, at time.Time) string {
	return fmt.Sprintf("%s:%s:%d", sender, truncateRunes(content, messageIDContentRunes), at.UnixMilli())
}

// IsDuplicateOf reports whether m is a duplicate delivery of prior: same
// sender, byte-identical content, recorded within the window of each other.
func (m Message) IsDuplicateOf(prior Message, window time.Duration) bool {
	if m.Sender != prior.Sender || m.Content != prior.Content {
		return false
	}

	d := m.SentAt.Sub(prior.SentAt)
	if d < 0 {
		d = -d
	}
	return d <= window
}

// truncateRunes shortens s to at most n runes without splitting a rune.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
