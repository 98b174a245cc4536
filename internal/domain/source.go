package domain

import "time"

// SelectedSource is a source the user has marked for inclusion in the next
// research report. Selections are keyed by source ID within a conversation
// and carry the conversation ID current at selection time so that stale
// selections can be purged after a conversation clear.
type SelectedSource struct {
	// ID uniquely identifies the source within a conversation.
	ID string `json:"id"`

	// ConversationID is the conversation under which this selection was made.
	ConversationID string `json:"conversation_id"`

	// Title is the display title of the source.
	Title string `json:"title,omitempty"`

	// UnlockPrice is the price to unlock this source, when the source is
	// gated. Takes precedence over Price in totals.
	UnlockPrice *float64 `json:"unlock_price,omitempty"`

	// Price is the plain price of the source, used when UnlockPrice is absent.
	Price *float64 `json:"price,omitempty"`

	// Metadata holds opaque, caller-defined source attributes.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// SelectedAt records when the source was selected.
	SelectedAt time.Time `json:"selected_at"`
}
