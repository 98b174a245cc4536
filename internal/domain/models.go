// Package domain provides domain models and business logic for the Research Session Service.
package domain

import (
	"github.com/google/uuid"
)

// Sender identifies the author of a conversation message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// IsValid returns true if the sender is one of the known values.
func (s Sender) IsValid() bool {
	switch s {
	case SenderUser, SenderAssistant:
		return true
	default:
		return false
	}
}

// ContentScope describes how much of a source an item covers.
type ContentScope string

const (
	ContentScopeFull    ContentScope = "full"
	ContentScopeExcerpt ContentScope = "excerpt"
)

// IsValid returns true if the scope is one of the known values.
func (s ContentScope) IsValid() bool {
	switch s {
	case ContentScopeFull, ContentScopeExcerpt:
		return true
	default:
		return false
	}
}

// Covers reports whether content held at scope s satisfies a lookup at scope
// other. A full purchase covers excerpt lookups; the reverse does not hold.
func (s ContentScope) Covers(other ContentScope) bool {
	if s == other {
		return true
	}
	return s == ContentScopeFull && other == ContentScopeExcerpt
}

// TierSelectionContext is the ephemeral capacity-check context for the active
// tier. It is rebuilt from the tier catalog on every evaluation and never
// persisted. Unknown is set when the stated tier was not found in the catalog
// and the most restrictive limit was substituted.
type TierSelectionContext struct {
	Tier               string
	MaxSelectedSources int
	Unknown            bool
}

// NewConversationID mints an opaque conversation identifier. Conversation IDs
// are rotated on every conversation clear and compared by value only.
func NewConversationID() string {
	return uuid.NewString()
}
