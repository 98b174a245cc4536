package domain

import "time"

// PurchaseRecord is an advisory note that an item was purchased during this
// session. It is a cache for UI affordances, never proof of entitlement; the
// commerce backend remains the source of truth.
type PurchaseRecord struct {
	// ItemID identifies the purchased item.
	ItemID string `json:"item_id"`

	// Scope is how much of the item the purchase covers.
	Scope ContentScope `json:"scope"`

	// Price is the amount paid, as reported at purchase time.
	Price float64 `json:"price"`

	// PurchasedAt records when the purchase was noted.
	PurchasedAt time.Time `json:"purchased_at"`
}

// SummaryRecord is a cached source summary, keyed by source and scope so a
// full-source summary and an excerpt summary can coexist for the same source.
type SummaryRecord struct {
	// SourceID identifies the summarized source.
	SourceID string `json:"source_id"`

	// Scope is how much of the source the summary covers.
	Scope ContentScope `json:"scope"`

	// Summary is the cached summary text.
	Summary string `json:"summary"`

	// Price is the amount charged for producing the summary, if any.
	Price float64 `json:"price,omitempty"`

	// CachedAt records when the summary was cached.
	CachedAt time.Time `json:"cached_at"`
}
