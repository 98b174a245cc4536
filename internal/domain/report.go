package domain

import (
	"encoding/json"
	"time"
)

// ReportStatus represents the lifecycle states of research report preparation.
// The status is ephemeral session state: it is never persisted and every
// freshly initialized session starts at ReportStatusIdle.
type ReportStatus string

const (
	ReportStatusIdle       ReportStatus = "idle"
	ReportStatusPricing    ReportStatus = "pricing"
	ReportStatusGenerating ReportStatus = "generating"
	ReportStatusComplete   ReportStatus = "complete"
	ReportStatusError      ReportStatus = "error"
)

// IsValid returns true if the status is one of the known values.
func (s ReportStatus) IsValid() bool {
	switch s {
	case ReportStatusIdle, ReportStatusPricing, ReportStatusGenerating,
		ReportStatusComplete, ReportStatusError:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if the status represents the end of a generation
// run. Terminal states can only be left by returning to idle.
func (s ReportStatus) IsTerminal() bool {
	switch s {
	case ReportStatusComplete, ReportStatusError:
		return true
	default:
		return false
	}
}

// IsActive returns true while a pricing or generation request is in flight.
func (s ReportStatus) IsActive() bool {
	switch s {
	case ReportStatusPricing, ReportStatusGenerating:
		return true
	default:
		return false
	}
}

// validReportTransitions defines the allowed report status transitions.
// This is a package-level variable to avoid re-allocating on every call.
// Self-transitions are rejected, as is entering generating without passing
// through pricing first.
var validReportTransitions = map[ReportStatus][]ReportStatus{
	ReportStatusIdle: {
		ReportStatusPricing,
	},
	ReportStatusPricing: {
		ReportStatusGenerating,
		ReportStatusError,
		ReportStatusIdle, // user declines after seeing the quote
	},
	ReportStatusGenerating: {
		ReportStatusComplete,
		ReportStatusError,
	},
	ReportStatusComplete: {
		ReportStatusIdle,
	},
	ReportStatusError: {
		ReportStatusIdle,
	},
}

// IsValidReportTransition validates that a report status transition is allowed.
func IsValidReportTransition(from, to ReportStatus) bool {
	allowed, ok := validReportTransitions[from]
	if !ok {
		return false
	}

	for _, s := range allowed {
		if s == to {
			return true
		}
	}

	return false
}

// LegacyReportStatus is the three-value status vocabulary used by older
// renderers. It is a derived view computed from ReportStatus at the API
// boundary and is never stored.
type LegacyReportStatus string

const (
	LegacyReportStatusIdle       LegacyReportStatus = "idle"
	LegacyReportStatusProcessing LegacyReportStatus = "processing"
	LegacyReportStatusComplete   LegacyReportStatus = "complete"
)

// Legacy maps a report status onto the legacy three-value vocabulary.
// The legacy vocabulary has no error value, so error maps back to idle.
func (s ReportStatus) Legacy() LegacyReportStatus {
	switch s {
	case ReportStatusPricing, ReportStatusGenerating:
		return LegacyReportStatusProcessing
	case ReportStatusComplete:
		return LegacyReportStatusComplete
	default:
		return LegacyReportStatusIdle
	}
}

// ResearchReport is the payload of the most recently completed report for the
// current conversation. It is cleared whenever the conversation is cleared.
type ResearchReport struct {
	// ConversationID scopes the report to the conversation that produced it.
	ConversationID string `json:"conversation_id"`

	// Content is the generated report document, kept opaque to the session
	// layer.
	Content json.RawMessage `json:"content"`

	// Price is the amount quoted for this report during pricing.
	Price float64 `json:"price"`

	// GeneratedAt records when generation completed.
	GeneratedAt time.Time `json:"generated_at"`
}
