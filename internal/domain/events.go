package domain

import (
	"time"
)

// Event names delivered on the change notification bus.
const (
	// EventStateChanged is emitted exactly once per mutating coordinator
	// operation, after the mutation has been persisted.
	EventStateChanged = "session.state_changed"

	// EventBudgetWarning is emitted when a selection is rejected because the
	// active tier's capacity limit is reached. No state change accompanies it.
	EventBudgetWarning = "session.budget_warning"

	// EventReportStatusChanged is emitted for accepted report status
	// transitions. Rejected transitions emit nothing.
	EventReportStatusChanged = "session.report_status_changed"
)

// StateChangedEvent signals that session state was mutated and persisted.
// Renderers treat it as an invalidation signal and re-read the snapshot.
type StateChangedEvent struct {
	SessionID      string    `json:"session_id"`
	ConversationID string    `json:"conversation_id"`
	Op             string    `json:"op"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// EventName returns the bus event name.
func (e StateChangedEvent) EventName() string { return EventStateChanged }

// BudgetWarningEvent signals a capacity-rejected source selection.
type BudgetWarningEvent struct {
	SessionID      string    `json:"session_id"`
	ConversationID string    `json:"conversation_id"`
	SourceID       string    `json:"source_id"`
	Tier           string    `json:"tier"`
	Limit          int       `json:"limit"`
	SelectedCount  int       `json:"selected_count"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// EventName returns the bus event name.
func (e BudgetWarningEvent) EventName() string { return EventBudgetWarning }

// ReportStatusChangedEvent signals an accepted report status transition.
type ReportStatusChangedEvent struct {
	SessionID      string       `json:"session_id"`
	ConversationID string       `json:"conversation_id"`
	From           ReportStatus `json:"from"`
	To             ReportStatus `json:"to"`
	OccurredAt     time.Time    `json:"occurred_at"`
}

// EventName returns the bus event name.
func (e ReportStatusChangedEvent) EventName() string { return EventReportStatusChanged }
