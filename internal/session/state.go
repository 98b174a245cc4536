package session

import (
	"encoding/json"

	"github.com/helixir/research-session-service/internal/domain"
)

// Persisted fields of the session namespace. The names are the storage keys
// the browser module used and are kept verbatim so existing persisted state
// stays readable.
const (
	fieldConversationID      = "conversationId"
	fieldConversationHistory = "conversationHistory"
	fieldSelectedSources     = "selectedSources"
	fieldPurchasedItems      = "purchasedItems"
	fieldPurchasedSummaries  = "purchasedSummaries"
	fieldResearchData        = "currentResearchData"
)

// Preference fields live in their own namespace and survive conversation clears.
const (
	prefDarkMode = "darkMode"
)

// sessionKey builds the store key for a session-scoped field.
func sessionKey(sessionID, field string) string {
	return "session:" + sessionID + ":" + field
}

// prefsKey builds the store key for a session preference.
func prefsKey(sessionID, pref string) string {
	return "prefs:" + sessionID + ":" + pref
}

// State is a point-in-time copy of a coordinator's full state. Every
// collection is deep-copied; callers can mutate a State freely without
// affecting the coordinator.
type State struct {
	SessionID       string                    `json:"session_id"`
	ConversationID  string                    `json:"conversation_id"`
	History         []domain.Message          `json:"conversation_history"`
	SelectedSources []domain.SelectedSource   `json:"selected_sources"`
	Purchases       []domain.PurchaseRecord   `json:"purchased_items"`
	Summaries       []domain.SummaryRecord    `json:"purchased_summaries"`
	Report          *domain.ResearchReport    `json:"current_research_data,omitempty"`
	ReportStatus    domain.ReportStatus       `json:"report_status"`
	LegacyStatus    domain.LegacyReportStatus `json:"legacy_report_status"`
	Tier            string                    `json:"tier"`
	DarkMode        bool                      `json:"dark_mode"`

	// Degraded is true when the backing store failed at some point during
	// this session; in-memory state is authoritative but may not be durable.
	Degraded bool `json:"degraded"`
}

func copyMetadata(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyPrice(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyMessage(msg domain.Message) domain.Message {
	msg.Metadata = copyMetadata(msg.Metadata)
	return msg
}

func copyMessages(msgs []domain.Message) []domain.Message {
	if msgs == nil {
		return nil
	}
	out := make([]domain.Message, len(msgs))
	for i, msg := range msgs {
		out[i] = copyMessage(msg)
	}
	return out
}

func copySource(src domain.SelectedSource) domain.SelectedSource {
	src.Metadata = copyMetadata(src.Metadata)
	src.UnlockPrice = copyPrice(src.UnlockPrice)
	src.Price = copyPrice(src.Price)
	return src
}

func copySources(srcs []domain.SelectedSource) []domain.SelectedSource {
	if srcs == nil {
		return nil
	}
	out := make([]domain.SelectedSource, len(srcs))
	for i, src := range srcs {
		out[i] = copySource(src)
	}
	return out
}

func copyPurchases(recs []domain.PurchaseRecord) []domain.PurchaseRecord {
	if recs == nil {
		return nil
	}
	out := make([]domain.PurchaseRecord, len(recs))
	copy(out, recs)
	return out
}

func copySummaries(recs []domain.SummaryRecord) []domain.SummaryRecord {
	if recs == nil {
		return nil
	}
	out := make([]domain.SummaryRecord, len(recs))
	copy(out, recs)
	return out
}

func copyReport(r *domain.ResearchReport) *domain.ResearchReport {
	if r == nil {
		return nil
	}
	out := *r
	out.Content = append(json.RawMessage(nil), r.Content...)
	return &out
}
