package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/helixir/research-session-service/internal/domain"
	"github.com/helixir/research-session-service/internal/session"
)

const maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies

// Request bodies. Validation tags are enforced by decodeAndValidate before a
// handler touches the coordinator.

type addMessageRequest struct {
	Sender   string                 `json:"sender" validate:"required,oneof=user assistant"`
	Content  string                 `json:"content" validate:"required"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type toggleSourceRequest struct {
	Title       string                 `json:"title,omitempty"`
	UnlockPrice *float64               `json:"unlock_price,omitempty" validate:"omitempty,gte=0"`
	Price       *float64               `json:"price,omitempty" validate:"omitempty,gte=0"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

type setReportStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type addPurchaseRequest struct {
	ItemID string  `json:"item_id" validate:"required"`
	Scope  string  `json:"scope" validate:"required,oneof=full excerpt"`
	Price  float64 `json:"price" validate:"gte=0"`
}

type cacheSummaryRequest struct {
	Scope   string  `json:"scope" validate:"required,oneof=full excerpt"`
	Summary string  `json:"summary" validate:"required"`
	Price   float64 `json:"price,omitempty" validate:"gte=0"`
}

type setDarkModeRequest struct {
	DarkMode *bool `json:"dark_mode" validate:"required"`
}

type setTierRequest struct {
	Tier string `json:"tier"`
}

// coordinator resolves the request's session coordinator through the manager,
// creating and initializing it on first touch.
func (s *Server) coordinator(w http.ResponseWriter, r *http.Request) (*session.Coordinator, bool) {
	coord, err := s.sessions.Get(r.Context(), sessionIDFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	return coord, true
}

// decodeAndValidate reads a JSON request body into v and runs struct
// validation. On failure it writes the error response and returns false.
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "request body is required")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

// parseScope reads the scope query parameter, defaulting to full.
func parseScope(w http.ResponseWriter, r *http.Request) (domain.ContentScope, bool) {
	raw := r.URL.Query().Get("scope")
	if raw == "" {
		return domain.ContentScopeFull, true
	}
	scope := domain.ContentScope(raw)
	if !scope.IsValid() {
		writeError(w, http.StatusBadRequest, "scope must be one of: full, excerpt")
		return "", false
	}
	return scope, true
}

// getState handles GET /state.
// It returns a full point-in-time copy of the session state.
func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	coord, ok := s.coordinator(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, coord.Snapshot())
}

// addMessage handles POST /messages.
// Duplicate submissions inside the dedup window return the original message
// with duplicate set, not an error.
func (s *Server) addMessage(w http.ResponseWriter, r *http.Request) {
	coord, ok := s.coordinator(w, r)
	if !ok {
		return
	}

	var req addMessageRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	msg, duplicate, err := coord.AddMessage(r.Context(), domain.Sender(req.Sender), req.Content, req.Metadata)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, addMessageResponse{
		Message:   msg,
		Duplicate: duplicate,
	})
}

// clearConversation handles POST /conversation/clear.
func (s *Server) clearConversation(w http.ResponseWriter, r *http.Request) {
	coord, ok := s.coordinator(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, clearConversationResponse{
		ConversationID: coord.ClearConversation(r.Context()),
	})
}

// toggleSource handles POST /sources/{sourceID}/toggle.
// The body is optional; deselecting needs nothing beyond the source ID.
func (s *Server) toggleSource(w http.ResponseWriter, r *http.Request) {
	coord, ok := s.coordinator(w, r)
	if !ok {
		return
	}

	sourceID := chi.URLParam(r, "sourceID")

	var req toggleSourceRequest
	if r.ContentLength != 0 {
		if !s.decodeAndValidate(w, r, &req) {
			return
		}
	}

	res, err := coord.ToggleSourceSelection(r.Context(), domain.SelectedSource{
		ID:          sourceID,
		Title:       req.Title,
		UnlockPrice: req.UnlockPrice,
		Price:       req.Price,
		Metadata:    req.Metadata,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toggleSourceResponse{
		Selected:      res.Selected,
		SelectedCount: res.SelectedCount,
		Limit:         res.Limit,
		Rejected:      res.Rejected,
	})
}

// selectedSourcesTotal handles GET /sources/total.
func (s *Server) selectedSourcesTotal(w http.ResponseWriter, r *http.Request) {
	coord, ok := s.coordinator(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, sourcesTotalResponse{
		Total: coord.SelectedSourcesTotal(),
	})
}

// setReportStatus handles PUT /report/status.
// Rejected transitions come back as 409 with the machine state untouched.
func (s *Server) setReportStatus(w http.ResponseWriter, r *http.Request) {
	coord, ok := s.coordinator(w, r)
	if !ok {
		return
	}

	var req setReportStatusRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	status, err := coord.SetReportStatus(domain.ReportStatus(req.Status))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, reportStatusResponse{
		Status:       string(status),
		LegacyStatus: string(status.Legacy()),
	})
}

// generateReport handles POST /report/generate.
// A nil report with no error means the run was superseded mid-flight (the
// conversation was cleared or the user declined); there is nothing to return.
func (s *Server) generateReport(w http.ResponseWriter, r *http.Request) {
	coord, ok := s.coordinator(w, r)
	if !ok {
		return
	}

	report, err := coord.GenerateReport(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidTransition):
			writeError(w, http.StatusConflict, "report generation already in progress")
		case errors.Is(err, domain.ErrServiceUnavailable):
			writeError(w, http.StatusBadGateway, "report service unavailable")
		default:
			writeError(w, http.StatusBadGateway, "report generation failed")
		}
		return
	}
	if report == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// addPurchase handles POST /purchases.
func (s *Server) addPurchase(w http.ResponseWriter, r *http.Request) {
	coord, ok := s.coordinator(w, r)
	if !ok {
		return
	}

	var req addPurchaseRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	err := coord.AddPurchase(r.Context(), domain.PurchaseRecord{
		ItemID: req.ItemID,
		Scope:  domain.ContentScope(req.Scope),
		Price:  req.Price,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, addPurchaseResponse{
		ItemID:    req.ItemID,
		Scope:     req.Scope,
		Price:     req.Price,
		Purchased: true,
	})
}

// getPurchase handles GET /purchases/{itemID}.
func (s *Server) getPurchase(w http.ResponseWriter, r *http.Request) {
	coord, ok := s.coordinator(w, r)
	if !ok {
		return
	}

	scope, ok := parseScope(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, purchaseLookupResponse{
		Purchased: coord.IsPurchased(chi.URLParam(r, "itemID"), scope),
	})
}

// cacheSummary handles PUT /summaries/{sourceID}.
func (s *Server) cacheSummary(w http.ResponseWriter, r *http.Request) {
	coord, ok := s.coordinator(w, r)
	if !ok {
		return
	}

	var req cacheSummaryRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	err := coord.CacheSummary(r.Context(), domain.SummaryRecord{
		SourceID: chi.URLParam(r, "sourceID"),
		Scope:    domain.ContentScope(req.Scope),
		Summary:  req.Summary,
		Price:    req.Price,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, cacheSummaryResponse{
		SourceID: chi.URLParam(r, "sourceID"),
		Scope:    req.Scope,
		Cached:   true,
	})
}

// getSummary handles GET /summaries/{sourceID}.
// Lookups are exact on source and scope; a full summary does not answer an
// excerpt lookup.
func (s *Server) getSummary(w http.ResponseWriter, r *http.Request) {
	coord, ok := s.coordinator(w, r)
	if !ok {
		return
	}

	scope, ok := parseScope(w, r)
	if !ok {
		return
	}

	rec, found := coord.CachedSummary(chi.URLParam(r, "sourceID"), scope)
	if !found {
		writeError(w, http.StatusNotFound, "summary not found")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// getDarkMode handles GET /preferences/dark-mode.
func (s *Server) getDarkMode(w http.ResponseWriter, r *http.Request) {
	coord, ok := s.coordinator(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, darkModeResponse{DarkMode: coord.DarkMode()})
}

// setDarkMode handles PUT /preferences/dark-mode.
func (s *Server) setDarkMode(w http.ResponseWriter, r *http.Request) {
	coord, ok := s.coordinator(w, r)
	if !ok {
		return
	}

	var req setDarkModeRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	coord.SetDarkMode(r.Context(), *req.DarkMode)

	writeJSON(w, http.StatusOK, darkModeResponse{DarkMode: coord.DarkMode()})
}

// setTier handles PUT /tier.
// An empty tier resets the session to the configured default.
func (s *Server) setTier(w http.ResponseWriter, r *http.Request) {
	coord, ok := s.coordinator(w, r)
	if !ok {
		return
	}

	var req setTierRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	coord.SetTier(req.Tier)

	writeJSON(w, http.StatusOK, tierResponse{Tier: coord.Tier()})
}

// evictSession handles DELETE /.
// Eviction drops the in-memory coordinator only; persisted state survives and
// the next request rebuilds from it.
func (s *Server) evictSession(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionIDFromContext(r.Context())

	writeJSON(w, http.StatusOK, evictSessionResponse{
		Evicted: s.sessions.Evict(sessionID),
	})
}
