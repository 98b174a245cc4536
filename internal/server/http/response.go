package httpserver

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/helixir/research-session-service/internal/domain"
)

// Response types for JSON serialization. Snapshot, summary and report
// payloads reuse the domain types directly; everything else gets a small
// endpoint-shaped struct here.

type addMessageResponse struct {
	Message   domain.Message `json:"message"`
	Duplicate bool           `json:"duplicate"`
}

type clearConversationResponse struct {
	ConversationID string `json:"conversation_id"`
}

type toggleSourceResponse struct {
	Selected      bool `json:"selected"`
	SelectedCount int  `json:"selected_count"`
	Limit         int  `json:"limit"`
	Rejected      bool `json:"rejected"`
}

type sourcesTotalResponse struct {
	Total float64 `json:"total"`
}

type reportStatusResponse struct {
	Status       string `json:"status"`
	LegacyStatus string `json:"legacy_status"`
}

type addPurchaseResponse struct {
	ItemID    string  `json:"item_id"`
	Scope     string  `json:"scope"`
	Price     float64 `json:"price"`
	Purchased bool    `json:"purchased"`
}

type purchaseLookupResponse struct {
	Purchased bool `json:"purchased"`
}

type cacheSummaryResponse struct {
	SourceID string `json:"source_id"`
	Scope    string `json:"scope"`
	Cached   bool   `json:"cached"`
}

type darkModeResponse struct {
	DarkMode bool `json:"dark_mode"`
}

type tierResponse struct {
	Tier string `json:"tier"`
}

type evictSessionResponse struct {
	Evicted bool `json:"evicted"`
}

// writeDomainError maps domain errors to appropriate HTTP status codes and
// writes a JSON error response. Internal error details are not leaked to
// clients.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var apiErr *domain.ExternalAPIError

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrInvalidTransition):
		var te *domain.InvalidTransitionError
		if errors.As(err, &te) {
			writeError(w, http.StatusConflict, te.Error())
		} else {
			writeError(w, http.StatusConflict, "invalid status transition")
		}
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusBadGateway, "report service unavailable")
	case errors.As(err, &apiErr):
		writeError(w, http.StatusBadGateway, "report generation failed")
	case errors.Is(err, domain.ErrStorageUnavailable):
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// validationMessage flattens a validator error into a single client-facing
// message naming the first offending field.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request body"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "oneof":
		return fe.Field() + " must be one of: " + fe.Param()
	case "gte":
		return fe.Field() + " must be at least " + fe.Param()
	default:
		return fe.Field() + " is invalid"
	}
}
