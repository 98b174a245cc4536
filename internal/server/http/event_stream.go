package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/helixir/research-session-service/internal/bus"
	"github.com/helixir/research-session-service/internal/domain"
)

const (
	// sseHeartbeatInterval is how often an idle stream gets a comment frame
	// so intermediaries do not reap the connection.
	sseHeartbeatInterval = 15 * time.Second
	// sseMaxDuration is the maximum time an SSE stream may remain open.
	sseMaxDuration = 4 * time.Hour
	// sseClientBuffer is the per-client event buffer. A slow consumer drops
	// events rather than blocking the emitting operation.
	sseClientBuffer = 64
)

// streamConnectedEvent is the first frame of every event stream.
type streamConnectedEvent struct {
	SessionID      string    `json:"session_id"`
	ConversationID string    `json:"conversation_id"`
	Timestamp      time.Time `json:"timestamp"`
}

// streamEvents handles GET /events (SSE).
// It forwards the session's change notifications as they happen: state
// changes, budget warnings, and report status transitions.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	coord, ok := s.coordinator(w, r)
	if !ok {
		return
	}
	sessionID := coord.SessionID()

	// Set SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	logger := s.logger.With().
		Str("session_id", sessionID).
		Str("correlation_id", correlationIDFromContext(r.Context())).
		Logger()

	// Listeners run on the emitting goroutine, inside coordinator
	// operations. They must never block; a full buffer drops the event.
	events := make(chan bus.Event, sseClientBuffer)
	unsubscribe := s.events.OnAny(func(ev bus.Event) {
		if eventSessionID(ev) != sessionID {
			return
		}
		select {
		case events <- ev:
		default:
			logger.Warn().Str("event", ev.EventName()).Msg("SSE client buffer full, dropping event")
		}
	})
	defer unsubscribe()

	s.metrics.RecordSSEClientConnected()
	defer s.metrics.RecordSSEClientDisconnected()
	logger.Debug().Msg("event stream opened")

	sendSSEEvent(w, flusher, "stream_connected", streamConnectedEvent{
		SessionID:      sessionID,
		ConversationID: coord.ConversationID(),
		Timestamp:      time.Now(),
	})

	deadlineTimer := time.NewTimer(sseMaxDuration)
	defer deadlineTimer.Stop()
	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("event stream closed by client")
			return

		case <-deadlineTimer.C:
			logger.Debug().Msg("event stream reached max duration")
			return

		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()

		case ev := <-events:
			sendSSEEvent(w, flusher, ev.EventName(), ev)
		}
	}
}

// sendSSEEvent writes a single SSE event frame to the response writer.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, name string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	flusher.Flush()
}

// eventSessionID extracts the owning session from a change notification.
func eventSessionID(ev bus.Event) string {
	switch e := ev.(type) {
	case domain.StateChangedEvent:
		return e.SessionID
	case domain.BudgetWarningEvent:
		return e.SessionID
	case domain.ReportStatusChangedEvent:
		return e.SessionID
	default:
		return ""
	}
}
