// Package observability provides logging, metrics, and context propagation for
// the research session service.
//
// # Overview
//
// Three concerns live here:
//
//   - Structured logging with zerolog
//   - Prometheus metrics for sessions, coordinator operations, storage, and reports
//   - Context helpers for propagating request-scoped identifiers
//
// # Logging
//
// Build the service logger once at startup and pass it down:
//
//	logger := observability.NewLogger(observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	})
//	logger.Info().Str("session_id", sessionID).Msg("session initialized")
//
// Enrich a logger before handing it to a subsystem:
//
//	logger = observability.WithSessionContext(logger, sessionID, conversationID)
//
// # Metrics
//
// Construct one Metrics value per process and record through its methods:
//
//	metrics := observability.NewMetrics("session")
//	metrics.RecordOperation("add_message", elapsed.Seconds())
//	metrics.RecordSelectionRejected()
//	metrics.RecordReportTransition("idle", "pricing", true)
//
// # Context Helpers
//
// Identifiers travel on the request context so any layer can log them:
//
//	ctx = observability.WithRequestID(ctx, requestID)
//	ctx = observability.WithSessionID(ctx, sessionID)
//
//	reqID := observability.RequestIDFromContext(ctx)
//	sessionID := observability.SessionIDFromContext(ctx)
//
// # Standard Fields
//
//   - request_id: HTTP request correlation identifier
//   - session_id: Opaque caller-supplied session identifier
//   - conversation_id: Current conversation identifier, rotated on clear
//   - op: Coordinator operation name
//   - source_id: Selected source identifier
//   - from_status / to_status: Report status machine states
//
// Logger construction, metric recording, and the context helpers are all safe
// for concurrent use.
package observability
