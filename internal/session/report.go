package session

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/research-session-service/internal/domain"
	"github.com/helixir/research-session-service/internal/reports"
)

// ReportsClient prices and generates research reports over the network.
// Implemented by reports.Client.
type ReportsClient interface {
	PriceReport(ctx context.Context, req reports.PriceRequest) (*reports.Quote, error)
	GenerateReport(ctx context.Context, req reports.GenerateRequest) (*reports.GeneratedReport, error)
}

// Compile-time check that the concrete client satisfies the interface.
var _ ReportsClient = (*reports.Client)(nil)

// GenerateReport drives the report status machine end to end: idle -> pricing,
// price the report over the network, pricing -> generating, generate it,
// generating -> complete, then store the document as the conversation's
// research data.
//
// The session mutex is released around both network calls. The conversation
// ID is captured at dispatch; if the conversation is cleared, or the user
// moves the status machine, while a call is in flight, the result is
// discarded with a logged notice and (nil, nil) is returned. Network failures
// park the machine in the error state and surface a user-facing error.
func (c *Coordinator) GenerateReport(ctx context.Context) (*domain.ResearchReport, error) {
	start := time.Now()
	defer c.observe("generate_report", start)

	if c.reports == nil {
		return nil, fmt.Errorf("report generation is not configured: %w", domain.ErrServiceUnavailable)
	}

	c.mu.Lock()
	if err := c.transitionReportLocked(domain.ReportStatusPricing); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	convID := c.conversationID
	sources := copySources(c.selections)
	history := copyMessages(c.history)
	tier := c.tier
	c.mu.Unlock()

	logger := c.logger.With().Str("conversation_id", convID).Logger()
	logger.Info().Int("sources", len(sources)).Str("tier", tier).Msg("pricing report")

	quote, err := c.reports.PriceReport(ctx, reports.PriceRequest{
		SessionID:      c.sessionID,
		ConversationID: convID,
		Tier:           tier,
		Sources:        sources,
	})
	if err != nil {
		return nil, c.failReport(convID, domain.ReportStatusPricing, start, err, logger)
	}
	logger.Info().Float64("total", quote.Total).Str("quote_id", quote.QuoteID).Msg("report priced")

	if !c.resumeReport(convID, domain.ReportStatusGenerating, logger) {
		return nil, nil
	}

	generated, err := c.reports.GenerateReport(ctx, reports.GenerateRequest{
		SessionID:      c.sessionID,
		ConversationID: convID,
		Tier:           tier,
		QuoteID:        quote.QuoteID,
		Sources:        sources,
		History:        history,
	})
	if err != nil {
		return nil, c.failReport(convID, domain.ReportStatusGenerating, start, err, logger)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conversationID != convID {
		c.metrics.RecordStaleResultDiscarded()
		logger.Info().
			Str("current_conversation_id", c.conversationID).
			Msg("discarding report for a superseded conversation")
		return nil, nil
	}
	if err := c.transitionReportLocked(domain.ReportStatusComplete); err != nil {
		c.metrics.RecordStaleResultDiscarded()
		logger.Info().
			Str("status", string(c.reportStatus)).
			Msg("discarding report, status machine moved during generation")
		return nil, nil
	}

	report := &domain.ResearchReport{
		ConversationID: convID,
		Content:        generated.Document,
		Price:          quote.Total,
		GeneratedAt:    c.now(),
	}
	c.report = report
	c.persistJSON(ctx, fieldResearchData, report)
	c.emitStateChanged("report_generated")
	c.metrics.RecordReportGenerated(time.Since(start).Seconds())
	logger.Info().Float64("price", report.Price).Msg("report generated")
	return copyReport(report), nil
}

// resumeReport re-acquires the session after a network call and advances the
// status machine. Returns false when the in-flight work must be discarded:
// the conversation was cleared, or the user moved the machine, while the
// call was running.
func (c *Coordinator) resumeReport(convID string, next domain.ReportStatus, logger zerolog.Logger) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conversationID != convID {
		c.metrics.RecordStaleResultDiscarded()
		logger.Info().
			Str("current_conversation_id", c.conversationID).
			Msg("discarding report step for a superseded conversation")
		return false
	}
	if err := c.transitionReportLocked(next); err != nil {
		c.metrics.RecordStaleResultDiscarded()
		logger.Info().
			Str("status", string(c.reportStatus)).
			Msg("discarding report step, status machine moved")
		return false
	}
	return true
}

// failReport handles a network failure during report generation. If the
// conversation is unchanged the machine is parked in the error state and a
// user-facing error is returned; a superseded conversation discards the
// failure silently.
func (c *Coordinator) failReport(convID string, phase domain.ReportStatus, start time.Time, cause error, logger zerolog.Logger) error {
	c.mu.Lock()
	stale := c.conversationID != convID
	if !stale && c.reportStatus == phase {
		if err := c.transitionReportLocked(domain.ReportStatusError); err != nil {
			logger.Warn().Err(err).Msg("could not park report status in error state")
		}
	}
	c.mu.Unlock()

	if stale {
		c.metrics.RecordStaleResultDiscarded()
		logger.Info().Msg("discarding report failure for a superseded conversation")
		return nil
	}

	c.metrics.RecordReportFailed(time.Since(start).Seconds())
	logger.Error().Err(cause).Str("phase", string(phase)).Msg("report generation failed")
	return fmt.Errorf("report generation failed: %w", cause)
}
