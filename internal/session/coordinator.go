package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/research-session-service/internal/bus"
	"github.com/helixir/research-session-service/internal/catalog"
	"github.com/helixir/research-session-service/internal/domain"
	"github.com/helixir/research-session-service/internal/kvstore"
	"github.com/helixir/research-session-service/internal/observability"
	"github.com/helixir/research-session-service/internal/policy"
)

const (
	// DefaultDuplicateWindow suppresses identical messages arriving within
	// this interval.
	DefaultDuplicateWindow = domain.DefaultDuplicateWindow

	// DefaultMaxHistory caps the conversation history; the oldest messages
	// are dropped beyond it.
	DefaultMaxHistory = 500

	// DefaultTier is assumed when the session never stated a tier.
	DefaultTier = "free"
)

// Config holds per-session coordinator tunables.
type Config struct {
	// DuplicateWindow is the interval within which a message with the same
	// sender and content is treated as a duplicate. Defaults to 5 seconds.
	DuplicateWindow time.Duration

	// MaxHistory is the maximum number of messages kept in the conversation
	// history. Defaults to 500.
	MaxHistory int

	// DefaultTier is the tier assumed until the session states one.
	// Defaults to "free".
	DefaultTier string
}

func (c Config) withDefaults() Config {
	if c.DuplicateWindow <= 0 {
		c.DuplicateWindow = DefaultDuplicateWindow
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = DefaultMaxHistory
	}
	if c.DefaultTier == "" {
		c.DefaultTier = DefaultTier
	}
	return c
}

// Deps bundles the collaborators a coordinator needs.
type Deps struct {
	// Store is the persistent KV namespace backing the session.
	Store kvstore.Store

	// Events receives one change notification per mutating operation.
	Events *bus.Emitter

	// Tiers maps tier names to capability limits.
	Tiers *catalog.Catalog

	// Reports prices and generates research reports. Optional: when nil,
	// GenerateReport reports the service as unavailable.
	Reports ReportsClient

	// Metrics records coordinator instrumentation.
	Metrics *observability.Metrics

	// Logger is the base logger; coordinators derive a session-scoped one.
	Logger zerolog.Logger
}

func (d Deps) validate() error {
	if d.Store == nil {
		return fmt.Errorf("session coordinator requires a store")
	}
	if d.Events == nil {
		return fmt.Errorf("session coordinator requires an event emitter")
	}
	if d.Tiers == nil {
		return fmt.Errorf("session coordinator requires a tier catalog")
	}
	if d.Metrics == nil {
		return fmt.Errorf("session coordinator requires metrics")
	}
	return nil
}

// Coordinator is the single owner of one session's state. All operations are
// serialized by the session mutex; reads hand out deep copies. Every mutation
// persists synchronously to the backing store before returning and emits
// exactly one change notification. Persistence failures degrade the session
// (warn, keep going in memory) rather than failing the operation.
type Coordinator struct {
	sessionID string
	store     kvstore.Store
	events    *bus.Emitter
	tiers     *catalog.Catalog
	reports   ReportsClient
	metrics   *observability.Metrics
	logger    zerolog.Logger
	cfg       Config

	// now is the clock used for state timestamps; tests substitute it.
	now func() time.Time

	mu             sync.Mutex
	conversationID string
	history        []domain.Message
	selections     []domain.SelectedSource
	purchases      []domain.PurchaseRecord
	summaries      []domain.SummaryRecord
	report         *domain.ResearchReport
	reportStatus   domain.ReportStatus
	tier           string
	darkMode       bool
	degraded       bool
}

// NewCoordinator creates a coordinator for sessionID. Call Initialize before
// exposing it to callers.
func NewCoordinator(sessionID string, cfg Config, deps Deps) (*Coordinator, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session ID is required")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}

	cfg = cfg.withDefaults()
	return &Coordinator{
		sessionID: sessionID,
		store:     deps.Store,
		events:    deps.Events,
		tiers:     deps.Tiers,
		reports:   deps.Reports,
		metrics:   deps.Metrics,
		logger: deps.Logger.With().
			Str("component", "session_coordinator").
			Str("session_id", sessionID).
			Logger(),
		cfg:          cfg,
		now:          time.Now,
		reportStatus: domain.ReportStatusIdle,
		tier:         cfg.DefaultTier,
	}, nil
}

// SessionID returns the opaque session identifier.
func (c *Coordinator) SessionID() string {
	return c.sessionID
}

// Initialize loads persisted state from the backing store. It never fails:
// unreadable or undecodable state degrades to a fresh in-memory session with
// a warning. Selections left over from a conversation other than the loaded
// one are purged, and the report status always starts idle.
func (c *Coordinator) Initialize(ctx context.Context) {
	start := time.Now()
	defer c.observe("initialize", start)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.reportStatus = domain.ReportStatusIdle
	c.tier = c.cfg.DefaultTier

	if convID, ok := c.loadField(ctx, fieldConversationID); ok && convID != "" {
		c.conversationID = convID
	} else {
		c.conversationID = domain.NewConversationID()
		c.persistField(ctx, fieldConversationID, c.conversationID)
		c.logger.Info().Str("conversation_id", c.conversationID).Msg("minted new conversation")
	}

	var history []domain.Message
	if c.loadJSON(ctx, fieldConversationHistory, &history) {
		c.history = history
	}

	var selections []domain.SelectedSource
	if c.loadJSON(ctx, fieldSelectedSources, &selections) {
		c.selections = c.purgeStaleSelections(ctx, selections)
	}

	var purchases []domain.PurchaseRecord
	if c.loadJSON(ctx, fieldPurchasedItems, &purchases) {
		c.purchases = purchases
	}

	var summaries []domain.SummaryRecord
	if c.loadJSON(ctx, fieldPurchasedSummaries, &summaries) {
		c.summaries = summaries
	}

	var report domain.ResearchReport
	if c.loadJSON(ctx, fieldResearchData, &report) {
		if report.ConversationID == c.conversationID {
			c.report = &report
		} else {
			c.logger.Info().
				Str("report_conversation_id", report.ConversationID).
				Msg("purged research data from a previous conversation")
			c.persistField(ctx, fieldResearchData, "")
		}
	}

	if raw, ok := c.loadKey(ctx, prefsKey(c.sessionID, prefDarkMode)); ok {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			c.logger.Warn().Str("value", raw).Msg("discarding undecodable dark mode preference")
		} else {
			c.darkMode = enabled
		}
	}

	if c.degraded {
		c.metrics.RecordDegradedInitialization()
	}

	c.logger.Info().
		Str("conversation_id", c.conversationID).
		Int("history", len(c.history)).
		Int("selections", len(c.selections)).
		Int("purchases", len(c.purchases)).
		Bool("degraded", c.degraded).
		Msg("session initialized")
}

// purgeStaleSelections drops selections carried over from another
// conversation and persists the trimmed set when anything was removed.
func (c *Coordinator) purgeStaleSelections(ctx context.Context, loaded []domain.SelectedSource) []domain.SelectedSource {
	var kept []domain.SelectedSource
	for _, src := range loaded {
		if src.ConversationID == c.conversationID {
			kept = append(kept, src)
		}
	}
	if purged := len(loaded) - len(kept); purged > 0 {
		c.logger.Info().Int("purged", purged).Msg("purged selections from a previous conversation")
		c.persistJSON(ctx, fieldSelectedSources, kept)
	}
	return kept
}

// AddMessage appends a message to the conversation history. A message with
// the same sender and identical content arriving within the duplicate window
// is suppressed: the prior message is returned with duplicate=true, nothing
// changes, and no event is emitted.
func (c *Coordinator) AddMessage(ctx context.Context, sender domain.Sender, content string, metadata map[string]interface{}) (domain.Message, bool, error) {
	start := time.Now()
	defer c.observe("add_message", start)

	if !sender.IsValid() {
		return domain.Message{}, false, domain.NewValidationError("sender", fmt.Sprintf("unknown sender %q", sender))
	}
	if content == "" {
		return domain.Message{}, false, domain.NewValidationError("content", "must not be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	msg := domain.NewMessage(sender, content, copyMetadata(metadata), c.now())

	for i := len(c.history) - 1; i >= 0; i-- {
		prior := c.history[i]
		if msg.SentAt.Sub(prior.SentAt) > c.cfg.DuplicateWindow {
			break
		}
		if msg.IsDuplicateOf(prior, c.cfg.DuplicateWindow) {
			c.metrics.RecordMessageDeduplicated()
			c.logger.Debug().Str("message_id", prior.ID).Msg("duplicate message suppressed")
			return copyMessage(prior), true, nil
		}
	}

	c.history = append(c.history, msg)
	if len(c.history) > c.cfg.MaxHistory {
		trimmed := make([]domain.Message, c.cfg.MaxHistory)
		copy(trimmed, c.history[len(c.history)-c.cfg.MaxHistory:])
		c.history = trimmed
	}

	c.persistJSON(ctx, fieldConversationHistory, c.history)
	c.emitStateChanged("add_message")
	return copyMessage(msg), false, nil
}

// ClearConversation resets the conversation: empty history, empty selections,
// cleared research data, report status idle, and a freshly minted
// conversation ID, all applied atomically with respect to observers and
// persisted as a single multi-key write. Purchases, summaries, and
// preferences survive. Returns the new conversation ID.
func (c *Coordinator) ClearConversation(ctx context.Context) string {
	start := time.Now()
	defer c.observe("clear_conversation", start)

	c.mu.Lock()
	defer c.mu.Unlock()

	previous := c.conversationID
	c.conversationID = domain.NewConversationID()
	c.history = nil
	c.selections = nil
	c.report = nil
	c.reportStatus = domain.ReportStatusIdle

	kv := map[string]string{
		sessionKey(c.sessionID, fieldConversationID):      c.conversationID,
		sessionKey(c.sessionID, fieldConversationHistory): "[]",
		sessionKey(c.sessionID, fieldSelectedSources):     "[]",
		sessionKey(c.sessionID, fieldResearchData):        "",
	}
	persistStart := time.Now()
	err := c.store.SetMulti(ctx, kv)
	c.metrics.RecordPersist(c.store.Name(), time.Since(persistStart).Seconds())
	if err != nil {
		c.degraded = true
		c.metrics.RecordStorageError("set_multi")
		c.logger.Warn().Err(err).Msg("conversation reset persistence failed, continuing in memory")
	}

	c.logger.Info().
		Str("previous_conversation_id", previous).
		Str("conversation_id", c.conversationID).
		Msg("conversation cleared")
	c.emitStateChanged("clear_conversation")
	return c.conversationID
}

// ToggleResult describes the outcome of a selection toggle.
type ToggleResult struct {
	// Selected is the selected state of the source after the operation.
	Selected bool

	// Rejected is true when a selection was refused at the tier limit.
	Rejected bool

	// SelectedCount is the size of the selection set after the operation.
	SelectedCount int

	// Limit is the tier's selection capacity at evaluation time.
	Limit int
}

// ToggleSourceSelection toggles src in the selection set, keyed by source ID
// within the current conversation. Selecting beyond the tier limit is a
// no-op: the result reports Rejected and a budget warning event is emitted,
// never an error.
func (c *Coordinator) ToggleSourceSelection(ctx context.Context, src domain.SelectedSource) (ToggleResult, error) {
	start := time.Now()
	defer c.observe("toggle_source", start)

	if src.ID == "" {
		return ToggleResult{}, domain.NewValidationError("source_id", "must not be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tierCtx := c.resolveTierLocked()

	for i := range c.selections {
		if c.selections[i].ID != src.ID {
			continue
		}
		c.selections = append(c.selections[:i:i], c.selections[i+1:]...)
		c.persistJSON(ctx, fieldSelectedSources, c.selections)
		c.logger.Debug().Str("source_id", src.ID).Int("selected", len(c.selections)).Msg("source deselected")
		c.emitStateChanged("toggle_source")
		return ToggleResult{SelectedCount: len(c.selections), Limit: tierCtx.MaxSelectedSources}, nil
	}

	if !policy.CanSelect(tierCtx, len(c.selections)) {
		c.metrics.RecordSelectionRejected()
		c.logger.Info().
			Str("source_id", src.ID).
			Str("tier", tierCtx.Tier).
			Int("limit", tierCtx.MaxSelectedSources).
			Int("selected", len(c.selections)).
			Msg("selection rejected at tier capacity")
		c.emitEvent(domain.BudgetWarningEvent{
			SessionID:      c.sessionID,
			ConversationID: c.conversationID,
			SourceID:       src.ID,
			Tier:           tierCtx.Tier,
			Limit:          tierCtx.MaxSelectedSources,
			SelectedCount:  len(c.selections),
			OccurredAt:     c.now(),
		})
		return ToggleResult{Rejected: true, SelectedCount: len(c.selections), Limit: tierCtx.MaxSelectedSources}, nil
	}

	src = copySource(src)
	src.ConversationID = c.conversationID
	src.SelectedAt = c.now()
	c.selections = append(c.selections, src)
	c.persistJSON(ctx, fieldSelectedSources, c.selections)
	c.logger.Debug().Str("source_id", src.ID).Int("selected", len(c.selections)).Msg("source selected")
	c.emitStateChanged("toggle_source")
	return ToggleResult{Selected: true, SelectedCount: len(c.selections), Limit: tierCtx.MaxSelectedSources}, nil
}

// resolveTierLocked rebuilds the ephemeral tier context from the catalog and
// the session's stated tier. Must be called with the mutex held.
func (c *Coordinator) resolveTierLocked() domain.TierSelectionContext {
	tierCtx := policy.ResolveTier(c.tiers, c.tier)
	if tierCtx.Unknown {
		c.metrics.RecordUnknownTier()
		c.logger.Warn().
			Str("tier", c.tier).
			Int("limit", tierCtx.MaxSelectedSources).
			Msg("unknown tier, using most restrictive limit")
	}
	return tierCtx
}

// SelectedSourcesTotal returns the price total of the current selection set:
// unlock price when present, else price, else zero per source.
func (c *Coordinator) SelectedSourcesTotal() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return policy.SourcesTotal(c.selections)
}

// SetReportStatus drives the report status machine. Invalid transitions are
// rejected with domain.ErrInvalidTransition, logged, and emit no event; the
// returned status is the machine's state after the call either way.
func (c *Coordinator) SetReportStatus(next domain.ReportStatus) (domain.ReportStatus, error) {
	start := time.Now()
	defer c.observe("set_report_status", start)

	if !next.IsValid() {
		return "", domain.NewValidationError("status", fmt.Sprintf("unknown report status %q", next))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.transitionReportLocked(next); err != nil {
		return c.reportStatus, err
	}
	return c.reportStatus, nil
}

// transitionReportLocked validates and applies a status transition, emitting
// the status-changed event on success. Must be called with the mutex held.
func (c *Coordinator) transitionReportLocked(next domain.ReportStatus) error {
	from := c.reportStatus
	if !domain.IsValidReportTransition(from, next) {
		c.metrics.RecordReportTransition(string(from), string(next), false)
		c.logger.Warn().
			Str("from_status", string(from)).
			Str("to_status", string(next)).
			Msg("report status transition rejected")
		return domain.NewInvalidTransitionError(from, next)
	}

	c.reportStatus = next
	c.metrics.RecordReportTransition(string(from), string(next), true)
	c.emitEvent(domain.ReportStatusChangedEvent{
		SessionID:      c.sessionID,
		ConversationID: c.conversationID,
		From:           from,
		To:             next,
		OccurredAt:     c.now(),
	})
	return nil
}

// ReportStatus returns the current report status alongside its legacy
// three-value rendering.
func (c *Coordinator) ReportStatus() (domain.ReportStatus, domain.LegacyReportStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.reportStatus, c.reportStatus.Legacy()
}

// CacheSummary stores or replaces the cached summary for a source and scope.
func (c *Coordinator) CacheSummary(ctx context.Context, rec domain.SummaryRecord) error {
	start := time.Now()
	defer c.observe("cache_summary", start)

	if rec.SourceID == "" {
		return domain.NewValidationError("source_id", "must not be empty")
	}
	if !rec.Scope.IsValid() {
		return domain.NewValidationError("scope", fmt.Sprintf("unknown content scope %q", rec.Scope))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if rec.CachedAt.IsZero() {
		rec.CachedAt = c.now()
	}

	replaced := false
	for i := range c.summaries {
		if c.summaries[i].SourceID == rec.SourceID && c.summaries[i].Scope == rec.Scope {
			c.summaries[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		c.summaries = append(c.summaries, rec)
	}

	c.persistJSON(ctx, fieldPurchasedSummaries, c.summaries)
	c.emitStateChanged("cache_summary")
	return nil
}

// CachedSummary returns the cached summary for a source and scope, if any.
func (c *Coordinator) CachedSummary(sourceID string, scope domain.ContentScope) (domain.SummaryRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, rec := range c.summaries {
		if rec.SourceID == sourceID && rec.Scope == scope {
			return rec, true
		}
	}
	return domain.SummaryRecord{}, false
}

// AddPurchase records a purchase in the advisory cache. The cache is a
// convenience for the UI, never proof of entitlement.
func (c *Coordinator) AddPurchase(ctx context.Context, rec domain.PurchaseRecord) error {
	start := time.Now()
	defer c.observe("add_purchase", start)

	if rec.ItemID == "" {
		return domain.NewValidationError("item_id", "must not be empty")
	}
	if !rec.Scope.IsValid() {
		return domain.NewValidationError("scope", fmt.Sprintf("unknown content scope %q", rec.Scope))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if rec.PurchasedAt.IsZero() {
		rec.PurchasedAt = c.now()
	}

	replaced := false
	for i := range c.purchases {
		if c.purchases[i].ItemID == rec.ItemID && c.purchases[i].Scope == rec.Scope {
			c.purchases[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		c.purchases = append(c.purchases, rec)
	}

	c.persistJSON(ctx, fieldPurchasedItems, c.purchases)
	c.emitStateChanged("add_purchase")
	return nil
}

// IsPurchased reports whether the advisory cache holds a purchase covering
// itemID at the given scope. A full purchase covers excerpt lookups.
func (c *Coordinator) IsPurchased(itemID string, scope domain.ContentScope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, rec := range c.purchases {
		if rec.ItemID == itemID && rec.Scope.Covers(scope) {
			return true
		}
	}
	return false
}

// SetTier records the session's stated tier. The tier is session state, not
// persisted; capacity checks resolve it against the catalog per evaluation.
func (c *Coordinator) SetTier(tier string) {
	start := time.Now()
	defer c.observe("set_tier", start)

	c.mu.Lock()
	defer c.mu.Unlock()

	if tier == "" {
		tier = c.cfg.DefaultTier
	}
	if _, ok := c.tiers.Lookup(tier); !ok {
		c.logger.Warn().Str("tier", tier).Msg("unknown tier stated, capacity will use the most restrictive limit")
	}
	c.tier = tier
	c.emitStateChanged("set_tier")
}

// Tier returns the session's stated tier.
func (c *Coordinator) Tier() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.tier
}

// DarkMode returns the dark mode preference.
func (c *Coordinator) DarkMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.darkMode
}

// SetDarkMode stores the dark mode preference. Preferences live in their own
// namespace and survive conversation clears.
func (c *Coordinator) SetDarkMode(ctx context.Context, enabled bool) {
	start := time.Now()
	defer c.observe("set_dark_mode", start)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.darkMode = enabled
	c.persistKey(ctx, prefsKey(c.sessionID, prefDarkMode), strconv.FormatBool(enabled))
	c.emitStateChanged("set_dark_mode")
}

// Snapshot returns a deep copy of the full session state.
func (c *Coordinator) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return State{
		SessionID:       c.sessionID,
		ConversationID:  c.conversationID,
		History:         copyMessages(c.history),
		SelectedSources: copySources(c.selections),
		Purchases:       copyPurchases(c.purchases),
		Summaries:       copySummaries(c.summaries),
		Report:          copyReport(c.report),
		ReportStatus:    c.reportStatus,
		LegacyStatus:    c.reportStatus.Legacy(),
		Tier:            c.tier,
		DarkMode:        c.darkMode,
		Degraded:        c.degraded,
	}
}

// ConversationID returns the current conversation ID.
func (c *Coordinator) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conversationID
}

// History returns a copy of the conversation history.
func (c *Coordinator) History() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	return copyMessages(c.history)
}

// SelectedSources returns a copy of the selection set.
func (c *Coordinator) SelectedSources() []domain.SelectedSource {
	c.mu.Lock()
	defer c.mu.Unlock()

	return copySources(c.selections)
}

// observe records the operation counter and duration.
func (c *Coordinator) observe(op string, start time.Time) {
	c.metrics.RecordOperation(op, time.Since(start).Seconds())
}

// emitStateChanged emits the single coalesced change notification for a
// mutating operation. Must be called with the mutex held so notifications
// are delivered in operation order.
func (c *Coordinator) emitStateChanged(op string) {
	c.emitEvent(domain.StateChangedEvent{
		SessionID:      c.sessionID,
		ConversationID: c.conversationID,
		Op:             op,
		OccurredAt:     c.now(),
	})
}

func (c *Coordinator) emitEvent(ev bus.Event) {
	c.metrics.RecordChangeEvent(ev.EventName())
	c.events.Emit(ev)
}

// loadKey reads a raw store key. Missing keys and read failures both report
// ok=false; read failures additionally degrade the session.
func (c *Coordinator) loadKey(ctx context.Context, key string) (string, bool) {
	value, err := c.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", false
		}
		c.degraded = true
		c.metrics.RecordStorageError("get")
		c.logger.Warn().Err(err).Str("key", key).Msg("state load failed, starting fresh")
		return "", false
	}
	return value, true
}

func (c *Coordinator) loadField(ctx context.Context, field string) (string, bool) {
	return c.loadKey(ctx, sessionKey(c.sessionID, field))
}

// loadJSON decodes a persisted field into v. Undecodable state is discarded
// with a warning; the session keeps its defaults.
func (c *Coordinator) loadJSON(ctx context.Context, field string, v interface{}) bool {
	raw, ok := c.loadField(ctx, field)
	if !ok || raw == "" || raw == "null" {
		return false
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		c.logger.Warn().Err(err).Str("field", field).Msg("discarding undecodable state")
		return false
	}
	return true
}

// persistKey write-through persists a raw store key. Failures degrade the
// session but never fail the operation. Must be called with the mutex held.
func (c *Coordinator) persistKey(ctx context.Context, key, value string) {
	start := time.Now()
	err := c.store.Set(ctx, key, value)
	c.metrics.RecordPersist(c.store.Name(), time.Since(start).Seconds())
	if err != nil {
		c.degraded = true
		c.metrics.RecordStorageError("set")
		c.logger.Warn().Err(err).Str("key", key).Msg("state persistence failed, continuing in memory")
	}
}

func (c *Coordinator) persistField(ctx context.Context, field, value string) {
	c.persistKey(ctx, sessionKey(c.sessionID, field), value)
}

// persistJSON encodes v and persists it under field.
func (c *Coordinator) persistJSON(ctx context.Context, field string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error().Err(err).Str("field", field).Msg("failed to encode session state")
		return
	}
	c.persistField(ctx, field, string(data))
}
