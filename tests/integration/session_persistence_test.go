//go:build integration

package integration

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-session-service/internal/bus"
	"github.com/helixir/research-session-service/internal/catalog"
	"github.com/helixir/research-session-service/internal/domain"
	"github.com/helixir/research-session-service/internal/kvstore"
	"github.com/helixir/research-session-service/internal/observability"
	"github.com/helixir/research-session-service/internal/session"
)

// Prometheus collectors register globally, so each manager gets its own
// metrics namespace.
var metricsSeq atomic.Int64

func newTestManager(t *testing.T, store kvstore.Store) *session.Manager {
	t.Helper()
	manager, err := session.NewManager(session.ManagerConfig{}, session.Deps{
		Store:   store,
		Events:  bus.NewEmitter(zerolog.Nop()),
		Tiers:   catalog.Default(),
		Metrics: observability.NewMetrics(fmt.Sprintf("test_integration_%d", metricsSeq.Add(1))),
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)
	return manager
}

func price(v float64) *float64 { return &v }

// State written through one manager must be visible to a coordinator built
// fresh from the same database, as happens after an idle eviction or a
// process restart.
func TestSessionState_SurvivesRestart(t *testing.T) {
	cleanTable(t, "session_state")
	ctx := context.Background()
	store := kvstore.NewPostgresStore(testPool, zerolog.Nop())
	const sessionID = "it-restart-1"

	first := newTestManager(t, store)
	coord, err := first.Get(ctx, sessionID)
	require.NoError(t, err)

	_, _, err = coord.AddMessage(ctx, domain.SenderUser, "what did the trial show?", nil)
	require.NoError(t, err)
	_, _, err = coord.AddMessage(ctx, domain.SenderAssistant, "The trial reported a 12% improvement.",
		map[string]interface{}{"confidence": 0.9})
	require.NoError(t, err)

	toggle, err := coord.ToggleSourceSelection(ctx, domain.SelectedSource{
		ID:          "src-1",
		Title:       "Phase III results",
		UnlockPrice: price(3.5),
	})
	require.NoError(t, err)
	require.True(t, toggle.Selected)

	require.NoError(t, coord.AddPurchase(ctx, domain.PurchaseRecord{
		ItemID: "paper-9",
		Scope:  domain.ContentScopeFull,
		Price:  4.99,
	}))
	require.NoError(t, coord.CacheSummary(ctx, domain.SummaryRecord{
		SourceID: "src-1",
		Scope:    domain.ContentScopeExcerpt,
		Summary:  "Short take on the trial.",
		Price:    0.5,
	}))
	coord.SetDarkMode(ctx, true)

	// Tier and report machine state are deliberately not persisted: the
	// tier is restated by the client each lifetime, and a restart resets
	// any in-flight report flow.
	coord.SetTier("basic")
	_, err = coord.SetReportStatus(domain.ReportStatusPricing)
	require.NoError(t, err)
	assert.Equal(t, "basic", coord.Tier())

	conversationID := coord.ConversationID()

	// A fresh manager over the same database sees everything durable.
	second := newTestManager(t, store)
	restored, err := second.Get(ctx, sessionID)
	require.NoError(t, err)

	state := restored.Snapshot()
	assert.Equal(t, sessionID, state.SessionID)
	assert.Equal(t, conversationID, state.ConversationID)
	require.Len(t, state.History, 2)
	assert.Equal(t, "what did the trial show?", state.History[0].Content)
	assert.Equal(t, domain.SenderAssistant, state.History[1].Sender)
	assert.Equal(t, 0.9, state.History[1].Metadata["confidence"])

	require.Len(t, state.SelectedSources, 1)
	assert.Equal(t, "src-1", state.SelectedSources[0].ID)
	require.NotNil(t, state.SelectedSources[0].UnlockPrice)
	assert.Equal(t, 3.5, *state.SelectedSources[0].UnlockPrice)

	assert.True(t, restored.IsPurchased("paper-9", domain.ContentScopeFull))
	summary, ok := restored.CachedSummary("src-1", domain.ContentScopeExcerpt)
	require.True(t, ok)
	assert.Equal(t, "Short take on the trial.", summary.Summary)

	assert.True(t, state.DarkMode)
	assert.Equal(t, session.DefaultTier, state.Tier)
	assert.Equal(t, domain.ReportStatusIdle, state.ReportStatus)
	assert.False(t, state.Degraded)
}

func TestClearConversation_PersistsRotation(t *testing.T) {
	cleanTable(t, "session_state")
	ctx := context.Background()
	store := kvstore.NewPostgresStore(testPool, zerolog.Nop())
	const sessionID = "it-clear-1"

	first := newTestManager(t, store)
	coord, err := first.Get(ctx, sessionID)
	require.NoError(t, err)

	_, _, err = coord.AddMessage(ctx, domain.SenderUser, "old conversation", nil)
	require.NoError(t, err)
	_, err = coord.ToggleSourceSelection(ctx, domain.SelectedSource{ID: "src-old"})
	require.NoError(t, err)
	coord.SetDarkMode(ctx, true)

	rotated := coord.ClearConversation(ctx)

	second := newTestManager(t, store)
	restored, err := second.Get(ctx, sessionID)
	require.NoError(t, err)

	state := restored.Snapshot()
	assert.Equal(t, rotated, state.ConversationID)
	assert.Empty(t, state.History)
	assert.Empty(t, state.SelectedSources, "selections from the cleared conversation are purged")
	assert.True(t, state.DarkMode, "preferences survive a conversation clear")
}

// Selections left over from a previous conversation must not rehydrate into
// the current one.
func TestStaleSelections_DroppedOnRehydration(t *testing.T) {
	cleanTable(t, "session_state")
	ctx := context.Background()
	store := kvstore.NewPostgresStore(testPool, zerolog.Nop())
	const sessionID = "it-stale-1"

	// Simulate a crash between writing selections and rotating the
	// conversation: the persisted selections carry a conversation ID that
	// no longer matches.
	require.NoError(t, store.Set(ctx, "session:"+sessionID+":conversationId", "conv-current"))
	require.NoError(t, store.Set(ctx, "session:"+sessionID+":selectedSources",
		`[{"id":"src-ghost","conversation_id":"conv-previous","selected_at":"2026-01-02T15:04:05Z"}]`))

	manager := newTestManager(t, store)
	coord, err := manager.Get(ctx, sessionID)
	require.NoError(t, err)

	assert.Equal(t, "conv-current", coord.ConversationID())
	assert.Empty(t, coord.SelectedSources())
}
