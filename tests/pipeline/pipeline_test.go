// Package pipeline provides integration tests for the full session flow.
// These tests verify the complete path: hydrate -> converse -> select ->
// price -> generate -> clear, including the change events emitted along it.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
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
	"github.com/helixir/research-session-service/internal/reports"
	"github.com/helixir/research-session-service/internal/session"
)

// Prometheus collectors register globally, so each environment gets its own
// metrics namespace.
var metricsSeq atomic.Int64

// eventRecorder captures every event crossing the bus, in emission order.
type eventRecorder struct {
	mu     sync.Mutex
	events []bus.Event
}

func (r *eventRecorder) record(ev bus.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.EventName()
	}
	return out
}

func (r *eventRecorder) all() []bus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bus.Event(nil), r.events...)
}

func (r *eventRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// stubReportsClient prices and generates from canned responses.
type stubReportsClient struct{}

func (stubReportsClient) PriceReport(_ context.Context, req reports.PriceRequest) (*reports.Quote, error) {
	return &reports.Quote{
		QuoteID:  "quote-pipeline",
		Total:    float64(len(req.Sources)) * 1.5,
		Currency: "USD",
	}, nil
}

func (stubReportsClient) GenerateReport(context.Context, reports.GenerateRequest) (*reports.GeneratedReport, error) {
	return &reports.GeneratedReport{Document: json.RawMessage(`{"title":"Pipeline Findings","sections":[]}`)}, nil
}

type testEnv struct {
	manager  *session.Manager
	store    *kvstore.MemoryStore
	recorder *eventRecorder
}

func newTestEnv(t *testing.T, cfg session.Config) *testEnv {
	t.Helper()

	store := kvstore.NewMemoryStore()
	emitter := bus.NewEmitter(zerolog.Nop())
	recorder := &eventRecorder{}
	t.Cleanup(emitter.OnAny(recorder.record))

	manager, err := session.NewManager(session.ManagerConfig{Coordinator: cfg}, session.Deps{
		Store:   store,
		Events:  emitter,
		Tiers:   catalog.Default(),
		Reports: stubReportsClient{},
		Metrics: observability.NewMetrics(fmt.Sprintf("test_pipeline_%d", metricsSeq.Add(1))),
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)

	return &testEnv{manager: manager, store: store, recorder: recorder}
}

// stateChangedOps filters the recorded events down to the state change ops.
func stateChangedOps(events []bus.Event) []string {
	var ops []string
	for _, ev := range events {
		if changed, ok := ev.(domain.StateChangedEvent); ok {
			ops = append(ops, changed.Op)
		}
	}
	return ops
}

func TestSessionPipeline(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping pipeline test in short mode")
	}
	ctx := context.Background()

	t.Run("full flow from hydration to generated report", func(t *testing.T) {
		env := newTestEnv(t, session.Config{DefaultTier: "premium"})
		coord, err := env.manager.Get(ctx, "pipe-full")
		require.NoError(t, err)
		env.recorder.reset()

		_, _, err = coord.AddMessage(ctx, domain.SenderUser, "find studies on sleep and memory", nil)
		require.NoError(t, err)
		_, _, err = coord.AddMessage(ctx, domain.SenderAssistant, "I found two relevant studies.", nil)
		require.NoError(t, err)

		unlock := 2.0
		plain := 1.5
		toggle, err := coord.ToggleSourceSelection(ctx, domain.SelectedSource{ID: "src-a", UnlockPrice: &unlock})
		require.NoError(t, err)
		require.True(t, toggle.Selected)
		toggle, err = coord.ToggleSourceSelection(ctx, domain.SelectedSource{ID: "src-b", Price: &plain})
		require.NoError(t, err)
		require.Equal(t, 2, toggle.SelectedCount)

		assert.InDelta(t, 3.5, coord.SelectedSourcesTotal(), 1e-9)

		report, err := coord.GenerateReport(ctx)
		require.NoError(t, err)
		require.NotNil(t, report)
		assert.InDelta(t, 3.0, report.Price, 1e-9, "two sources at the stub rate")
		assert.JSONEq(t, `{"title":"Pipeline Findings","sections":[]}`, string(report.Content))

		state := coord.Snapshot()
		assert.Equal(t, domain.ReportStatusComplete, state.ReportStatus)
		assert.Equal(t, domain.LegacyReportStatusComplete, state.LegacyStatus)
		require.NotNil(t, state.Report)
		assert.Equal(t, state.ConversationID, state.Report.ConversationID)

		// The event stream tells the whole story, in operation order.
		assert.Equal(t, []string{
			domain.EventStateChanged, // add_message
			domain.EventStateChanged, // add_message
			domain.EventStateChanged, // toggle_source
			domain.EventStateChanged, // toggle_source
			domain.EventReportStatusChanged, // idle -> pricing
			domain.EventReportStatusChanged, // pricing -> generating
			domain.EventReportStatusChanged, // generating -> complete
			domain.EventStateChanged, // report_generated
		}, env.recorder.names())
		assert.Equal(t, []string{
			"add_message", "add_message", "toggle_source", "toggle_source", "report_generated",
		}, stateChangedOps(env.recorder.all()))
	})

	t.Run("conversation clear rotates scope and keeps account data", func(t *testing.T) {
		env := newTestEnv(t, session.Config{DefaultTier: "premium"})
		coord, err := env.manager.Get(ctx, "pipe-clear")
		require.NoError(t, err)

		_, _, err = coord.AddMessage(ctx, domain.SenderUser, "scope to be cleared", nil)
		require.NoError(t, err)
		_, err = coord.ToggleSourceSelection(ctx, domain.SelectedSource{ID: "src-scope"})
		require.NoError(t, err)
		require.NoError(t, coord.AddPurchase(ctx, domain.PurchaseRecord{
			ItemID: "paper-kept", Scope: domain.ContentScopeFull, Price: 2.0,
		}))
		require.NoError(t, coord.CacheSummary(ctx, domain.SummaryRecord{
			SourceID: "src-scope", Scope: domain.ContentScopeFull, Summary: "kept summary",
		}))
		coord.SetDarkMode(ctx, true)

		_, err = coord.GenerateReport(ctx)
		require.NoError(t, err)

		previous := coord.ConversationID()
		rotated := coord.ClearConversation(ctx)
		assert.NotEqual(t, previous, rotated)

		state := coord.Snapshot()
		assert.Empty(t, state.History)
		assert.Empty(t, state.SelectedSources)
		assert.Nil(t, state.Report)
		assert.Equal(t, domain.ReportStatusIdle, state.ReportStatus)

		// Account-scoped data survives the clear.
		assert.True(t, coord.IsPurchased("paper-kept", domain.ContentScopeFull))
		_, found := coord.CachedSummary("src-scope", domain.ContentScopeFull)
		assert.True(t, found)
		assert.True(t, coord.DarkMode())

		// The reset is durable, not only in memory.
		persisted, err := env.store.Get(ctx, "session:pipe-clear:selectedSources")
		require.NoError(t, err)
		assert.Equal(t, "[]", persisted)
		persisted, err = env.store.Get(ctx, "session:pipe-clear:conversationId")
		require.NoError(t, err)
		assert.Equal(t, rotated, persisted)
	})

	t.Run("tier capacity rejection emits a budget warning", func(t *testing.T) {
		env := newTestEnv(t, session.Config{})
		coord, err := env.manager.Get(ctx, "pipe-budget")
		require.NoError(t, err)

		// The default free tier allows a single selection.
		toggle, err := coord.ToggleSourceSelection(ctx, domain.SelectedSource{ID: "src-1"})
		require.NoError(t, err)
		require.True(t, toggle.Selected)

		env.recorder.reset()
		toggle, err = coord.ToggleSourceSelection(ctx, domain.SelectedSource{ID: "src-2"})
		require.NoError(t, err, "a capacity rejection is a result, not an error")
		assert.True(t, toggle.Rejected)
		assert.Equal(t, 1, toggle.SelectedCount)
		assert.Equal(t, 1, toggle.Limit)

		events := env.recorder.all()
		require.Len(t, events, 1)
		warning, ok := events[0].(domain.BudgetWarningEvent)
		require.True(t, ok, "a rejected selection emits only a budget warning")
		assert.Equal(t, "src-2", warning.SourceID)
		assert.Equal(t, "free", warning.Tier)
		assert.Equal(t, 1, warning.Limit)
		assert.Equal(t, 1, warning.SelectedCount)

		// Upgrading makes room; the stated tier applies immediately.
		coord.SetTier("premium")
		toggle, err = coord.ToggleSourceSelection(ctx, domain.SelectedSource{ID: "src-2"})
		require.NoError(t, err)
		assert.True(t, toggle.Selected)
		assert.Equal(t, 2, toggle.SelectedCount)

		// Deselection always works, capacity or not.
		coord.SetTier("free")
		toggle, err = coord.ToggleSourceSelection(ctx, domain.SelectedSource{ID: "src-1"})
		require.NoError(t, err)
		assert.False(t, toggle.Selected)
		assert.Equal(t, 1, toggle.SelectedCount)
	})

	t.Run("duplicate messages are suppressed within the window", func(t *testing.T) {
		env := newTestEnv(t, session.Config{})
		coord, err := env.manager.Get(ctx, "pipe-dup")
		require.NoError(t, err)
		env.recorder.reset()

		first, duplicate, err := coord.AddMessage(ctx, domain.SenderUser, "said twice", nil)
		require.NoError(t, err)
		require.False(t, duplicate)

		second, duplicate, err := coord.AddMessage(ctx, domain.SenderUser, "said twice", nil)
		require.NoError(t, err)
		assert.True(t, duplicate)
		assert.Equal(t, first.ID, second.ID)

		assert.Len(t, coord.History(), 1)
		assert.Len(t, env.recorder.names(), 1, "a suppressed duplicate emits no event")
	})

	t.Run("history is trimmed to the configured cap", func(t *testing.T) {
		env := newTestEnv(t, session.Config{MaxHistory: 3})
		coord, err := env.manager.Get(ctx, "pipe-cap")
		require.NoError(t, err)

		for i := 1; i <= 5; i++ {
			_, _, err := coord.AddMessage(ctx, domain.SenderUser, fmt.Sprintf("message %d", i), nil)
			require.NoError(t, err)
		}

		history := coord.History()
		require.Len(t, history, 3)
		assert.Equal(t, "message 3", history[0].Content)
		assert.Equal(t, "message 5", history[2].Content)
	})

	t.Run("concurrent sessions stay isolated", func(t *testing.T) {
		env := newTestEnv(t, session.Config{DefaultTier: "premium"})

		alpha, err := env.manager.Get(ctx, "pipe-alpha")
		require.NoError(t, err)
		beta, err := env.manager.Get(ctx, "pipe-beta")
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(2)
			go func(i int) {
				defer wg.Done()
				_, _, err := alpha.AddMessage(ctx, domain.SenderUser, fmt.Sprintf("alpha %d", i), nil)
				assert.NoError(t, err)
			}(i)
			go func(i int) {
				defer wg.Done()
				_, err := beta.ToggleSourceSelection(ctx, domain.SelectedSource{ID: fmt.Sprintf("src-%d", i)})
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		assert.Len(t, alpha.History(), 10)
		assert.Empty(t, alpha.SelectedSources())
		assert.Empty(t, beta.History())
		assert.Len(t, beta.SelectedSources(), 10)

		for _, ev := range env.recorder.all() {
			changed, ok := ev.(domain.StateChangedEvent)
			require.True(t, ok)
			switch changed.Op {
			case "add_message":
				assert.Equal(t, "pipe-alpha", changed.SessionID)
			case "toggle_source":
				assert.Equal(t, "pipe-beta", changed.SessionID)
			default:
				t.Errorf("unexpected op %q", changed.Op)
			}
		}
	})
}
