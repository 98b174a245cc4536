package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-session-service/internal/bus"
	"github.com/helixir/research-session-service/internal/domain"
	"github.com/helixir/research-session-service/internal/observability"
)

var (
	_ Sink = (*Forwarder)(nil)
	_ Sink = NoopSink{}
)

var metricsSeq atomic.Int64

func testMetrics() *observability.Metrics {
	return observability.NewMetrics(fmt.Sprintf("test_analytics_%d", metricsSeq.Add(1)))
}

// capturingWriter records written messages and can be told to fail.
type capturingWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *capturingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *capturingWriter) Close() error { return nil }

func (w *capturingWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

func newTestForwarder(t *testing.T, cfg Config) (*Forwarder, *capturingWriter, *observability.Metrics) {
	t.Helper()

	if len(cfg.Brokers) == 0 {
		cfg.Brokers = []string{"localhost:9092"}
	}
	if cfg.Topic == "" {
		cfg.Topic = "session-events"
	}

	metrics := testMetrics()
	f, err := NewForwarder(cfg, metrics, zerolog.Nop())
	require.NoError(t, err)

	// The broker is never dialed in tests.
	writer := &capturingWriter{}
	require.NoError(t, f.writer.Close())
	f.writer = writer
	return f, writer, metrics
}

func TestNewForwarder(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "requires brokers",
			cfg:     Config{Topic: "session-events"},
			wantErr: "broker",
		},
		{
			name:    "requires topic",
			cfg:     Config{Brokers: []string{"localhost:9092"}},
			wantErr: "topic",
		},
		{
			name: "accepts a minimal config",
			cfg:  Config{Brokers: []string{"localhost:9092"}, Topic: "session-events"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewForwarder(tt.cfg, testMetrics(), zerolog.Nop())
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, DefaultQueueSize, cap(f.queue))
			assert.Equal(t, DefaultWriteTimeout, f.writeTimeout)
			require.NoError(t, f.Close())
		})
	}
}

func TestForwarderEnqueue(t *testing.T) {
	t.Run("wraps the event in a named envelope keyed by session", func(t *testing.T) {
		f, writer, metrics := newTestForwarder(t, Config{})

		emitter := bus.NewEmitter(zerolog.Nop())
		unsubscribe := f.Attach(emitter)
		defer unsubscribe()

		emitter.Emit(domain.StateChangedEvent{
			SessionID:      "sess-1",
			ConversationID: "conv-1",
			Op:             "add_message",
		})

		msg := <-f.queue
		f.deliver(context.Background(), msg)

		written := writer.written()
		require.Len(t, written, 1)
		assert.Equal(t, []byte("sess-1"), written[0].Key)

		var got struct {
			Event   string                   `json:"event"`
			Payload domain.StateChangedEvent `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(written[0].Value, &got))
		assert.Equal(t, domain.EventStateChanged, got.Event)
		assert.Equal(t, "add_message", got.Payload.Op)
		assert.Equal(t, "conv-1", got.Payload.ConversationID)

		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AnalyticsForwarded))
	})

	t.Run("keys every event type by session", func(t *testing.T) {
		events := []bus.Event{
			domain.StateChangedEvent{SessionID: "sess-1"},
			domain.BudgetWarningEvent{SessionID: "sess-1"},
			domain.ReportStatusChangedEvent{SessionID: "sess-1"},
		}
		for _, ev := range events {
			assert.Equal(t, []byte("sess-1"), partitionKey(ev), ev.EventName())
		}
	})

	t.Run("drops when the queue is full", func(t *testing.T) {
		f, _, metrics := newTestForwarder(t, Config{QueueSize: 1})

		for i := 0; i < 3; i++ {
			f.enqueue(domain.StateChangedEvent{SessionID: "sess-1", Op: "add_message"})
		}

		assert.Len(t, f.queue, 1)
		assert.Equal(t, float64(2), testutil.ToFloat64(metrics.AnalyticsDropped))
	})

	t.Run("drops when the broker write fails", func(t *testing.T) {
		f, writer, metrics := newTestForwarder(t, Config{})
		writer.err = errors.New("broker unreachable")

		f.enqueue(domain.StateChangedEvent{SessionID: "sess-1"})
		f.deliver(context.Background(), <-f.queue)

		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AnalyticsDropped))
		assert.Equal(t, float64(0), testutil.ToFloat64(metrics.AnalyticsForwarded))
	})
}

func TestForwarderRun(t *testing.T) {
	f, writer, _ := newTestForwarder(t, Config{})

	emitter := bus.NewEmitter(zerolog.Nop())
	unsubscribe := f.Attach(emitter)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	for i := 0; i < 3; i++ {
		emitter.Emit(domain.StateChangedEvent{SessionID: "sess-1", Op: fmt.Sprintf("op-%d", i)})
	}

	assert.Eventually(t, func() bool {
		return len(writer.written()) == 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run must return when the context is cancelled")
	}
}

func TestNoopSink(t *testing.T) {
	sink := NoopSink{}

	emitter := bus.NewEmitter(zerolog.Nop())
	unsubscribe := sink.Attach(emitter)
	unsubscribe()

	// Emitting with a noop attached must be harmless.
	emitter.Emit(domain.StateChangedEvent{SessionID: "sess-1"})

	require.NoError(t, sink.Run(context.Background()))
	require.NoError(t, sink.Close())
}
