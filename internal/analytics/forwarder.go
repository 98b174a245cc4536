// Package analytics forwards session change events to Kafka for offline
// analysis. Forwarding is fire-and-forget: the bus handler never blocks the
// emitting operation, and events are dropped with a warning when the queue
// is full or the broker is unreachable.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/research-session-service/internal/bus"
	"github.com/helixir/research-session-service/internal/domain"
	"github.com/helixir/research-session-service/internal/observability"
)

const (
	// DefaultQueueSize bounds the handoff queue between the bus handler and
	// the delivery loop.
	DefaultQueueSize = 256

	// DefaultWriteTimeout bounds a single broker write.
	DefaultWriteTimeout = 5 * time.Second
)

// Sink receives session events for forwarding to an external pipeline.
type Sink interface {
	// Attach subscribes the sink to the emitter. The returned closure
	// unsubscribes it.
	Attach(emitter *bus.Emitter) func()

	// Run delivers queued events until the context is cancelled.
	Run(ctx context.Context) error

	// Close releases the sink's transport.
	Close() error
}

// NoopSink discards everything. Used when analytics is disabled.
type NoopSink struct{}

func (NoopSink) Attach(*bus.Emitter) func() { return func() {} }
func (NoopSink) Run(context.Context) error  { return nil }
func (NoopSink) Close() error               { return nil }

// Config holds configuration for the analytics forwarder.
type Config struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string

	// Topic is the Kafka topic session events are published to.
	Topic string

	// QueueSize bounds the in-memory handoff queue. Events beyond it are
	// dropped.
	QueueSize int

	// WriteTimeout bounds a single broker write.
	WriteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	return c
}

// messageWriter is the slice of kafka.Writer the forwarder uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Forwarder subscribes to the change notification bus and publishes each
// event to Kafka, keyed by session ID so per-session ordering survives
// partitioning.
type Forwarder struct {
	writer       messageWriter
	queue        chan kafka.Message
	writeTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

// NewForwarder creates a Kafka-backed analytics forwarder.
func NewForwarder(cfg Config, metrics *observability.Metrics, logger zerolog.Logger) (*Forwarder, error) {
	cfg = cfg.withDefaults()
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("analytics: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("analytics: topic is required")
	}
	if metrics == nil {
		return nil, fmt.Errorf("analytics: metrics are required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
	}

	return &Forwarder{
		writer:       writer,
		queue:        make(chan kafka.Message, cfg.QueueSize),
		writeTimeout: cfg.WriteTimeout,
		metrics:      metrics,
		logger:       logger.With().Str("component", "analytics_forwarder").Logger(),
	}, nil
}

// envelope is the wire shape published to Kafka: the event name plus the
// event payload, so consumers can dispatch without guessing at the schema.
type envelope struct {
	Event   string    `json:"event"`
	Payload bus.Event `json:"payload"`
}

// Attach subscribes the forwarder to every event on the emitter.
func (f *Forwarder) Attach(emitter *bus.Emitter) func() {
	return emitter.OnAny(f.enqueue)
}

// enqueue runs on the emitting goroutine, which holds the session mutex, so
// it must never block: a full queue drops the event.
func (f *Forwarder) enqueue(ev bus.Event) {
	value, err := json.Marshal(envelope{Event: ev.EventName(), Payload: ev})
	if err != nil {
		f.metrics.RecordAnalyticsDropped()
		f.logger.Warn().Err(err).Str("event", ev.EventName()).Msg("dropping analytics event, marshal failed")
		return
	}

	msg := kafka.Message{
		Key:   partitionKey(ev),
		Value: value,
	}

	select {
	case f.queue <- msg:
	default:
		f.metrics.RecordAnalyticsDropped()
		f.logger.Warn().Str("event", ev.EventName()).Msg("dropping analytics event, queue full")
	}
}

// partitionKey keys messages by session so one session's events stay ordered
// within a partition.
func partitionKey(ev bus.Event) []byte {
	switch e := ev.(type) {
	case domain.StateChangedEvent:
		return []byte(e.SessionID)
	case domain.BudgetWarningEvent:
		return []byte(e.SessionID)
	case domain.ReportStatusChangedEvent:
		return []byte(e.SessionID)
	}
	return nil
}

// Run delivers queued events until the context is cancelled. Events still
// queued at shutdown are dropped; the pipeline is advisory.
func (f *Forwarder) Run(ctx context.Context) error {
	f.logger.Info().Msg("starting analytics forwarder")

	for {
		select {
		case <-ctx.Done():
			f.logger.Info().Msg("analytics forwarder stopped via context cancellation")
			return ctx.Err()
		case msg := <-f.queue:
			f.deliver(ctx, msg)
		}
	}
}

// deliver writes one message to the broker. Failures drop the event; the
// coordinator must never feel the broker.
func (f *Forwarder) deliver(ctx context.Context, msg kafka.Message) {
	writeCtx, cancel := context.WithTimeout(ctx, f.writeTimeout)
	defer cancel()

	if err := f.writer.WriteMessages(writeCtx, msg); err != nil {
		f.metrics.RecordAnalyticsDropped()
		f.logger.Warn().Err(err).Msg("dropping analytics event, broker write failed")
		return
	}
	f.metrics.RecordAnalyticsForwarded()
}

// Close closes the Kafka writer.
func (f *Forwarder) Close() error {
	f.logger.Info().Msg("closing analytics forwarder")
	return f.writer.Close()
}
