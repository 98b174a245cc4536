// Package session implements the per-session state coordinator for the
// research session service.
//
// # Overview
//
// A Coordinator is the single owner of one browser session's state:
// conversation history, selected sources, the advisory purchase and summary
// caches, the report status machine, the latest research data, and
// preferences. All operations on a coordinator are serialized by a session
// mutex, every mutation write-through persists to the KV store before
// returning, and each mutating operation emits exactly one change
// notification on the bus.
//
// # Lifecycle
//
// The Manager creates coordinators on demand, keyed by the caller-supplied
// session ID, and evicts them after an idle period:
//
//	manager, err := session.NewManager(cfg, session.Deps{
//	    Store:   store,
//	    Events:  emitter,
//	    Tiers:   tiers,
//	    Reports: reportsClient,
//	    Metrics: metrics,
//	    Logger:  logger,
//	})
//
//	coordinator, err := manager.Get(ctx, sessionID)
//	msg, duplicate, err := coordinator.AddMessage(ctx, domain.SenderUser, "hello", nil)
//
// Eviction only drops the in-memory coordinator; the persisted state stays in
// the store and the next request rebuilds from it. Two coordinator instances
// for one session (two service instances, or eviction races) behave like two
// browser tabs: last write wins, by contract of the backing store.
//
// # Degraded mode
//
// Storage failures never fail an operation. Reads that fail during
// Initialize fall back to a fresh in-memory session; writes that fail are
// logged and skipped. Either way the session is flagged degraded and keeps
// serving from memory.
//
// # Async continuations
//
// GenerateReport releases the session mutex around its network calls. It
// captures the conversation ID at dispatch and re-checks it when resuming;
// results that arrive after the conversation was cleared are discarded with
// a logged notice and no state change.
package session
