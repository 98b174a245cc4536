package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/helixir/research-session-service/internal/database"
	"github.com/helixir/research-session-service/internal/domain"
)

// DBTX is re-exported from the database package so store constructors can be
// called with a pool, a transaction, or a mock.
type DBTX = database.DBTX

// txBeginner is an interface for types that can begin a transaction (e.g.,
// *pgxpool.Pool). Used by SetMulti to apply a multi-key write atomically when
// the underlying DBTX is a pool rather than an existing transaction.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Session state queries. The table is a flat KV namespace; last write wins
// per key and updated_at tracks write recency for operational inspection.
const (
	getKeyQuery = `
		SELECT value
		FROM session_state
		WHERE session_key = $1`

	upsertKeyQuery = `
		INSERT INTO session_state (session_key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (session_key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`

	deleteKeyQuery = `
		DELETE FROM session_state
		WHERE session_key = $1`
)

// PostgresStore persists session state in the session_state table.
type PostgresStore struct {
	db     DBTX
	logger zerolog.Logger
}

// Compile-time check that *PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a Postgres-backed session state store.
func NewPostgresStore(db DBTX, logger zerolog.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

// Get returns the value stored under key, or domain.ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	if err := s.db.QueryRow(ctx, getKeyQuery, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.NewNotFoundError("session key", key)
		}
		return "", domain.NewStorageError("get", key, err)
	}
	return value, nil
}

// Set upserts value under key.
func (s *PostgresStore) Set(ctx context.Context, key, value string) error {
	if _, err := s.db.Exec(ctx, upsertKeyQuery, key, value); err != nil {
		return domain.NewStorageError("set", key, err)
	}
	return nil
}

// SetMulti upserts every entry of kv. When the underlying DBTX can begin a
// transaction the batch is applied atomically, so readers never observe a
// partially cleared conversation.
func (s *PostgresStore) SetMulti(ctx context.Context, kv map[string]string) error {
	if len(kv) == 0 {
		return nil
	}

	if beginner, ok := s.db.(txBeginner); ok {
		tx, err := beginner.Begin(ctx)
		if err != nil {
			return domain.NewStorageError("set_multi", "", fmt.Errorf("failed to begin transaction: %w", err))
		}

		for _, k := range sortedKeys(kv) {
			if _, err := tx.Exec(ctx, upsertKeyQuery, k, kv[k]); err != nil {
				if rbErr := tx.Rollback(ctx); rbErr != nil {
					s.logger.Error().Err(rbErr).Msg("failed to rollback session state batch")
				}
				return domain.NewStorageError("set_multi", k, err)
			}
		}
		if err := tx.Commit(ctx); err != nil {
			return domain.NewStorageError("set_multi", "", fmt.Errorf("failed to commit transaction: %w", err))
		}
		return nil
	}

	// Already running within a transaction, or the handle cannot begin one.
	for _, k := range sortedKeys(kv) {
		if _, err := s.db.Exec(ctx, upsertKeyQuery, k, kv[k]); err != nil {
			return domain.NewStorageError("set_multi", k, err)
		}
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.Exec(ctx, deleteKeyQuery, key); err != nil {
		return domain.NewStorageError("delete", key, err)
	}
	return nil
}

// Ping verifies the database is reachable through this handle.
func (s *PostgresStore) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return domain.NewStorageError("ping", "", err)
	}
	return nil
}

// Close releases the underlying handle when it owns connections.
func (s *PostgresStore) Close() error {
	if closer, ok := s.db.(interface{ Close() }); ok {
		closer.Close()
	}
	return nil
}

// Name identifies the backend.
func (s *PostgresStore) Name() string {
	return "postgres"
}
