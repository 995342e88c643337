package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgDB is the slice of the pgx pool API the store uses; pgxmock satisfies
// it in tests.
type pgDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps the checkpoint blob in a single-row table, one row
// per run name, upserted on every write.
type PostgresStore struct {
	db  pgDB
	run string
}

// NewPostgresStore connects a pool to the given DSN and ensures the
// checkpoint table exists.
func NewPostgresStore(ctx context.Context, dsn, run string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	store := NewPostgresStoreWithDB(pool, run)
	if err := store.ensureTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreWithDB wires an existing connection (or mock) directly.
func NewPostgresStoreWithDB(db pgDB, run string) *PostgresStore {
	if run == "" {
		run = "default"
	}
	return &PostgresStore{db: db, run: run}
}

func (s *PostgresStore) ensureTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS crawl_checkpoints (
			run_name TEXT PRIMARY KEY,
			blob BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`
	if _, err := s.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("create checkpoint table: %w", err)
	}
	return nil
}

// Write upserts the checkpoint blob for this run.
func (s *PostgresStore) Write(ctx context.Context, blob []byte) error {
	query := `
		INSERT INTO crawl_checkpoints (run_name, blob, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (run_name) DO UPDATE
		SET blob = EXCLUDED.blob, updated_at = EXCLUDED.updated_at;
	`
	if _, err := s.db.Exec(ctx, query, s.run, blob); err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}
	return nil
}

// Read loads the checkpoint blob; present is false when no row exists.
func (s *PostgresStore) Read(ctx context.Context) ([]byte, bool, error) {
	query := `SELECT blob FROM crawl_checkpoints WHERE run_name = $1;`
	var blob []byte
	err := s.db.QueryRow(ctx, query, s.run).Scan(&blob)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("query checkpoint: %w", err)
	}
	return blob, true, nil
}
