package storage

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// builder is the shared squirrel builder with Postgres placeholders. Query
// text is always assembled from parameterized builders; identifiers are never
// formatted in at call sites.
var builder = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Open opens a Postgres connection using the pgx stdlib driver and verifies
// connectivity.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Store bundles all Postgres-backed repositories over one connection pool.
type Store struct {
	db *sql.DB
}

// New wires a sql.DB into the repository bundle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Facts returns the stage-1 fact cache repository.
func (s *Store) Facts() *FactRepo { return &FactRepo{db: s.db} }

// Reports returns the insert-only report cache repository.
func (s *Store) Reports() *ReportRepo { return &ReportRepo{db: s.db} }

// Ledger returns the delivery reservation repository.
func (s *Store) Ledger() *LedgerRepo { return &LedgerRepo{db: s.db} }

// Posts returns the harvested-post repository.
func (s *Store) Posts() *PostRepo { return &PostRepo{db: s.db} }

// Directory returns the subscriber/pack repository.
func (s *Store) Directory() *DirectoryRepo { return &DirectoryRepo{db: s.db} }

// Ping verifies store connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
