// Package pgstore provides a PostgreSQL implementation of seen.Store.
package pgstore

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/patrol/internal/postgres"
)

var tracer = otel.Tracer("github.com/linnemanlabs/patrol/internal/seen/pgstore")

//go:embed schema.sql
var schema string

// Store persists the dedup ledger in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL, applies the schema, and returns a ready Store.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Seen reports whether a revision was previously marked.
func (s *Store) Seen(ctx context.Context, revisionID int64) (bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Seen", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM seen_revisions WHERE revision_id = $1)`,
		revisionID,
	).Scan(&exists)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("seen lookup: %w", err)
	}
	return exists, nil
}

// Mark records a revision. Re-marking an existing revision is a no-op.
func (s *Store) Mark(ctx context.Context, revisionID int64) error {
	ctx, span := tracer.Start(ctx, "pgstore.Mark", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO seen_revisions (revision_id, marked_at) VALUES ($1, now())
		 ON CONFLICT (revision_id) DO NOTHING`,
		revisionID,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("mark revision: %w", err)
	}
	return nil
}

// Sweep deletes entries marked before the cutoff.
func (s *Store) Sweep(ctx context.Context, before time.Time) (int64, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Sweep", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "DELETE"),
	))
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM seen_revisions WHERE marked_at < $1`, before)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("sweep ledger: %w", err)
	}
	return tag.RowsAffected(), nil
}
