package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oddsline/platform/internal/domain"
)

// DBTX abstracts pgx.Tx and pgxpool.Pool so repositories work with both.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// FixtureRepository is the persistence port for match records. The matches
// table carries partial unique indexes on both external keys; Upsert relies
// on them so two writers racing on the same key can never create duplicates.
type FixtureRepository interface {
	// FindByExternalKey resolves a fixture by event ID first, market ID second.
	FindByExternalKey(ctx context.Context, db DBTX, eventID, marketID *string) (*domain.Fixture, error)

	// Upsert atomically creates or updates the row for the fixture's external
	// key and returns the persisted record. The row ID is stable across updates.
	Upsert(ctx context.Context, db DBTX, f *domain.Fixture) (*domain.Fixture, error)

	// FindByID returns a fixture by internal ID.
	FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Fixture, error)

	// List returns active fixtures, optionally only in-play ones.
	List(ctx context.Context, db DBTX, onlyLive bool) ([]domain.Fixture, error)

	// RetireStale soft-deletes active fixtures last seen before the cutoff.
	// Rows are never hard-deleted; history stays for audit and settlement.
	RetireStale(ctx context.Context, db DBTX, before time.Time) (int64, error)
}
