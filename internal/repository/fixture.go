package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/oddsline/platform/internal/domain"
)

type fixtureRepo struct{}

// NewFixtureRepository returns a pgx-backed FixtureRepository.
func NewFixtureRepository() FixtureRepository {
	return &fixtureRepo{}
}

const fixtureColumns = `id, external_event_id, external_market_id, display_name, tournament,
		start_time, is_live, status, match_type, teams, is_active, last_synced_at, created_at, updated_at`

func (r *fixtureRepo) FindByExternalKey(ctx context.Context, db DBTX, eventID, marketID *string) (*domain.Fixture, error) {
	if eventID != nil && *eventID != "" {
		row := db.QueryRow(ctx, `
			SELECT `+fixtureColumns+`
			FROM matches WHERE external_event_id = $1`, *eventID)
		f, err := scanFixture(row)
		if err == nil || !errors.Is(err, pgx.ErrNoRows) {
			return f, err
		}
	}
	if marketID != nil && *marketID != "" {
		row := db.QueryRow(ctx, `
			SELECT `+fixtureColumns+`
			FROM matches WHERE external_market_id = $1`, *marketID)
		f, err := scanFixture(row)
		if err == nil || !errors.Is(err, pgx.ErrNoRows) {
			return f, err
		}
	}
	return nil, nil
}

func (r *fixtureRepo) Upsert(ctx context.Context, db DBTX, f *domain.Fixture) (*domain.Fixture, error) {
	if f.ExternalEventID == nil && f.ExternalMarketID == nil {
		return nil, fmt.Errorf("upsert fixture: no external key")
	}

	if f.ExternalEventID != nil {
		// A row first seen with only a market ID may later gain its event ID.
		// Adopt it instead of inserting a sibling under the event index.
		if f.ExternalMarketID != nil {
			if adopted, err := r.adoptMarketRow(ctx, db, f); err != nil || adopted != nil {
				return adopted, err
			}
		}
		return r.upsertByEvent(ctx, db, f)
	}
	return r.upsertByMarket(ctx, db, f)
}

func (r *fixtureRepo) adoptMarketRow(ctx context.Context, db DBTX, f *domain.Fixture) (*domain.Fixture, error) {
	row := db.QueryRow(ctx, `
		UPDATE matches SET
			external_event_id = $1,
			display_name = $3,
			tournament = $4,
			start_time = $5,
			is_live = $6,
			status = $7,
			match_type = $8,
			teams = $9,
			is_active = true,
			last_synced_at = now(),
			updated_at = now()
		WHERE external_event_id IS NULL AND external_market_id = $2
		RETURNING `+fixtureColumns,
		*f.ExternalEventID, *f.ExternalMarketID, f.DisplayName, f.Tournament,
		f.StartTime, f.IsLive, string(f.Status), f.MatchType, f.Teams)

	saved, err := scanFixture(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("adopt market row: %w", err)
	}
	return saved, nil
}

func (r *fixtureRepo) upsertByEvent(ctx context.Context, db DBTX, f *domain.Fixture) (*domain.Fixture, error) {
	row := db.QueryRow(ctx, `
		INSERT INTO matches (
			id, external_event_id, external_market_id, display_name, tournament,
			start_time, is_live, status, match_type, teams,
			is_active, last_synced_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, true, now(), now(), now())
		ON CONFLICT (external_event_id) WHERE external_event_id IS NOT NULL
		DO UPDATE SET
			external_market_id = COALESCE(EXCLUDED.external_market_id, matches.external_market_id),
			display_name = EXCLUDED.display_name,
			tournament = EXCLUDED.tournament,
			start_time = EXCLUDED.start_time,
			is_live = EXCLUDED.is_live,
			status = EXCLUDED.status,
			match_type = EXCLUDED.match_type,
			teams = EXCLUDED.teams,
			is_active = true,
			last_synced_at = now(),
			updated_at = now()
		RETURNING `+fixtureColumns,
		newID(f), f.ExternalEventID, f.ExternalMarketID, f.DisplayName, f.Tournament,
		f.StartTime, f.IsLive, string(f.Status), f.MatchType, f.Teams)

	saved, err := scanFixture(row)
	if err != nil {
		return nil, fmt.Errorf("upsert fixture by event: %w", err)
	}
	return saved, nil
}

func (r *fixtureRepo) upsertByMarket(ctx context.Context, db DBTX, f *domain.Fixture) (*domain.Fixture, error) {
	row := db.QueryRow(ctx, `
		INSERT INTO matches (
			id, external_event_id, external_market_id, display_name, tournament,
			start_time, is_live, status, match_type, teams,
			is_active, last_synced_at, created_at, updated_at)
		VALUES ($1, NULL, $2, $3, $4, $5, $6, $7, $8, $9, true, now(), now(), now())
		ON CONFLICT (external_market_id) WHERE external_market_id IS NOT NULL AND external_event_id IS NULL
		DO UPDATE SET
			display_name = EXCLUDED.display_name,
			tournament = EXCLUDED.tournament,
			start_time = EXCLUDED.start_time,
			is_live = EXCLUDED.is_live,
			status = EXCLUDED.status,
			match_type = EXCLUDED.match_type,
			teams = EXCLUDED.teams,
			is_active = true,
			last_synced_at = now(),
			updated_at = now()
		RETURNING `+fixtureColumns,
		newID(f), f.ExternalMarketID, f.DisplayName, f.Tournament,
		f.StartTime, f.IsLive, string(f.Status), f.MatchType, f.Teams)

	saved, err := scanFixture(row)
	if err != nil {
		return nil, fmt.Errorf("upsert fixture by market: %w", err)
	}
	return saved, nil
}

func (r *fixtureRepo) FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Fixture, error) {
	row := db.QueryRow(ctx, `
		SELECT `+fixtureColumns+`
		FROM matches WHERE id = $1`, id)
	f, err := scanFixture(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return f, err
}

func (r *fixtureRepo) List(ctx context.Context, db DBTX, onlyLive bool) ([]domain.Fixture, error) {
	rows, err := db.Query(ctx, `
		SELECT `+fixtureColumns+`
		FROM matches
		WHERE is_active AND ($1::bool = false OR is_live)
		ORDER BY start_time ASC NULLS LAST, created_at ASC`, onlyLive)
	if err != nil {
		return nil, fmt.Errorf("list fixtures: %w", err)
	}
	defer rows.Close()

	var out []domain.Fixture
	for rows.Next() {
		f, err := scanFixture(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fixture: %w", err)
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

func (r *fixtureRepo) RetireStale(ctx context.Context, db DBTX, before time.Time) (int64, error) {
	tag, err := db.Exec(ctx, `
		UPDATE matches SET is_active = false, updated_at = now()
		WHERE is_active AND last_synced_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("retire stale fixtures: %w", err)
	}
	return tag.RowsAffected(), nil
}

func newID(f *domain.Fixture) uuid.UUID {
	if f.ID != uuid.Nil {
		return f.ID
	}
	return uuid.New()
}

func scanFixture(row pgx.Row) (*domain.Fixture, error) {
	var f domain.Fixture
	var status string
	err := row.Scan(
		&f.ID, &f.ExternalEventID, &f.ExternalMarketID, &f.DisplayName, &f.Tournament,
		&f.StartTime, &f.IsLive, &status, &f.MatchType, &f.Teams,
		&f.IsActive, &f.LastSyncedAt, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	f.Status = domain.MatchStatus(status)
	return &f, nil
}
