package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oddsline/platform/internal/domain"
	"github.com/oddsline/platform/internal/guard"
	"github.com/oddsline/platform/internal/provider"
	"github.com/oddsline/platform/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ── fakes ──

type fakeFeed struct {
	mu      sync.Mutex
	body    string
	err     error
	fetches int
}

func (f *fakeFeed) FetchFixtures(ctx context.Context) ([]provider.RawFixture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	var records []provider.RawFixture
	if err := json.Unmarshal([]byte(f.body), &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (f *fakeFeed) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

// memFixtureRepo is an in-memory FixtureRepository honoring the external-key
// uniqueness and stable-ID contracts.
type memFixtureRepo struct {
	mu       sync.Mutex
	rows     map[uuid.UUID]*domain.Fixture
	failKeys map[string]bool
}

func newMemRepo() *memFixtureRepo {
	return &memFixtureRepo{rows: map[uuid.UUID]*domain.Fixture{}, failKeys: map[string]bool{}}
}

func (m *memFixtureRepo) findLocked(eventID, marketID *string) *domain.Fixture {
	if eventID != nil && *eventID != "" {
		for _, f := range m.rows {
			if f.ExternalEventID != nil && *f.ExternalEventID == *eventID {
				return f
			}
		}
	}
	if marketID != nil && *marketID != "" {
		for _, f := range m.rows {
			if f.ExternalMarketID != nil && *f.ExternalMarketID == *marketID {
				return f
			}
		}
	}
	return nil
}

func (m *memFixtureRepo) FindByExternalKey(_ context.Context, _ repository.DBTX, eventID, marketID *string) (*domain.Fixture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f := m.findLocked(eventID, marketID); f != nil {
		cp := *f
		return &cp, nil
	}
	return nil, nil
}

func (m *memFixtureRepo) Upsert(_ context.Context, _ repository.DBTX, f *domain.Fixture) (*domain.Fixture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failKeys[f.ExternalKey()] {
		return nil, errors.New("simulated constraint violation")
	}

	now := time.Now()
	existing := m.findLocked(f.ExternalEventID, f.ExternalMarketID)
	if existing == nil {
		cp := *f
		cp.ID = uuid.New()
		cp.IsActive = true
		cp.CreatedAt = now
		cp.UpdatedAt = now
		cp.LastSyncedAt = now
		m.rows[cp.ID] = &cp
		out := cp
		return &out, nil
	}

	existing.ExternalEventID = coalescePtr(f.ExternalEventID, existing.ExternalEventID)
	existing.ExternalMarketID = coalescePtr(f.ExternalMarketID, existing.ExternalMarketID)
	existing.DisplayName = f.DisplayName
	existing.Tournament = f.Tournament
	existing.StartTime = f.StartTime
	existing.IsLive = f.IsLive
	existing.Status = f.Status
	existing.MatchType = f.MatchType
	existing.Teams = f.Teams
	existing.IsActive = true
	existing.LastSyncedAt = now
	existing.UpdatedAt = now
	cp := *existing
	return &cp, nil
}

func (m *memFixtureRepo) FindByID(_ context.Context, _ repository.DBTX, id uuid.UUID) (*domain.Fixture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.rows[id]; ok {
		cp := *f
		return &cp, nil
	}
	return nil, nil
}

func (m *memFixtureRepo) List(_ context.Context, _ repository.DBTX, onlyLive bool) ([]domain.Fixture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Fixture
	for _, f := range m.rows {
		if !f.IsActive || (onlyLive && !f.IsLive) {
			continue
		}
		out = append(out, *f)
	}
	return out, nil
}

func (m *memFixtureRepo) RetireStale(_ context.Context, _ repository.DBTX, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, f := range m.rows {
		if f.IsActive && f.LastSyncedAt.Before(before) {
			f.IsActive = false
			n++
		}
	}
	return n, nil
}

func (m *memFixtureRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func coalescePtr(a, b *string) *string {
	if a != nil {
		return a
	}
	return b
}

type recordedDelta struct {
	matchID string
	typ     domain.UpdateType
	data    interface{}
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	deltas []recordedDelta
}

func (r *recordingBroadcaster) Broadcast(matchID string, typ domain.UpdateType, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deltas = append(r.deltas, recordedDelta{matchID, typ, data})
}

func (r *recordingBroadcaster) all() []recordedDelta {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedDelta(nil), r.deltas...)
}

func syncLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// ── tests ──

func TestRunPass_EndToEnd(t *testing.T) {
	now := time.Date(2025, 1, 15, 11, 0, 0, 0, time.UTC)
	feed := &fakeFeed{body: `[{"beventId":"34626187","ename":"A vs B","stime":"2025-01-15T10:00:00Z","iplay":true}]`}
	repo := newMemRepo()
	bcast := &recordingBroadcaster{}

	svc := NewSyncService(nil, repo, feed, syncLogger(),
		WithBroadcaster(bcast),
		WithClock(func() time.Time { return now }))

	report, err := svc.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.TotalFixtures)
	assert.Equal(t, 1, report.SavedMatches)
	require.Equal(t, 1, repo.count())

	matches, err := svc.ListMatches(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	created := matches[0]
	assert.Equal(t, "A vs B", created.DisplayName)
	assert.Equal(t, domain.StatusLive, created.Status)
	assert.True(t, created.IsLive)

	deltas := bcast.all()
	require.Len(t, deltas, 1)
	assert.Equal(t, domain.UpdateMatch, deltas[0].typ)
	assert.Equal(t, created.ID.String(), deltas[0].matchID)

	// Same event goes out of play: same record updated, no duplicate.
	feed.body = `[{"beventId":"34626187","ename":"A vs B","stime":"2025-01-15T10:00:00Z","iplay":false}]`
	report, err = svc.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.SavedMatches)
	assert.Equal(t, 1, repo.count(), "reconcile must not duplicate the record")

	updated, err := svc.GetMatch(context.Background(), created.ID.String())
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, created.ID, updated.ID)
	assert.False(t, updated.IsLive)

	deltas = bcast.all()
	require.Len(t, deltas, 2)
	assert.Equal(t, domain.UpdateStatus, deltas[1].typ)
}

func TestRunPass_Idempotent(t *testing.T) {
	feed := &fakeFeed{body: `[{"beventId":"7","ename":"A vs B","status":"open"}]`}
	repo := newMemRepo()
	svc := NewSyncService(nil, repo, feed, syncLogger())

	_, err := svc.RunPass(context.Background())
	require.NoError(t, err)
	first, _ := svc.ListMatches(context.Background(), false)
	require.Len(t, first, 1)

	_, err = svc.RunPass(context.Background())
	require.NoError(t, err)
	second, _ := svc.ListMatches(context.Background(), false)
	require.Len(t, second, 1)

	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, first[0].DisplayName, second[0].DisplayName)
	assert.Equal(t, first[0].Status, second[0].Status)
	assert.Equal(t, first[0].IsLive, second[0].IsLive)
	assert.False(t, second[0].LastSyncedAt.Before(first[0].LastSyncedAt))
}

func TestRunPass_PerItemFailureContinuesBatch(t *testing.T) {
	feed := &fakeFeed{body: `[
		{"beventId":"1","ename":"A vs B"},
		{"beventId":"2","ename":"C vs D"},
		{"beventId":"3","ename":"E vs F"}]`}
	repo := newMemRepo()
	repo.failKeys["2"] = true

	svc := NewSyncService(nil, repo, feed, syncLogger())
	report, err := svc.RunPass(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.TotalFixtures)
	assert.Equal(t, 2, report.SavedMatches)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, repo.count())
}

func TestRunPass_RecordWithoutKeySkipped(t *testing.T) {
	feed := &fakeFeed{body: `[{"ename":"No IDs Here"},{"beventId":"1","ename":"A vs B"}]`}
	repo := newMemRepo()

	svc := NewSyncService(nil, repo, feed, syncLogger())
	report, err := svc.RunPass(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.SavedMatches)
}

func TestRunPass_FeedFailureAbortsPass(t *testing.T) {
	feed := &fakeFeed{err: errors.New("connection refused")}
	repo := newMemRepo()

	svc := NewSyncService(nil, repo, feed, syncLogger())
	_, err := svc.RunPass(context.Background())
	require.Error(t, err)

	var appErr *domain.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "FEED_UNAVAILABLE", appErr.Code)
	assert.Equal(t, 0, repo.count(), "no partial writes on feed failure")
}

func TestRunPass_BreakerSkipsFetchWhileOpen(t *testing.T) {
	feed := &fakeFeed{err: errors.New("timeout")}
	repo := newMemRepo()
	breaker := guard.NewFeedBreaker(2, time.Hour)

	svc := NewSyncService(nil, repo, feed, syncLogger(), WithBreaker(breaker))

	for i := 0; i < 2; i++ {
		_, err := svc.RunPass(context.Background())
		require.Error(t, err)
	}
	assert.Equal(t, 2, feed.fetchCount())

	// Circuit open: pass fails without touching the feed.
	_, err := svc.RunPass(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, feed.fetchCount())
}

func TestRunPass_OddsMovementEmitsOddsUpdate(t *testing.T) {
	feed := &fakeFeed{body: `[{"beventId":"1","ename":"A vs B","odds":{"back":1.8}}]`}
	repo := newMemRepo()
	bcast := &recordingBroadcaster{}

	svc := NewSyncService(nil, repo, feed, syncLogger(), WithBroadcaster(bcast))

	_, err := svc.RunPass(context.Background())
	require.NoError(t, err)

	feed.body = `[{"beventId":"1","ename":"A vs B","odds":{"back":1.9}}]`
	_, err = svc.RunPass(context.Background())
	require.NoError(t, err)

	deltas := bcast.all()
	require.Len(t, deltas, 2)
	assert.Equal(t, domain.UpdateMatch, deltas[0].typ)
	assert.Equal(t, domain.UpdateOdds, deltas[1].typ)
}

func TestRunPass_ScoreMovementEmitsScoreUpdate(t *testing.T) {
	feed := &fakeFeed{body: `[{"beventId":"1","ename":"A vs B","score":{"home":0,"away":0}}]`}
	repo := newMemRepo()
	bcast := &recordingBroadcaster{}

	svc := NewSyncService(nil, repo, feed, syncLogger(), WithBroadcaster(bcast))

	_, err := svc.RunPass(context.Background())
	require.NoError(t, err)

	feed.body = `[{"beventId":"1","ename":"A vs B","score":{"home":1,"away":0}}]`
	_, err = svc.RunPass(context.Background())
	require.NoError(t, err)

	deltas := bcast.all()
	require.Len(t, deltas, 2)
	assert.Equal(t, domain.UpdateScore, deltas[1].typ)
}

func TestRunPass_RetiresStaleFixtures(t *testing.T) {
	feed := &fakeFeed{body: `[{"beventId":"1","ename":"A vs B"}]`}
	repo := newMemRepo()

	svc := NewSyncService(nil, repo, feed, syncLogger(), WithStaleAfter(10*time.Millisecond))

	_, err := svc.RunPass(context.Background())
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	feed.body = `[]`
	report, err := svc.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Retired)

	matches, err := svc.ListMatches(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, matches, "retired fixtures drop out of active listings")
	assert.Equal(t, 1, repo.count(), "retired rows stay in the store")
}
