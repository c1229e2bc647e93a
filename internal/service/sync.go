package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/oddsline/platform/internal/domain"
	"github.com/oddsline/platform/internal/guard"
	"github.com/oddsline/platform/internal/infra"
	"github.com/oddsline/platform/internal/provider"
	"github.com/oddsline/platform/internal/repository"
)

// Feed is the upstream fixture source.
type Feed interface {
	FetchFixtures(ctx context.Context) ([]provider.RawFixture, error)
}

// Broadcaster fans a delta out to subscribers of the affected match.
type Broadcaster interface {
	Broadcast(matchID string, typ domain.UpdateType, data interface{})
}

// SyncReport summarizes one ingestion pass. The pass is best-effort per item:
// a single fixture failing never aborts the batch.
type SyncReport struct {
	TotalFixtures int   `json:"totalFixtures"`
	SavedMatches  int   `json:"savedMatches"`
	Failed        int   `json:"failed"`
	Skipped       int   `json:"skipped"`
	Retired       int64 `json:"retired"`
}

// SyncService runs the ingestion pipeline: fetch the external feed, normalize
// each record, reconcile it against the persisted store, and broadcast the
// resulting delta. A feed-level failure aborts the pass with no partial writes.
type SyncService struct {
	db          repository.DBTX
	fixtures    repository.FixtureRepository
	feed        Feed
	breaker     *guard.FeedBreaker
	broadcaster Broadcaster
	producer    *infra.KafkaProducer
	staleAfter  time.Duration
	logger      *slog.Logger
	now         func() time.Time

	// last observed odds/score fingerprints per external key. Only the
	// single in-flight pass touches these; the scheduler guarantees that.
	lastOdds  map[string]uint64
	lastScore map[string]uint64
}

// SyncOption configures optional collaborators.
type SyncOption func(*SyncService)

// WithBreaker guards feed fetches with a circuit breaker.
func WithBreaker(b *guard.FeedBreaker) SyncOption {
	return func(s *SyncService) { s.breaker = b }
}

// WithBroadcaster wires the real-time fan-out.
func WithBroadcaster(b Broadcaster) SyncOption {
	return func(s *SyncService) { s.broadcaster = b }
}

// WithKafkaMirror also publishes every delta to the match.updates topic.
func WithKafkaMirror(p *infra.KafkaProducer) SyncOption {
	return func(s *SyncService) { s.producer = p }
}

// WithStaleAfter retires fixtures not seen by the feed for the given duration.
func WithStaleAfter(d time.Duration) SyncOption {
	return func(s *SyncService) { s.staleAfter = d }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) SyncOption {
	return func(s *SyncService) { s.now = now }
}

// SetBroadcaster wires the real-time fan-out after construction. The hub
// needs the service for in-play snapshots, so one side is attached late.
func (s *SyncService) SetBroadcaster(b Broadcaster) { s.broadcaster = b }

// NewSyncService creates the ingestion pipeline service.
func NewSyncService(db repository.DBTX, fixtures repository.FixtureRepository, feed Feed, logger *slog.Logger, opts ...SyncOption) *SyncService {
	s := &SyncService{
		db:        db,
		fixtures:  fixtures,
		feed:      feed,
		logger:    logger,
		now:       time.Now,
		lastOdds:  make(map[string]uint64),
		lastScore: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunPass executes one ingestion pass. Calling it twice with identical feed
// input leaves business fields unchanged on the second call; only
// last_synced_at advances.
func (s *SyncService) RunPass(ctx context.Context) (*SyncReport, error) {
	if s.breaker != nil && !s.breaker.Allow() {
		return nil, domain.ErrFeedUnavailable(errors.New("feed circuit open"))
	}

	raws, err := s.feed.FetchFixtures(ctx)
	if err != nil {
		if s.breaker != nil {
			s.breaker.RecordFailure()
		}
		return nil, domain.ErrFeedUnavailable(err)
	}
	if s.breaker != nil {
		s.breaker.RecordSuccess()
	}

	report := &SyncReport{TotalFixtures: len(raws)}
	now := s.now()

	for i := range raws {
		raw := &raws[i]

		fixture, err := provider.Normalize(*raw, now)
		if err != nil {
			report.Skipped++
			s.logger.Warn("skipping feed record", "index", i, "error", err)
			continue
		}

		existing, err := s.fixtures.FindByExternalKey(ctx, s.db, fixture.ExternalEventID, fixture.ExternalMarketID)
		if err != nil {
			report.Failed++
			s.logger.Error("fixture lookup failed", "key", fixture.ExternalKey(), "error", err)
			continue
		}

		saved, err := s.fixtures.Upsert(ctx, s.db, fixture)
		if err != nil {
			report.Failed++
			s.logger.Error("fixture upsert failed", "key", fixture.ExternalKey(), "error", err)
			continue
		}
		report.SavedMatches++

		typ, payload := s.classify(existing, saved, raw)
		s.emit(ctx, saved.ID.String(), typ, payload)
	}

	if s.staleAfter > 0 {
		retired, err := s.fixtures.RetireStale(ctx, s.db, now.Add(-s.staleAfter))
		if err != nil {
			s.logger.Error("retire stale fixtures failed", "error", err)
		} else {
			report.Retired = retired
		}
	}

	s.logger.Info("sync pass complete",
		"total", report.TotalFixtures, "saved", report.SavedMatches,
		"failed", report.Failed, "skipped", report.Skipped, "retired", report.Retired)
	return report, nil
}

// classify picks the most specific delta type for this reconciliation.
// Precedence: status change, then score movement, then odds movement,
// then a plain match update.
func (s *SyncService) classify(existing, saved *domain.Fixture, raw *provider.RawFixture) (domain.UpdateType, interface{}) {
	key := saved.ExternalKey()
	oddsFP := raw.OddsFingerprint()
	scoreFP := raw.ScoreFingerprint()
	prevOdds := s.lastOdds[key]
	prevScore := s.lastScore[key]
	if oddsFP != 0 {
		s.lastOdds[key] = oddsFP
	}
	if scoreFP != 0 {
		s.lastScore[key] = scoreFP
	}

	if existing == nil {
		return domain.UpdateMatch, saved
	}
	if existing.Status != saved.Status || existing.IsLive != saved.IsLive {
		return domain.UpdateStatus, saved
	}
	if scoreFP != 0 && scoreFP != prevScore {
		return domain.UpdateScore, raw.ScorePayload()
	}
	if oddsFP != 0 && oddsFP != prevOdds {
		return domain.UpdateOdds, raw.OddsPayload()
	}
	return domain.UpdateMatch, saved
}

func (s *SyncService) emit(ctx context.Context, matchID string, typ domain.UpdateType, payload interface{}) {
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(matchID, typ, payload)
	}

	if s.producer != nil {
		msg := domain.DeltaMessage{Type: typ, MatchID: matchID, Data: payload, Timestamp: s.now()}
		value, err := json.Marshal(msg)
		if err != nil {
			s.logger.Error("marshal delta for kafka", "matchId", matchID, "error", err)
			return
		}
		if err := s.producer.Publish(ctx, infra.TopicMatchUpdates, []byte(matchID), value); err != nil {
			s.logger.Error("publish delta to kafka", "matchId", matchID, "error", err)
		}
	}
}

// ListMatches returns active fixtures for the browse endpoints.
func (s *SyncService) ListMatches(ctx context.Context, onlyLive bool) ([]domain.Fixture, error) {
	return s.fixtures.List(ctx, s.db, onlyLive)
}

// GetMatch returns one fixture by internal ID, or nil.
func (s *SyncService) GetMatch(ctx context.Context, id string) (*domain.Fixture, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, domain.ErrValidation("invalid match id")
	}
	return s.fixtures.FindByID(ctx, s.db, parsed)
}
