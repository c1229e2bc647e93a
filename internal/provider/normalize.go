package provider

import (
	"encoding/json"
	"hash/fnv"
	"strings"
	"time"

	"github.com/oddsline/platform/internal/domain"
)

// startTimeLayouts are tried in order. The feed mostly sends ISO timestamps
// but some tournaments still come through as US-style date strings.
var startTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"01/02/2006 03:04:05 PM",
	"1/2/2006 3:04:05 PM",
}

// ParseStartTime parses a provider date string. Returns nil on total failure;
// an unparseable date degrades the record, it does not reject it.
func ParseStartTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range startTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// Normalize maps one raw feed record onto the canonical Fixture. It fails
// only when no usable external identifier is present; every other defect
// degrades field by field.
func Normalize(raw RawFixture, now time.Time) (*domain.Fixture, error) {
	eventID := firstNonEmpty(string(raw.BEventID), string(raw.EventID), string(raw.ID))
	marketID := firstNonEmpty(string(raw.BMarketID), string(raw.MarketID))

	if eventID == "" && marketID == "" {
		return nil, domain.ErrNoExternalKey()
	}

	startTime := ParseStartTime(firstNonEmpty(raw.STime, raw.StartTime))
	liveFlag := bool(raw.IPlay) || bool(raw.InPlay)
	isLive := domain.DeriveIsLive(liveFlag, startTime, now)

	status := domain.MapStatus(raw.Status)
	if isLive && status == domain.StatusUpcoming {
		// Feed often omits an explicit status for in-play matches.
		status = domain.StatusLive
	}

	name := firstNonEmpty(raw.EName, raw.Name)
	if name == "" && len(raw.Teams) == 2 {
		name = raw.Teams[0] + " vs " + raw.Teams[1]
	}
	if name == "" {
		name = firstNonEmpty(eventID, marketID)
	}

	f := &domain.Fixture{
		ExternalEventID:  optional(eventID),
		ExternalMarketID: optional(marketID),
		DisplayName:      name,
		Tournament:       optional(firstNonEmpty(raw.Tournament, raw.CName)),
		StartTime:        startTime,
		IsLive:           isLive,
		Status:           status,
		MatchType:        optional(firstNonEmpty(raw.MatchType, raw.GType)),
		Teams:            raw.Teams,
		IsActive:         true,
		LastSyncedAt:     now,
	}
	return f, nil
}

// OddsFingerprint hashes the record's raw odds block so callers can detect
// odds movement without inspecting provider field names. Zero means absent.
func (r *RawFixture) OddsFingerprint() uint64 { return fingerprint(r.Odds) }

// ScoreFingerprint hashes the record's raw score block. Zero means absent.
func (r *RawFixture) ScoreFingerprint() uint64 { return fingerprint(r.Score) }

// OddsPayload returns the opaque odds JSON for broadcast, or nil.
func (r *RawFixture) OddsPayload() json.RawMessage { return r.Odds }

// ScorePayload returns the opaque score JSON for broadcast, or nil.
func (r *RawFixture) ScorePayload() json.RawMessage { return r.Score }

func fingerprint(raw json.RawMessage) uint64 {
	if len(raw) == 0 || string(raw) == "null" {
		return 0
	}
	h := fnv.New64a()
	h.Write(raw)
	return h.Sum64()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
