package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MatchStatus is the canonical lifecycle state of a fixture.
type MatchStatus string

const (
	StatusUpcoming  MatchStatus = "UPCOMING"
	StatusLive      MatchStatus = "LIVE"
	StatusSuspended MatchStatus = "SUSPENDED"
	StatusClosed    MatchStatus = "CLOSED"
	StatusCompleted MatchStatus = "COMPLETED"
	StatusAbandoned MatchStatus = "ABANDONED"
)

// statusAliases maps every provider status string we have seen to a canonical status.
var statusAliases = map[string]MatchStatus{
	"open":      StatusUpcoming,
	"scheduled": StatusUpcoming,
	"live":      StatusLive,
	"inplay":    StatusLive,
	"in_play":   StatusLive,
	"completed": StatusCompleted,
	"finished":  StatusCompleted,
	"resulted":  StatusCompleted,
	"abandoned": StatusAbandoned,
	"canceled":  StatusAbandoned,
	"cancelled": StatusAbandoned,
	"suspended": StatusSuspended,
	"closed":    StatusClosed,
}

// MapStatus maps a raw provider status string onto the canonical enum.
// Case-insensitive; an unrecognized status degrades to UPCOMING rather than
// rejecting the record.
func MapStatus(raw string) MatchStatus {
	if s, ok := statusAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return s
	}
	return StatusUpcoming
}

// Fixture is the canonical match record, post-normalization. Raw provider
// field names never escape the provider package.
type Fixture struct {
	ID               uuid.UUID   `json:"id"`
	ExternalEventID  *string     `json:"external_event_id,omitempty"`
	ExternalMarketID *string     `json:"external_market_id,omitempty"`
	DisplayName      string      `json:"display_name"`
	Tournament       *string     `json:"tournament,omitempty"`
	StartTime        *time.Time  `json:"start_time,omitempty"`
	IsLive           bool        `json:"is_live"`
	Status           MatchStatus `json:"status"`
	MatchType        *string     `json:"match_type,omitempty"`
	Teams            []string    `json:"teams,omitempty"`
	IsActive         bool        `json:"is_active"`
	LastSyncedAt     time.Time   `json:"last_synced_at"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// ExternalKey returns the identifier used to correlate this fixture with the
// provider: the event ID when present, otherwise the market ID.
func (f *Fixture) ExternalKey() string {
	if f.ExternalEventID != nil && *f.ExternalEventID != "" {
		return *f.ExternalEventID
	}
	if f.ExternalMarketID != nil {
		return *f.ExternalMarketID
	}
	return ""
}

// DeriveIsLive applies the time-gated live rule: the provider flag counts only
// if the start time is unknown or already in the past. Providers have been
// observed flipping the flag ahead of kickoff.
func DeriveIsLive(providerFlag bool, startTime *time.Time, now time.Time) bool {
	if !providerFlag {
		return false
	}
	return startTime == nil || !startTime.After(now)
}

// UpdateType classifies a real-time delta pushed to subscribers.
type UpdateType string

const (
	UpdateMatch  UpdateType = "match_update"
	UpdateScore  UpdateType = "score_update"
	UpdateOdds   UpdateType = "odds_update"
	UpdateStatus UpdateType = "status_change"
)

// DeltaMessage is the server→client wire payload. Ephemeral; never persisted.
type DeltaMessage struct {
	Type      UpdateType  `json:"type"`
	MatchID   string      `json:"matchId"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}
