package realtime

import "time"

// Client→server message types.
const (
	MsgSubscribeMatch   = "subscribe_match"
	MsgUnsubscribeMatch = "unsubscribe_match"
	MsgRequestInplay    = "request_inplay_matches"
)

// ClientMessage is the client→server wire payload. Server→client traffic is
// domain.DeltaMessage.
type ClientMessage struct {
	Type      string    `json:"type"`
	MatchID   string    `json:"matchId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
