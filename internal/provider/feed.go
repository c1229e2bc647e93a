package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ── Raw feed types ──
//
// The upstream feed is loose JSON: field names vary by endpoint generation
// (ename/name, stime/startTime, iplay/inPlay), identifiers arrive as strings
// or numbers, and live flags as booleans, numbers, or strings. These types
// absorb all of that; nothing outside this package sees a raw field name.

// FlexString decodes a JSON string or number into a string.
type FlexString string

func (s *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = FlexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*s = FlexString(n.String())
	return nil
}

// FlexBool decodes true/false, 0/1, and their string forms.
type FlexBool bool

func (b *FlexBool) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	switch strings.ToLower(raw) {
	case "true", "1", "yes", "y":
		*b = true
	case "false", "0", "no", "n", "", "null":
		*b = false
	default:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			*b = f != 0
			return nil
		}
		return fmt.Errorf("cannot parse %q as bool", raw)
	}
	return nil
}

// RawFixture is one record as the feed serves it, aliases and all.
type RawFixture struct {
	BEventID   FlexString      `json:"beventId"`
	EventID    FlexString      `json:"eventId"`
	ID         FlexString      `json:"id"`
	BMarketID  FlexString      `json:"bmarketId"`
	MarketID   FlexString      `json:"marketId"`
	EName      string          `json:"ename"`
	Name       string          `json:"name"`
	Tournament string          `json:"tournament"`
	CName      string          `json:"cname"`
	STime      string          `json:"stime"`
	StartTime  string          `json:"startTime"`
	IPlay      FlexBool        `json:"iplay"`
	InPlay     FlexBool        `json:"inPlay"`
	Status     string          `json:"status"`
	MatchType  string          `json:"matchType"`
	GType      string          `json:"gtype"`
	Teams      []string        `json:"teams"`
	Odds       json.RawMessage `json:"odds"`
	Score      json.RawMessage `json:"score"`
}

// feedEnvelope is the wrapped response shape some feed deployments use.
type feedEnvelope struct {
	Data []RawFixture `json:"data"`
}

// ── FeedClient ──

// FeedClient fetches raw fixture records from the upstream odds feed over
// plain HTTP polling.
type FeedClient struct {
	baseURL string
	apiKey  string
	logger  *slog.Logger
	client  *http.Client
}

// NewFeedClient creates a feed client. The timeout bounds every fetch; a
// timed-out fetch fails the whole pass for that cycle.
func NewFeedClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *FeedClient {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &FeedClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		logger:  logger,
		client:  &http.Client{Timeout: timeout},
	}
}

// FetchFixtures retrieves the current fixture list. Any network error,
// timeout, or non-2xx status fails the fetch as a whole; no partial list is
// ever returned.
func (c *FeedClient) FetchFixtures(ctx context.Context) ([]RawFixture, error) {
	u := c.baseURL + "/fixtures"
	if c.apiKey != "" {
		u += "?apiKey=" + url.QueryEscape(c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch fixtures: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("feed returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read feed body: %w", err)
	}

	return decodeFixtures(body)
}

// decodeFixtures accepts both a bare array and a {"data": [...]} envelope.
func decodeFixtures(body []byte) ([]RawFixture, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var records []RawFixture
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("decode feed array: %w", err)
		}
		return records, nil
	}

	var env feedEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("decode feed envelope: %w", err)
	}
	return env.Data, nil
}
