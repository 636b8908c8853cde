// Package domain defines the core types shared across smartvalue: tracked
// instruments, their AI-produced analyses, and market overview data.
package domain

import (
	"fmt"
	"strings"
)

// DefaultGroup is the group label applied to instruments without one.
const DefaultGroup = "Default"

// GuestUser is the identity used when no user is signed in.
const GuestUser = "guest"

// ---------------------------------------------------------------------------
// Market
// ---------------------------------------------------------------------------

// Market identifies the exchange region an instrument trades in.
type Market string

const (
	MarketCN Market = "CN"
	MarketHK Market = "HK"
	MarketUS Market = "US"
)

// Markets lists all supported markets in display order.
var Markets = []Market{MarketCN, MarketHK, MarketUS}

// Label returns the human-readable market name.
func (m Market) Label() string {
	switch m {
	case MarketCN:
		return "CN (A-Share)"
	case MarketHK:
		return "HK (Hong Kong)"
	case MarketUS:
		return "US (United States)"
	default:
		return string(m)
	}
}

// Valid reports whether m is one of the supported markets.
func (m Market) Valid() bool {
	return m == MarketCN || m == MarketHK || m == MarketUS
}

// ParseMarket accepts a market code ("us") or a full label
// ("US (United States)"), case-insensitively.
func ParseMarket(s string) (Market, error) {
	s = strings.TrimSpace(s)
	for _, m := range Markets {
		if strings.EqualFold(s, string(m)) || strings.EqualFold(s, m.Label()) {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown market %q", s)
}

// UnmarshalText accepts a code or a label. Unknown values are kept verbatim
// so that Valid can reject them.
func (m *Market) UnmarshalText(b []byte) error {
	if parsed, err := ParseMarket(string(b)); err == nil {
		*m = parsed
		return nil
	}
	*m = Market(b)
	return nil
}

// ---------------------------------------------------------------------------
// TimeRange
// ---------------------------------------------------------------------------

// TimeRange is the window requested for price history and market trends.
type TimeRange string

const (
	Range1D TimeRange = "1D"
	Range1W TimeRange = "1W"
	Range1M TimeRange = "1M"
	Range1Q TimeRange = "1Q"
	Range1Y TimeRange = "1Y"
)

// TimeRanges lists all ranges from shortest to longest.
var TimeRanges = []TimeRange{Range1D, Range1W, Range1M, Range1Q, Range1Y}

// ParseTimeRange parses a range code. An empty string yields Range1D.
func ParseTimeRange(s string) (TimeRange, error) {
	if s == "" {
		return Range1D, nil
	}
	for _, r := range TimeRanges {
		if strings.EqualFold(s, string(r)) {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown time range %q", s)
}

// Description returns the phrase used when asking for data over the range.
func (r TimeRange) Description() string {
	switch r {
	case Range1W:
		return "the past week"
	case Range1M:
		return "the past month"
	case Range1Q:
		return "the past three months"
	case Range1Y:
		return "the past year"
	default:
		return "today (intraday)"
	}
}

// TimeFormat describes how the model should label points for the range.
func (r TimeRange) TimeFormat() string {
	switch r {
	case Range1D:
		return "HH:MM"
	case Range1Y:
		return "YYYY-MM"
	default:
		return "MM-DD"
	}
}

// ---------------------------------------------------------------------------
// Instrument
// ---------------------------------------------------------------------------

// Instrument is a tracked security together with its last-known analysis
// state. Analyzing and Error are transient UI state persisted alongside it.
type Instrument struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Name      string    `json:"name"`
	Market    Market    `json:"market"`
	Group     string    `json:"group"`
	Analyzing bool      `json:"isAnalyzing"`
	Error     string    `json:"error,omitempty"`
	Analysis  *Analysis `json:"data,omitempty"`
}

// GroupOrDefault returns the instrument's group, or DefaultGroup when blank.
func (i *Instrument) GroupOrDefault() string {
	return GroupOrDefault(i.Group)
}

// GroupOrDefault applies the DefaultGroup sentinel to a blank label.
func GroupOrDefault(g string) string {
	if strings.TrimSpace(g) == "" {
		return DefaultGroup
	}
	return g
}

// Clone returns a deep copy so callers can mutate it freely.
func (i Instrument) Clone() Instrument {
	if i.Analysis != nil {
		a := i.Analysis.Clone()
		i.Analysis = &a
	}
	return i
}

// SampleInstruments returns the list a guest starts with.
func SampleInstruments() []Instrument {
	return []Instrument{
		{ID: "1", Symbol: "600519", Name: "Kweichow Moutai", Market: MarketCN, Group: "Baijiu Leaders"},
		{ID: "2", Symbol: "00700", Name: "Tencent Holdings", Market: MarketHK, Group: "Tech Giants"},
		{ID: "3", Symbol: "AAPL", Name: "Apple Inc.", Market: MarketUS, Group: "Tech Giants"},
	}
}

// ---------------------------------------------------------------------------
// Market overview
// ---------------------------------------------------------------------------

// PricePoint is a single point of an instrument's price history.
type PricePoint struct {
	Time  string  `json:"time"`
	Price float64 `json:"price"`
}

// IndexPoint is a single point of an index trend line.
type IndexPoint struct {
	Time  string  `json:"time"`
	Value float64 `json:"value"`
}

// MarketIndex summarises one benchmark index.
type MarketIndex struct {
	Name          string       `json:"name"`
	Value         string       `json:"value"`
	Change        string       `json:"change"`
	ChangePercent string       `json:"changePercent"`
	IsUp          bool         `json:"isUp"`
	History       []IndexPoint `json:"history,omitempty"`
}

// Sentiment is the model's read of a region's market mood.
type Sentiment string

const (
	SentimentBullish Sentiment = "Bullish"
	SentimentBearish Sentiment = "Bearish"
	SentimentNeutral Sentiment = "Neutral"
)

// MarketSentiment is the overview for one region (CN, HK or US).
type MarketSentiment struct {
	Region    string        `json:"region"`
	Sentiment Sentiment     `json:"sentiment"`
	Summary   string        `json:"summary"`
	Indices   []MarketIndex `json:"indices"`
}
