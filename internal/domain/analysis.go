package domain

import "strings"

// Recommendation is the categorical call assigned by the model.
type Recommendation string

const (
	RecommendationBuy  Recommendation = "BUY"
	RecommendationHold Recommendation = "HOLD"
	RecommendationWait Recommendation = "WAIT"
	RecommendationSell Recommendation = "SELL"
)

// Normalize upper-cases and trims the recommendation as returned by the model.
func (r Recommendation) Normalize() Recommendation {
	return Recommendation(strings.ToUpper(strings.TrimSpace(string(r))))
}

// Weight orders recommendations BUY > HOLD > WAIT > SELL > unknown.
func (r Recommendation) Weight() int {
	switch r.Normalize() {
	case RecommendationBuy:
		return 4
	case RecommendationHold:
		return 3
	case RecommendationWait:
		return 2
	case RecommendationSell:
		return 1
	default:
		return 0
	}
}

// StrategyReport is one investing school's verdict on the instrument.
type StrategyReport struct {
	Score     float64  `json:"score"` // 0-100
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"keyPoints"`
}

// Source is a web citation the model grounded its answer on.
type Source struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// Analysis is a point-in-time valuation snapshot for an instrument.
type Analysis struct {
	LastUpdated   string   `json:"lastUpdated"`
	CurrentPrice  float64  `json:"currentPrice"`
	Currency      string   `json:"currency"`
	PETTM         *float64 `json:"peTTM"`
	PEForward     *float64 `json:"peForward"`
	PB            *float64 `json:"pb"`
	DividendYield *float64 `json:"dividendYield"`
	MarketCap     string   `json:"marketCap"`
	RevenueGrowth string   `json:"revenueGrowth"`

	IntrinsicValue   float64 `json:"intrinsicValue"`
	BuyPrice         float64 `json:"buyPrice"` // margin of safety entry
	AddPositionPrice float64 `json:"addPositionPrice"`
	SellPrice        float64 `json:"sellPrice"`
	StopLossPrice    float64 `json:"stopLossPrice"`

	Recommendation Recommendation `json:"recommendation"`
	Reasoning      string         `json:"reasoning"`

	Graham  StrategyReport `json:"graham"`
	Schloss StrategyReport `json:"schloss"`
	Fisher  StrategyReport `json:"fisher"`

	Sources []Source `json:"sources,omitempty"`
}

// AverageScore is the unweighted mean of the three strategy scores.
func (a *Analysis) AverageScore() float64 {
	return (a.Graham.Score + a.Schloss.Score + a.Fisher.Score) / 3
}

// MarginOfSafety returns the discount of the current price to intrinsic
// value as a fraction, or 0 when intrinsic value is unknown.
func (a *Analysis) MarginOfSafety() float64 {
	if a.IntrinsicValue <= 0 {
		return 0
	}
	return (a.IntrinsicValue - a.CurrentPrice) / a.IntrinsicValue
}

// Clone returns a deep copy of the analysis.
func (a Analysis) Clone() Analysis {
	a.PETTM = clonePtr(a.PETTM)
	a.PEForward = clonePtr(a.PEForward)
	a.PB = clonePtr(a.PB)
	a.DividendYield = clonePtr(a.DividendYield)
	a.Graham.KeyPoints = append([]string(nil), a.Graham.KeyPoints...)
	a.Schloss.KeyPoints = append([]string(nil), a.Schloss.KeyPoints...)
	a.Fisher.KeyPoints = append([]string(nil), a.Fisher.KeyPoints...)
	a.Sources = append([]Source(nil), a.Sources...)
	return a
}

func clonePtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
