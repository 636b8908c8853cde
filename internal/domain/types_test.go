package domain

import (
	"encoding/json"
	"testing"
)

func TestTypesExist(t *testing.T) {
	// Zero-value instrument has no analysis and falls back to the default group.
	inst := Instrument{}
	if inst.Analysis != nil {
		t.Error("expected nil Analysis for zero-value Instrument")
	}
	if got := inst.GroupOrDefault(); got != DefaultGroup {
		t.Errorf("GroupOrDefault() = %q, want %q", got, DefaultGroup)
	}

	inst.Group = "Tech"
	if got := inst.GroupOrDefault(); got != "Tech" {
		t.Errorf("GroupOrDefault() = %q, want %q", got, "Tech")
	}

	if MarketUS != "US" || MarketCN != "CN" || MarketHK != "HK" {
		t.Error("Market constants have unexpected values")
	}
}

func TestParseMarket(t *testing.T) {
	tests := []struct {
		in      string
		want    Market
		wantErr bool
	}{
		{"US", MarketUS, false},
		{"hk", MarketHK, false},
		{"CN (A-Share)", MarketCN, false},
		{" us (united states) ", MarketUS, false},
		{"JP", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMarket(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMarket(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMarket(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseTimeRange(t *testing.T) {
	r, err := ParseTimeRange("")
	if err != nil || r != Range1D {
		t.Errorf("ParseTimeRange(\"\") = %q, %v; want 1D", r, err)
	}
	r, err = ParseTimeRange("1q")
	if err != nil || r != Range1Q {
		t.Errorf("ParseTimeRange(\"1q\") = %q, %v; want 1Q", r, err)
	}
	if _, err := ParseTimeRange("5Y"); err == nil {
		t.Error("expected error for 5Y")
	}
	if Range1D.TimeFormat() != "HH:MM" || Range1Y.TimeFormat() != "YYYY-MM" || Range1W.TimeFormat() != "MM-DD" {
		t.Error("unexpected TimeFormat values")
	}
}

func TestRecommendationWeight(t *testing.T) {
	tests := []struct {
		rec  Recommendation
		want int
	}{
		{RecommendationBuy, 4},
		{RecommendationHold, 3},
		{RecommendationWait, 2},
		{RecommendationSell, 1},
		{"buy ", 4},
		{"STRONG BUY", 0},
		{"", 0},
	}
	for _, tt := range tests {
		if got := tt.rec.Weight(); got != tt.want {
			t.Errorf("Recommendation(%q).Weight() = %d, want %d", tt.rec, got, tt.want)
		}
	}
}

func TestAnalysisScores(t *testing.T) {
	a := Analysis{
		CurrentPrice:   70,
		IntrinsicValue: 100,
		Graham:         StrategyReport{Score: 60},
		Schloss:        StrategyReport{Score: 90},
		Fisher:         StrategyReport{Score: 30},
	}
	if got := a.AverageScore(); got != 60 {
		t.Errorf("AverageScore() = %v, want 60", got)
	}
	if got := a.MarginOfSafety(); got < 0.2999 || got > 0.3001 {
		t.Errorf("MarginOfSafety() = %v, want 0.3", got)
	}
	if (&Analysis{}).MarginOfSafety() != 0 {
		t.Error("MarginOfSafety() with zero intrinsic value should be 0")
	}
}

func TestInstrumentCloneIsDeep(t *testing.T) {
	pe := 12.5
	orig := Instrument{
		ID: "1",
		Analysis: &Analysis{
			PETTM:   &pe,
			Graham:  StrategyReport{KeyPoints: []string{"cheap"}},
			Sources: []Source{{Title: "a", URI: "https://a"}},
		},
	}
	c := orig.Clone()
	*c.Analysis.PETTM = 99
	c.Analysis.Graham.KeyPoints[0] = "changed"
	c.Analysis.Sources[0].URI = "changed"

	if *orig.Analysis.PETTM != 12.5 {
		t.Error("Clone shares PETTM pointer")
	}
	if orig.Analysis.Graham.KeyPoints[0] != "cheap" {
		t.Error("Clone shares KeyPoints slice")
	}
	if orig.Analysis.Sources[0].URI != "https://a" {
		t.Error("Clone shares Sources slice")
	}
}

func TestSampleInstruments(t *testing.T) {
	s := SampleInstruments()
	if len(s) != 3 {
		t.Fatalf("len(SampleInstruments()) = %d, want 3", len(s))
	}
	seen := map[string]bool{}
	for _, inst := range s {
		if seen[inst.ID] {
			t.Errorf("duplicate sample id %q", inst.ID)
		}
		seen[inst.ID] = true
		if !inst.Market.Valid() {
			t.Errorf("sample %s has invalid market %q", inst.Symbol, inst.Market)
		}
	}
}

func TestMarketUnmarshalJSON(t *testing.T) {
	var inst Instrument
	if err := json.Unmarshal([]byte(`{"symbol":"AAPL","market":"US (United States)"}`), &inst); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if inst.Market != MarketUS {
		t.Errorf("market = %q, want %q", inst.Market, MarketUS)
	}

	if err := json.Unmarshal([]byte(`{"market":"EU"}`), &inst); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if inst.Market.Valid() {
		t.Errorf("market %q should not be valid", inst.Market)
	}
}
