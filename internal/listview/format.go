package listview

import (
	"fmt"
	"math"
	"strings"

	"smartvalue/internal/domain"
)

// FormatPrice formats a price with two decimals, or "-" for zero.
func FormatPrice(p float64) string {
	if p == 0 || math.IsNaN(p) {
		return "-"
	}
	return fmt.Sprintf("%.2f", p)
}

// FormatMoney formats a price with its currency code, e.g. "212.50 USD".
func FormatMoney(p float64, currency string) string {
	s := FormatPrice(p)
	if s == "-" || currency == "" {
		return s
	}
	return s + " " + currency
}

// FormatRatio formats a nullable valuation ratio, or "N/A" when unknown.
func FormatRatio(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.2f", *v)
}

// FormatPercent formats a nullable percentage such as a dividend yield.
func FormatPercent(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.2f%%", *v)
}

// FormatScore formats a 0-100 score as an integer.
func FormatScore(s float64) string {
	return fmt.Sprintf("%.0f", math.Round(s))
}

// FormatMargin formats a margin of safety as "+X.X%" or "-X.X%".
// Drops decimal for values >= 100% to keep width compact.
func FormatMargin(m float64) string {
	pct := m * 100
	if math.Abs(pct) >= 100 {
		return fmt.Sprintf("%+.0f%%", pct)
	}
	return fmt.Sprintf("%+.1f%%", pct)
}

// RecommendationLabel returns the recommendation, or "-" when unknown.
func RecommendationLabel(r domain.Recommendation) string {
	if r.Weight() == 0 {
		return "-"
	}
	return string(r.Normalize())
}

// StatusLabel summarises an instrument's row state.
func StatusLabel(inst *domain.Instrument) string {
	switch {
	case inst.Analyzing:
		return "analyzing..."
	case inst.Error != "":
		return inst.Error
	case inst.Analysis == nil:
		return "not analyzed"
	default:
		return "updated " + inst.Analysis.LastUpdated
	}
}

// SortIndicator returns the arrow shown next to the active column.
func SortIndicator(st State, key SortKey) string {
	if st.SortKey != key {
		return ""
	}
	if st.Direction == Asc {
		return "↑"
	}
	return "↓"
}

// Truncate shortens s to n runes, ending with "…" when cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return strings.TrimSpace(string(r[:n-1])) + "…"
}
