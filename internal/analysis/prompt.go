package analysis

import (
	"fmt"
	"strings"
	"time"

	"smartvalue/internal/domain"
	"smartvalue/internal/util"
)

const analysisSchema = `{
  "currentPrice": number,
  "currency": "string (e.g. CNY, HKD, USD)",
  "peTTM": number or null,
  "peForward": number or null,
  "pb": number or null,
  "dividendYield": number or null (percent, e.g. 3.5),
  "marketCap": "string (e.g. 2.5T HKD)",
  "revenueGrowth": "string (e.g. '+15% YoY')",
  "intrinsicValue": number,
  "buyPrice": number,
  "addPositionPrice": number,
  "sellPrice": number,
  "stopLossPrice": number,
  "recommendation": "BUY" | "SELL" | "HOLD" | "WAIT",
  "reasoning": "core thesis in about 50 words",
  "graham":  { "score": number 0-100, "summary": "string", "keyPoints": ["string"] },
  "schloss": { "score": number 0-100, "summary": "string", "keyPoints": ["string"] },
  "fisher":  { "score": number 0-100, "summary": "string", "keyPoints": ["string"] }
}`

// instrumentPrompt asks for a value-investing analysis of inst.
func instrumentPrompt(inst domain.Instrument, now time.Time) string {
	cal := util.NewTradingCalendar(inst.Market)

	var b strings.Builder
	fmt.Fprintf(&b, "Current time: %s. Note: %s.\n", now.UTC().Format(time.RFC3339), cal.SessionNote(now))
	b.WriteString("You are a senior analyst versed in Benjamin Graham's value investing, ")
	b.WriteString("Walter Schloss's deep value approach and Philip Fisher's growth investing.\n\n")
	b.WriteString("Use Google Search for the latest figures. Never rely on prices from training data.\n\n")

	fmt.Fprintf(&b, "Instrument: %s\nSymbol: %s\nMarket: %s\n\n", inst.Name, inst.Symbol, inst.Market.Label())

	b.WriteString("1. Collect: current price, currency, PE (TTM), forward PE, PB, dividend yield, ")
	b.WriteString("market cap, YoY revenue growth, net income trend, debt to equity, book value per share.\n")
	b.WriteString("2. Assess:\n")
	b.WriteString("   Graham: Graham number sqrt(22.5 * EPS * BVPS); is PE < 15 and PB < 1.5; margin of safety.\n")
	b.WriteString("   Schloss: is the price near a 5-year low; below book value; is debt low.\n")
	b.WriteString("   Fisher: is revenue growth durable; margin trend; upcoming growth catalysts.\n")
	b.WriteString("3. Price targets: conservative intrinsic value; buy price (about 70% of intrinsic value); ")
	b.WriteString("add-position price (strong support); sell price (overvalued zone); stop loss.\n")
	b.WriteString("4. Reply with a single JSON object and nothing else, shaped as:\n")
	b.WriteString(analysisSchema)
	b.WriteString("\n")
	return b.String()
}

// historyPrompt asks for 10-20 points of price history over r.
func historyPrompt(inst domain.Instrument, r domain.TimeRange, now time.Time) string {
	return fmt.Sprintf(`Current time: %s
Task: search and retrieve the historical price trend for %s (%s, %s).
Time range: %s

Return a JSON array of roughly 10-20 points describing the trend. Each point has:
- "time": string formatted as %s
- "price": number

Output ONLY the JSON array.
Example: [{"time": "10:00", "price": 100.5}, {"time": "11:00", "price": 101.2}]
`, now.UTC().Format(time.RFC3339), inst.Name, inst.Symbol, inst.Market.Label(), r.Description(), r.TimeFormat())
}

// overviewPrompt asks for sentiment and index trends for every market.
func overviewPrompt(r domain.TimeRange, now time.Time) string {
	var notes []string
	for _, m := range domain.Markets {
		notes = append(notes, util.NewTradingCalendar(m).SessionNote(now))
	}

	return fmt.Sprintf(`Current time: %s. Session status: %s.
As a market analyst, search for the current quotes, sentiment and trend of these markets over %s:
1. CN: Shanghai Composite, CSI 300
2. HK: Hang Seng Index, Hang Seng Tech
3. US: S&P 500, Nasdaq Composite, Dow Jones Industrial Average

For every index give 8-12 (time, value) points for a small trend chart, labelled as %s.

Return a plain JSON array with one object per region and nothing else:
[
  {
    "region": "CN",
    "sentiment": "Bullish" | "Bearish" | "Neutral",
    "summary": "one sentence market comment",
    "indices": [
      {"name": "Shanghai Composite", "value": "3000.12", "change": "+12.3", "changePercent": "+0.41%%", "isUp": true,
       "history": [{"time": "09:30", "value": 2990}, {"time": "10:30", "value": 3005}]}
    ]
  }
]
`, now.UTC().Format(time.RFC3339), strings.Join(notes, "; "), r.Description(), r.TimeFormat())
}
