package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"smartvalue/internal/domain"
	"smartvalue/internal/listview"
)

// Styles.
var (
	groupStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	symbolStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	gainStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	colHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	busyStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	sectionStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("6"))
	highlightBG    = lipgloss.Color("236") // dark grey background
)

// hlStyle returns a copy of s with the highlight background applied when hl is true.
func hlStyle(s lipgloss.Style, hl bool) lipgloss.Style {
	if hl {
		return s.Background(highlightBG)
	}
	return s
}

func recStyle(r domain.Recommendation) lipgloss.Style {
	switch r.Normalize() {
	case domain.RecommendationBuy:
		return gainStyle
	case domain.RecommendationSell:
		return lossStyle
	default:
		return lipgloss.NewStyle()
	}
}

func (m model) View() string {
	if !m.ready {
		return "Loading..."
	}

	user := m.user
	if user == "" {
		user = domain.GuestUser
	}
	refresh := ""
	if m.refreshing {
		refresh = "    refreshing..."
	}
	sortText := m.view.SortKey.Label()
	if m.view.SortKey != listview.SortNone {
		sortText += " " + string(m.view.Direction)
	}
	headerText := fmt.Sprintf(" SmartValue  %s    market: %s  group: %s    sort: %s%s ",
		user,
		orAll(m.view.Filter.Market),
		orAll(m.view.Filter.Group),
		sortText,
		refresh,
	)
	headerBar := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("15")).
		Background(lipgloss.Color("4")).
		Render(padOrTrunc(headerText, m.width))

	var footerText string
	switch {
	case m.adding:
		footerText = " add: " + m.input.View()
	case m.status != "":
		footerText = " " + m.status
	default:
		footerText = " q quit  a add  d del  f refresh  R all  p/s/r/n sort  0 unsort  K/J move  m market  g group  h detail  t range  o overview"
	}
	footerBar := lipgloss.NewStyle().
		Foreground(lipgloss.Color("15")).
		Background(lipgloss.Color("8")).
		Render(padOrTrunc(footerText, m.width))

	return headerBar + "\n" + m.viewport.View() + "\n" + footerBar
}

func (m model) renderContent() string {
	var b strings.Builder

	if !m.replica.Ready() {
		b.WriteString(dimStyle.Render("  Connecting..."))
		b.WriteString("\n")
		return b.String()
	}

	projected := listview.Project(m.replica.Items(), m.view.Filter, m.view.SortKey, m.view.Direction)
	if len(projected) == 0 {
		b.WriteString(dimStyle.Render("  No instruments. Press a to add one."))
		b.WriteString("\n")
	}

	header := fmt.Sprintf("  %-10s %-22s %-4s %14s%s %6s%s %-11s%s %8s  %s",
		"SYMBOL", "NAME"+listview.SortIndicator(m.view, listview.SortName), "MKT",
		"PRICE", pad(listview.SortIndicator(m.view, listview.SortPrice)),
		"SCORE", pad(listview.SortIndicator(m.view, listview.SortScore)),
		"REC", pad(listview.SortIndicator(m.view, listview.SortRecommendation)),
		"MARGIN", "STATUS")

	for _, g := range listview.GroupBy(projected) {
		b.WriteString(groupStyle.Render(fmt.Sprintf("%s (%d)", g.Name, g.Count)))
		b.WriteString("\n")
		b.WriteString(colHeaderStyle.Render(header))
		b.WriteString("\n")
		for i := range g.Instruments {
			renderRow(&b, &g.Instruments[i], g.Instruments[i].ID == m.selectedID)
		}
		b.WriteString("\n")
	}

	if m.detail {
		if inst, ok := m.selected(); ok {
			renderDetail(&b, &inst, m.histRange, m.history, m.width)
		}
	}
	if m.showMarket {
		renderMarket(&b, m.markets)
	}
	return b.String()
}

func pad(s string) string {
	if s == "" {
		return " "
	}
	return s
}

func renderRow(b *strings.Builder, inst *domain.Instrument, hl bool) {
	price, score, rec, margin := "-", "-", "-", "-"
	rs := lipgloss.NewStyle()
	ms := lipgloss.NewStyle()
	if a := inst.Analysis; a != nil {
		price = listview.FormatMoney(a.CurrentPrice, a.Currency)
		score = listview.FormatScore(a.AverageScore())
		rec = listview.RecommendationLabel(a.Recommendation)
		rs = recStyle(a.Recommendation)
		if a.IntrinsicValue > 0 {
			margin = listview.FormatMargin(a.MarginOfSafety())
			if a.MarginOfSafety() >= 0 {
				ms = gainStyle
			} else {
				ms = lossStyle
			}
		}
	}

	status := listview.StatusLabel(inst)
	ss := dimStyle
	switch {
	case inst.Analyzing:
		ss = busyStyle
	case inst.Error != "":
		ss = errorStyle
	}

	marker := "  "
	if hl {
		marker = "> "
	}
	b.WriteString(hlStyle(lipgloss.NewStyle(), hl).Render(marker))
	b.WriteString(hlStyle(symbolStyle, hl).Render(fmt.Sprintf("%-10s", listview.Truncate(inst.Symbol, 10))))
	b.WriteString(hlStyle(lipgloss.NewStyle(), hl).Render(fmt.Sprintf(" %-22s %-4s %15s %7s ",
		listview.Truncate(inst.Name, 22), inst.Market, price, score)))
	b.WriteString(hlStyle(rs, hl).Render(fmt.Sprintf("%-12s", rec)))
	b.WriteString(hlStyle(ms, hl).Render(fmt.Sprintf(" %8s", margin)))
	b.WriteString(hlStyle(ss, hl).Render("  " + status))
	b.WriteString("\n")
}

func renderDetail(b *strings.Builder, inst *domain.Instrument, rng domain.TimeRange, history []domain.PricePoint, width int) {
	b.WriteString(sectionStyle.Render(padOrTrunc(fmt.Sprintf(" %s  %s  %s ", inst.Symbol, inst.Name, inst.Market.Label()), width)))
	b.WriteString("\n")

	a := inst.Analysis
	if a == nil {
		b.WriteString(dimStyle.Render("  " + listview.StatusLabel(inst)))
		b.WriteString("\n\n")
	} else {
		fmt.Fprintf(b, "  price %s   cap %s   growth %s   updated %s\n",
			listview.FormatMoney(a.CurrentPrice, a.Currency), orDash(a.MarketCap), orDash(a.RevenueGrowth), a.LastUpdated)
		fmt.Fprintf(b, "  PE(TTM) %s   PE(fwd) %s   PB %s   yield %s\n",
			listview.FormatRatio(a.PETTM), listview.FormatRatio(a.PEForward), listview.FormatRatio(a.PB), listview.FormatPercent(a.DividendYield))
		fmt.Fprintf(b, "  intrinsic %s   buy %s   add %s   sell %s   stop %s\n",
			listview.FormatPrice(a.IntrinsicValue), listview.FormatPrice(a.BuyPrice), listview.FormatPrice(a.AddPositionPrice),
			listview.FormatPrice(a.SellPrice), listview.FormatPrice(a.StopLossPrice))
		fmt.Fprintf(b, "  %s  %s\n", recStyle(a.Recommendation).Render(listview.RecommendationLabel(a.Recommendation)), a.Reasoning)
		for _, s := range []struct {
			name string
			r    domain.StrategyReport
		}{{"Graham", a.Graham}, {"Schloss", a.Schloss}, {"Fisher", a.Fisher}} {
			fmt.Fprintf(b, "  %-8s %3s  %s\n", s.name, listview.FormatScore(s.r.Score), s.r.Summary)
			for _, p := range s.r.KeyPoints {
				b.WriteString(dimStyle.Render("             - " + p))
				b.WriteString("\n")
			}
		}
		for _, src := range a.Sources {
			b.WriteString(dimStyle.Render(fmt.Sprintf("  [%s] %s", src.Title, src.URI)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(b, "  history %s: ", rng)
	if len(history) == 0 {
		b.WriteString(dimStyle.Render("no data"))
	} else {
		first, last := history[0], history[len(history)-1]
		style := gainStyle
		if last.Price < first.Price {
			style = lossStyle
		}
		b.WriteString(style.Render(sparkline(history)))
		fmt.Fprintf(b, "  %s %s -> %s %s", first.Time, listview.FormatPrice(first.Price), last.Time, listview.FormatPrice(last.Price))
	}
	b.WriteString("\n\n")
}

func renderMarket(b *strings.Builder, markets []domain.MarketSentiment) {
	b.WriteString(sectionStyle.Render(" Market overview "))
	b.WriteString("\n")
	if len(markets) == 0 {
		b.WriteString(dimStyle.Render("  Loading..."))
		b.WriteString("\n")
		return
	}
	for _, mk := range markets {
		style := lipgloss.NewStyle()
		switch mk.Sentiment {
		case domain.SentimentBullish:
			style = gainStyle
		case domain.SentimentBearish:
			style = lossStyle
		}
		fmt.Fprintf(b, "  %-4s %s  %s\n", mk.Region, style.Render(string(mk.Sentiment)), mk.Summary)
		for _, idx := range mk.Indices {
			cs := lossStyle
			if idx.IsUp {
				cs = gainStyle
			}
			fmt.Fprintf(b, "       %-24s %12s %s\n", idx.Name, idx.Value, cs.Render(idx.Change+" ("+idx.ChangePercent+")"))
		}
	}
}

var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

func sparkline(points []domain.PricePoint) string {
	lo, hi := points[0].Price, points[0].Price
	for _, p := range points {
		lo = min(lo, p.Price)
		hi = max(hi, p.Price)
	}
	out := make([]rune, len(points))
	for i, p := range points {
		k := 0
		if hi > lo {
			k = int((p.Price - lo) / (hi - lo) * float64(len(sparkBlocks)-1))
		}
		out[i] = sparkBlocks[k]
	}
	return string(out)
}

func orAll(s string) string {
	if s == "" {
		return listview.All
	}
	return s
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func padOrTrunc(s string, width int) string {
	n := len(s)
	if n >= width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-n)
}
