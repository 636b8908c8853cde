package util

import (
	"time"
	_ "time/tzdata" // exchange time zones must resolve on minimal hosts

	"smartvalue/internal/domain"
)

// session is one continuous trading window in exchange-local time, as
// minutes after midnight.
type session struct {
	open, close int
}

// TradingCalendar provides market-hours awareness for a specific market.
type TradingCalendar struct {
	market   domain.Market
	loc      *time.Location
	sessions []session
}

// NewTradingCalendar creates a TradingCalendar for the given market.
// Unknown markets fall back to the US calendar.
func NewTradingCalendar(market domain.Market) *TradingCalendar {
	tc := &TradingCalendar{market: market}
	switch market {
	case domain.MarketCN:
		tc.loc = mustLoad("Asia/Shanghai")
		tc.sessions = []session{{9*60 + 30, 11*60 + 30}, {13 * 60, 15 * 60}}
	case domain.MarketHK:
		tc.loc = mustLoad("Asia/Hong_Kong")
		tc.sessions = []session{{9*60 + 30, 12 * 60}, {13 * 60, 16 * 60}}
	default:
		tc.loc = mustLoad("America/New_York")
		tc.sessions = []session{{9*60 + 30, 16 * 60}}
	}
	return tc
}

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// Location returns the exchange time zone.
func (tc *TradingCalendar) Location() *time.Location {
	return tc.loc
}

// IsMarketOpen returns whether the market is open at time t.
// TODO: model exchange holiday calendars; weekdays are assumed trading days.
func (tc *TradingCalendar) IsMarketOpen(t time.Time) bool {
	lt := t.In(tc.loc)
	if !isWeekday(lt) {
		return false
	}
	m := lt.Hour()*60 + lt.Minute()
	for _, s := range tc.sessions {
		if m >= s.open && m < s.close {
			return true
		}
	}
	return false
}

// NextOpen returns the next session open strictly after t, or t itself when
// the market is already open.
func (tc *TradingCalendar) NextOpen(t time.Time) time.Time {
	if tc.IsMarketOpen(t) {
		return t
	}
	lt := t.In(tc.loc)
	for day := 0; day < 8; day++ {
		d := lt.AddDate(0, 0, day)
		if !isWeekday(d) {
			continue
		}
		for _, s := range tc.sessions {
			open := time.Date(d.Year(), d.Month(), d.Day(), s.open/60, s.open%60, 0, 0, tc.loc)
			if open.After(lt) {
				return open
			}
		}
	}
	return time.Time{}
}

// NextClose returns the close of the session in progress at t, or the close
// of the next session when the market is shut.
func (tc *TradingCalendar) NextClose(t time.Time) time.Time {
	lt := tc.NextOpen(t).In(tc.loc)
	if lt.IsZero() {
		return time.Time{}
	}
	m := lt.Hour()*60 + lt.Minute()
	for _, s := range tc.sessions {
		if m >= s.open && m < s.close {
			return time.Date(lt.Year(), lt.Month(), lt.Day(), s.close/60, s.close%60, 0, 0, tc.loc)
		}
	}
	return time.Time{}
}

// SessionNote describes the market state at t for inclusion in prompts.
func (tc *TradingCalendar) SessionNote(t time.Time) string {
	local := t.In(tc.loc).Format("2006-01-02 15:04 MST")
	if tc.IsMarketOpen(t) {
		return "the " + tc.market.Label() + " market is open (local time " + local + "); use real-time prices"
	}
	return "the " + tc.market.Label() + " market is closed (local time " + local + "); use the most recent closing prices"
}

func isWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}
