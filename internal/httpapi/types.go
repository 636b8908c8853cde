// Package httpapi provides the HTTP REST API for the watchlist dashboard,
// serving the same data as the TUI client in JSON format.
package httpapi

import (
	"smartvalue/internal/domain"
	"smartvalue/internal/engine"
	"smartvalue/internal/listview"
)

// CredentialsRequest is the body of register and login.
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse is returned by register, login and me.
type AuthResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Username string `json:"username,omitempty"`
	Token    string `json:"token,omitempty"`
	Guest    bool   `json:"guest,omitempty"`
}

// WatchlistResponse is the projected view of a user's watchlist.
type WatchlistResponse struct {
	User        string              `json:"user"`
	Instruments []domain.Instrument `json:"instruments"`
	Groups      []listview.Group    `json:"groups"`
	View        listview.State      `json:"view"`
	Total       int                 `json:"total"`
	Refreshing  bool                `json:"refreshing"`
}

// AddRequest is the body of POST /api/watchlist.
type AddRequest struct {
	Symbol string        `json:"symbol"`
	Name   string        `json:"name"`
	Market domain.Market `json:"market"`
	Group  string        `json:"group"`
}

// ReorderRequest moves the instrument FromID to the position of ToID.
type ReorderRequest struct {
	FromID string `json:"fromId"`
	ToID   string `json:"toId"`
}

// SortRequest is the body of PUT /api/view/sort.
type SortRequest struct {
	Key string `json:"key"`
}

// RefreshAllResponse reports the per-instrument results of a bulk refresh.
type RefreshAllResponse struct {
	Outcomes []engine.Outcome `json:"outcomes"`
	Failed   int              `json:"failed"`
}

// GroupsResponse lists distinct group labels.
type GroupsResponse struct {
	Groups []string `json:"groups"`
}

// HistoryResponse is the price trend of one instrument.
type HistoryResponse struct {
	ID     string              `json:"id"`
	Symbol string              `json:"symbol"`
	Range  domain.TimeRange    `json:"range"`
	Points []domain.PricePoint `json:"points"`
}

// MarketResponse is the cross-market sentiment overview.
type MarketResponse struct {
	Range   domain.TimeRange         `json:"range"`
	Markets []domain.MarketSentiment `json:"markets"`
}
