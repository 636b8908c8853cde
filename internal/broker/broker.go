// Package broker mirrors watchlist membership into a brokerage-side
// watchlist so the same symbols show up in the broker's own apps.
package broker

import (
	alpacaapi "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"smartvalue/internal/engine"
)

// DefaultWatchlistName is the broker watchlist used when none is configured.
const DefaultWatchlistName = "smartvalue"

// watchlistAPI is the subset of the Alpaca trading client used for
// mirroring. *alpacaapi.Client satisfies it.
type watchlistAPI interface {
	GetWatchlists() ([]alpacaapi.Watchlist, error)
	CreateWatchlist(req alpacaapi.CreateWatchlistRequest) (*alpacaapi.Watchlist, error)
	AddSymbolToWatchlist(watchlistID string, req alpacaapi.AddSymbolToWatchlistRequest) (*alpacaapi.Watchlist, error)
	RemoveSymbolFromWatchlist(watchlistID string, req alpacaapi.RemoveSymbolFromWatchlistRequest) error
}

var (
	_ watchlistAPI  = (*alpacaapi.Client)(nil)
	_ engine.Mirror = (*AlpacaMirror)(nil)
)
