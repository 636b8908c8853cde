package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	alpacaapi "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"smartvalue/internal/domain"
)

// AlpacaMirror keeps an Alpaca watchlist in step with US instruments added
// to or removed from any user's list. Other markets are ignored since
// Alpaca only lists US equities.
type AlpacaMirror struct {
	client watchlistAPI
	name   string
	log    *slog.Logger

	mu          sync.Mutex
	watchlistID string
}

// NewAlpacaMirror creates a mirror using the given credentials and API
// endpoint. An empty name selects DefaultWatchlistName.
func NewAlpacaMirror(apiKey, apiSecret, baseURL, name string, log *slog.Logger) *AlpacaMirror {
	client := alpacaapi.NewClient(alpacaapi.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
	return newAlpacaMirror(client, name, log)
}

func newAlpacaMirror(client watchlistAPI, name string, log *slog.Logger) *AlpacaMirror {
	if name == "" {
		name = DefaultWatchlistName
	}
	return &AlpacaMirror{client: client, name: name, log: log}
}

// Name returns "alpaca".
func (m *AlpacaMirror) Name() string {
	return "alpaca"
}

// Add appends the instrument's symbol to the broker watchlist.
func (m *AlpacaMirror) Add(_ context.Context, inst domain.Instrument) error {
	if inst.Market != domain.MarketUS {
		return nil
	}
	id, err := m.ensureWatchlist()
	if err != nil {
		return err
	}
	if _, err := m.client.AddSymbolToWatchlist(id, alpacaapi.AddSymbolToWatchlistRequest{Symbol: inst.Symbol}); err != nil {
		return fmt.Errorf("adding %s to watchlist: %w", inst.Symbol, err)
	}
	m.log.Debug("mirrored add", "symbol", inst.Symbol)
	return nil
}

// Remove drops the instrument's symbol from the broker watchlist.
func (m *AlpacaMirror) Remove(_ context.Context, inst domain.Instrument) error {
	if inst.Market != domain.MarketUS {
		return nil
	}
	id, err := m.ensureWatchlist()
	if err != nil {
		return err
	}
	if err := m.client.RemoveSymbolFromWatchlist(id, alpacaapi.RemoveSymbolFromWatchlistRequest{Symbol: inst.Symbol}); err != nil {
		return fmt.Errorf("removing %s from watchlist: %w", inst.Symbol, err)
	}
	m.log.Debug("mirrored remove", "symbol", inst.Symbol)
	return nil
}

// ensureWatchlist finds the named watchlist, creating it if missing. The id
// is cached after the first success; failures are retried on the next call.
func (m *AlpacaMirror) ensureWatchlist() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watchlistID != "" {
		return m.watchlistID, nil
	}

	lists, err := m.client.GetWatchlists()
	if err != nil {
		return "", fmt.Errorf("listing watchlists: %w", err)
	}
	for _, w := range lists {
		if w.Name == m.name {
			m.watchlistID = w.ID
			m.log.Info("watchlist found", "name", m.name, "id", w.ID)
			return w.ID, nil
		}
	}

	w, err := m.client.CreateWatchlist(alpacaapi.CreateWatchlistRequest{Name: m.name})
	if err != nil {
		return "", fmt.Errorf("creating watchlist %s: %w", m.name, err)
	}
	m.watchlistID = w.ID
	m.log.Info("watchlist created", "name", m.name, "id", w.ID)
	return w.ID, nil
}
