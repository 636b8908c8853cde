// Package store defines storage interfaces for persisting watchlists, user
// records and cached market data, with SQLite and Parquet implementations.
package store

import (
	"context"
	"errors"
	"time"

	"smartvalue/internal/domain"
)

// ErrInvalidPath is returned when a cache key would resolve outside the
// cache directory.
var ErrInvalidPath = errors.New("store: invalid cache path")

// Namespaces used by the service.
const (
	NamespaceWatchlist = "watchlist"
	NamespaceUsers     = "users"
	NamespaceMarket    = "market"
)

// BlobStore persists opaque byte blobs keyed by (namespace, key).
type BlobStore interface {
	// Get returns the blob stored under key. The bool is false when absent.
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)

	// Put inserts or replaces the blob stored under key.
	Put(ctx context.Context, namespace, key string, data []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, namespace, key string) error

	// Keys lists all keys in a namespace in ascending order.
	Keys(ctx context.Context, namespace string) ([]string, error)
}

// HistoryStore caches price history series.
type HistoryStore interface {
	// ReadHistory returns the cached series if it was written within maxAge.
	ReadHistory(ctx context.Context, market domain.Market, symbol string, r domain.TimeRange, maxAge time.Duration) ([]domain.PricePoint, bool, error)

	// WriteHistory replaces the cached series.
	WriteHistory(ctx context.Context, market domain.Market, symbol string, r domain.TimeRange, points []domain.PricePoint) error
}
