package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"smartvalue/internal/domain"
)

// Compile-time interface check.
var _ HistoryStore = (*HistoryCache)(nil)

// HistoryCache implements HistoryStore using Parquet files on disk.
type HistoryCache struct {
	DataDir string
	now     func() time.Time
}

// NewHistoryCache creates a HistoryCache rooted at the given data directory.
func NewHistoryCache(dataDir string) *HistoryCache {
	return &HistoryCache{DataDir: dataDir, now: time.Now}
}

// PricePointRecord is the Parquet schema for one cached history point.
type PricePointRecord struct {
	Seq   int32   `parquet:"seq"`
	Time  string  `parquet:"time"`
	Price float64 `parquet:"price"`
}

// ReadHistory returns the cached series for (market, symbol, range) when the
// file is younger than maxAge. A non-positive maxAge accepts any age.
func (c *HistoryCache) ReadHistory(_ context.Context, market domain.Market, symbol string, r domain.TimeRange, maxAge time.Duration) ([]domain.PricePoint, bool, error) {
	path, err := c.historyPath(market, symbol, r)
	if err != nil {
		return nil, false, err
	}

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if maxAge > 0 && c.now().Sub(info.ModTime()) > maxAge {
		return nil, false, nil
	}

	records, err := parquet.ReadFile[PricePointRecord](path)
	if err != nil {
		return nil, false, fmt.Errorf("reading history %s: %w", path, err)
	}

	points := make([]domain.PricePoint, len(records))
	for _, rec := range records {
		if int(rec.Seq) < len(points) {
			points[rec.Seq] = domain.PricePoint{Time: rec.Time, Price: rec.Price}
		}
	}
	return points, true, nil
}

// WriteHistory replaces the cached series for (market, symbol, range).
// Empty series are not cached.
func (c *HistoryCache) WriteHistory(_ context.Context, market domain.Market, symbol string, r domain.TimeRange, points []domain.PricePoint) error {
	if len(points) == 0 {
		return nil
	}
	records := make([]PricePointRecord, len(points))
	for i, p := range points {
		records[i] = PricePointRecord{Seq: int32(i), Time: p.Time, Price: p.Price}
	}

	path, err := c.historyPath(market, symbol, r)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := parquet.WriteFile(path, records); err != nil {
		return fmt.Errorf("writing history for %s/%s: %w", symbol, r, err)
	}
	return nil
}

// historyPath returns the filesystem path for a history Parquet file.
// Layout: <dataDir>/history/<market>/<SYMBOL>/<range>.parquet
func (c *HistoryCache) historyPath(market domain.Market, symbol string, r domain.TimeRange) (string, error) {
	parts := []string{strings.ToLower(string(market)), strings.ToUpper(symbol), string(r)}
	for _, p := range parts {
		if p == "" || p == "." || p == ".." || strings.ContainsAny(p, `/\`) {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
	}
	rel := filepath.Join("history", parts[0], parts[1], parts[2]+".parquet")
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, rel)
	}
	return filepath.Join(c.DataDir, rel), nil
}
