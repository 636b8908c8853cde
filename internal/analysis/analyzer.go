// Package analysis requests fundamental analyses, price history and market
// overviews from a generative model and turns the replies into domain types.
package analysis

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"

	"smartvalue/internal/domain"
)

var (
	// ErrRateLimited marks a provider quota or rate-limit rejection.
	ErrRateLimited = errors.New("analysis: rate limited")

	// ErrEmptyResponse is returned when the model produced no text.
	ErrEmptyResponse = errors.New("analysis: empty response")

	// ErrParse is returned when no JSON body could be recovered from the reply.
	ErrParse = errors.New("analysis: failed to parse JSON response")
)

// Analyzer is the capability the rest of the service depends on.
type Analyzer interface {
	// AnalyzeInstrument returns a fresh valuation snapshot.
	AnalyzeInstrument(ctx context.Context, inst domain.Instrument) (*domain.Analysis, error)

	// FetchHistory returns the instrument's price trend over r. It is
	// best-effort: implementations return an empty series rather than fail.
	FetchHistory(ctx context.Context, inst domain.Instrument, r domain.TimeRange) ([]domain.PricePoint, error)

	// MarketOverview returns sentiment and index trends for CN, HK and US.
	MarketOverview(ctx context.Context, r domain.TimeRange) ([]domain.MarketSentiment, error)
}

// IsRateLimited reports whether err is a provider rate-limit rejection:
// HTTP 429, status RESOURCE_EXHAUSTED, or a message carrying either marker.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) && isQuota(apiErr) {
		return true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil && isQuota(*apiErrPtr) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED")
}

func isQuota(e genai.APIError) bool {
	return e.Code == 429 || e.Status == "RESOURCE_EXHAUSTED"
}

// rateLimitError wraps a provider error so errors.Is(err, ErrRateLimited)
// holds while the original remains reachable.
type rateLimitError struct {
	cause error
}

func (e *rateLimitError) Error() string {
	return "API quota exceeded (429), wait a moment before retrying: " + e.cause.Error()
}

func (e *rateLimitError) Unwrap() []error { return []error{ErrRateLimited, e.cause} }

// classify maps provider errors onto the package's sentinel errors.
func classify(err error) error {
	if err == nil || errors.Is(err, ErrRateLimited) {
		return err
	}
	if IsRateLimited(err) {
		return &rateLimitError{cause: err}
	}
	return err
}
