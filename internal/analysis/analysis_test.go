package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"smartvalue/internal/domain"
	"smartvalue/internal/store"
	"smartvalue/internal/util"
)

// ---------------------------------------------------------------------------
// ExtractJSON
// ---------------------------------------------------------------------------

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		text string
		want float64
	}{
		{"bare", `{"currentPrice": 1.5}`, 1.5},
		{"bare with whitespace", "\n  {\"currentPrice\": 2}\n", 2},
		{"generic fence", "Here you go:\n```\n{\"currentPrice\": 3}\n```\nthanks", 3},
		{"json fence", "Result:\n```json\n{\"currentPrice\": 4.25}\n```", 4.25},
		{"other tag", "```JSON\n{\"currentPrice\": 5}\n```", 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a domain.Analysis
			require.NoError(t, ExtractJSON(tt.text, &a))
			assert.Equal(t, tt.want, a.CurrentPrice)
		})
	}
}

func TestExtractJSONArray(t *testing.T) {
	var pts []domain.PricePoint
	require.NoError(t, ExtractJSON("```json\n[{\"time\":\"10:00\",\"price\":100.5}]\n```", &pts))
	assert.Equal(t, []domain.PricePoint{{Time: "10:00", Price: 100.5}}, pts)
}

func TestExtractJSONFailure(t *testing.T) {
	for _, text := range []string{"", "no json here", "```json\n{broken\n```"} {
		var a domain.Analysis
		err := ExtractJSON(text, &a)
		assert.ErrorIs(t, err, ErrParse, "text %q", text)
	}
}

// ---------------------------------------------------------------------------
// Error mapping
// ---------------------------------------------------------------------------

func TestIsRateLimited(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", ErrRateLimited, true},
		{"api code", genai.APIError{Code: 429, Message: "quota"}, true},
		{"api pointer status", &genai.APIError{Code: 400, Status: "RESOURCE_EXHAUSTED"}, true},
		{"wrapped api", fmt.Errorf("call: %w", genai.APIError{Code: 429}), true},
		{"message marker", errors.New("got RESOURCE_EXHAUSTED from upstream"), true},
		{"message 429", errors.New("status 429"), true},
		{"other api", genai.APIError{Code: 500, Status: "INTERNAL"}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRateLimited(tt.err))
		})
	}
}

func TestClassifyWrapsRateLimit(t *testing.T) {
	cause := genai.APIError{Code: 429, Message: "quota"}
	err := classify(cause)
	assert.ErrorIs(t, err, ErrRateLimited)

	var apiErr genai.APIError
	assert.True(t, errors.As(err, &apiErr), "original error stays reachable")

	plain := errors.New("boom")
	assert.Equal(t, plain, classify(plain))
}

// ---------------------------------------------------------------------------
// GeminiAnalyzer
// ---------------------------------------------------------------------------

type fakeGenerator struct {
	mu      sync.Mutex
	replies []func() (*genai.GenerateContentResponse, error)
	prompts []string
	configs []*genai.GenerateContentConfig
}

func (f *fakeGenerator) GenerateContent(_ context.Context, _ string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, contents[0].Parts[0].Text)
	f.configs = append(f.configs, cfg)
	if len(f.replies) == 0 {
		return nil, errors.New("no scripted reply")
	}
	next := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return next()
}

func textReply(text string, chunks ...*genai.GroundingChunk) func() (*genai.GenerateContentResponse, error) {
	return func() (*genai.GenerateContentResponse, error) {
		return &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{
				Content:           &genai.Content{Role: "model", Parts: []*genai.Part{{Text: text}}},
				GroundingMetadata: &genai.GroundingMetadata{GroundingChunks: chunks},
			}},
		}, nil
	}
}

func errReply(err error) func() (*genai.GenerateContentResponse, error) {
	return func() (*genai.GenerateContentResponse, error) { return nil, err }
}

func newTestAnalyzer(gen *fakeGenerator, attempts int) *GeminiAnalyzer {
	g := newGeminiAnalyzer(gen, GeminiConfig{Temperature: 0.1, RetryAttempts: attempts}, util.Discard())
	g.retryDelay = time.Millisecond
	g.now = func() time.Time { return time.Date(2024, 6, 17, 14, 0, 0, 0, time.UTC) }
	return g
}

var apple = domain.Instrument{ID: "3", Symbol: "AAPL", Name: "Apple Inc.", Market: domain.MarketUS}

const analysisReply = "```json\n" + `{
  "currentPrice": 212.5, "currency": "USD", "peTTM": 33.1, "peForward": null, "pb": 47.2,
  "dividendYield": 0.5, "marketCap": "3.2T USD", "revenueGrowth": "+5% YoY",
  "intrinsicValue": 180, "buyPrice": 126, "addPositionPrice": 170, "sellPrice": 240, "stopLossPrice": 160,
  "recommendation": "hold", "reasoning": "quality franchise, fully priced",
  "graham": {"score": 40, "summary": "expensive", "keyPoints": ["PE above 15"]},
  "schloss": {"score": 30, "summary": "not cheap", "keyPoints": []},
  "fisher": {"score": 80, "summary": "durable", "keyPoints": ["services growth"]}
}` + "\n```"

func TestAnalyzeInstrument(t *testing.T) {
	gen := &fakeGenerator{replies: []func() (*genai.GenerateContentResponse, error){
		textReply(analysisReply,
			&genai.GroundingChunk{Web: &genai.GroundingChunkWeb{URI: "https://example.com/a", Title: "Quote"}},
			&genai.GroundingChunk{Web: &genai.GroundingChunkWeb{URI: "https://example.com/b"}},
			&genai.GroundingChunk{Web: &genai.GroundingChunkWeb{Title: "no uri"}},
		),
	}}
	g := newTestAnalyzer(gen, 1)

	a, err := g.AnalyzeInstrument(context.Background(), apple)
	require.NoError(t, err)
	assert.Equal(t, 212.5, a.CurrentPrice)
	assert.Nil(t, a.PEForward)
	require.NotNil(t, a.PETTM)
	assert.Equal(t, 33.1, *a.PETTM)
	assert.Equal(t, domain.RecommendationHold, a.Recommendation)
	assert.Equal(t, "14:00:00", a.LastUpdated)
	assert.InDelta(t, 50.0, a.AverageScore(), 0.001)
	assert.Equal(t, []domain.Source{
		{Title: "Quote", URI: "https://example.com/a"},
		{Title: "Source", URI: "https://example.com/b"},
	}, a.Sources)

	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "AAPL")
	assert.Contains(t, gen.prompts[0], "US (United States)")
	require.NotNil(t, gen.configs[0].Temperature)
	assert.Equal(t, float32(0.1), *gen.configs[0].Temperature)
	require.Len(t, gen.configs[0].Tools, 1)
	assert.NotNil(t, gen.configs[0].Tools[0].GoogleSearch)
}

func TestAnalyzeInstrumentClampsScores(t *testing.T) {
	reply := `{"currentPrice": 1, "recommendation": "BUY",
  "graham": {"score": 150}, "schloss": {"score": -20}, "fisher": {"score": 70}}`
	g := newTestAnalyzer(&fakeGenerator{replies: []func() (*genai.GenerateContentResponse, error){textReply(reply)}}, 1)

	a, err := g.AnalyzeInstrument(context.Background(), apple)
	require.NoError(t, err)
	assert.Equal(t, 100.0, a.Graham.Score)
	assert.Equal(t, 0.0, a.Schloss.Score)
	assert.Equal(t, 70.0, a.Fisher.Score)
	assert.InDelta(t, 56.667, a.AverageScore(), 0.001)
}

func TestAnalyzeInstrumentRateLimitNotRetried(t *testing.T) {
	gen := &fakeGenerator{replies: []func() (*genai.GenerateContentResponse, error){
		errReply(genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED"}),
	}}
	g := newTestAnalyzer(gen, 3)

	_, err := g.AnalyzeInstrument(context.Background(), apple)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Len(t, gen.prompts, 1)
}

func TestAnalyzeInstrumentRetriesTransient(t *testing.T) {
	gen := &fakeGenerator{replies: []func() (*genai.GenerateContentResponse, error){
		errReply(genai.APIError{Code: 503, Status: "UNAVAILABLE"}),
		textReply(analysisReply),
	}}
	g := newTestAnalyzer(gen, 3)

	a, err := g.AnalyzeInstrument(context.Background(), apple)
	require.NoError(t, err)
	assert.Equal(t, 212.5, a.CurrentPrice)
	assert.Len(t, gen.prompts, 2)
}

func TestAnalyzeInstrumentEmptyAndUnparseable(t *testing.T) {
	g := newTestAnalyzer(&fakeGenerator{replies: []func() (*genai.GenerateContentResponse, error){textReply("")}}, 1)
	_, err := g.AnalyzeInstrument(context.Background(), apple)
	assert.ErrorIs(t, err, ErrEmptyResponse)

	g = newTestAnalyzer(&fakeGenerator{replies: []func() (*genai.GenerateContentResponse, error){textReply("sorry, I cannot")}}, 1)
	_, err = g.AnalyzeInstrument(context.Background(), apple)
	assert.ErrorIs(t, err, ErrParse)
}

func TestFetchHistoryIsNonCritical(t *testing.T) {
	gen := &fakeGenerator{replies: []func() (*genai.GenerateContentResponse, error){errReply(errors.New("network down"))}}
	g := newTestAnalyzer(gen, 1)

	pts, err := g.FetchHistory(context.Background(), apple, domain.Range1W)
	require.NoError(t, err)
	assert.NotNil(t, pts)
	assert.Empty(t, pts)

	gen = &fakeGenerator{replies: []func() (*genai.GenerateContentResponse, error){
		textReply(`[{"time":"06-10","price":190},{"time":"06-11","price":193.5}]`),
	}}
	g = newTestAnalyzer(gen, 1)
	pts, err = g.FetchHistory(context.Background(), apple, domain.Range1W)
	require.NoError(t, err)
	assert.Len(t, pts, 2)
	assert.Contains(t, gen.prompts[0], "MM-DD")
}

func TestMarketOverview(t *testing.T) {
	gen := &fakeGenerator{replies: []func() (*genai.GenerateContentResponse, error){
		textReply(`[{"region":"US","sentiment":"Bullish","summary":"risk on","indices":[{"name":"S&P 500","value":"5400","change":"+20","changePercent":"+0.4%","isUp":true}]}]`),
	}}
	g := newTestAnalyzer(gen, 1)

	out, err := g.MarketOverview(context.Background(), domain.Range1D)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, domain.SentimentBullish, out[0].Sentiment)
	assert.True(t, out[0].Indices[0].IsUp)
	assert.True(t, strings.Contains(gen.prompts[0], "Hang Seng"))
}

// ---------------------------------------------------------------------------
// CachedAnalyzer
// ---------------------------------------------------------------------------

type countingAnalyzer struct {
	mu       sync.Mutex
	overview int
	history  int
}

func (c *countingAnalyzer) AnalyzeInstrument(context.Context, domain.Instrument) (*domain.Analysis, error) {
	return &domain.Analysis{}, nil
}

func (c *countingAnalyzer) FetchHistory(context.Context, domain.Instrument, domain.TimeRange) ([]domain.PricePoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history++
	return []domain.PricePoint{{Time: "10:00", Price: float64(c.history)}}, nil
}

func (c *countingAnalyzer) MarketOverview(context.Context, domain.TimeRange) ([]domain.MarketSentiment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overview++
	return []domain.MarketSentiment{{Region: "CN", Summary: fmt.Sprint(c.overview)}}, nil
}

func TestCachedAnalyzerMarketOverview(t *testing.T) {
	blobs, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer blobs.Close()

	inner := &countingAnalyzer{}
	c := NewCachedAnalyzer(inner, blobs, nil, 10*time.Minute, 0, util.Discard())
	ctx := context.Background()

	first, err := c.MarketOverview(ctx, domain.Range1D)
	require.NoError(t, err)
	second, err := c.MarketOverview(ctx, domain.Range1D)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.overview)

	// Ranges are cached independently.
	_, err = c.MarketOverview(ctx, domain.Range1Y)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.overview)

	// Expired entries are refetched.
	c.now = func() time.Time { return time.Now().Add(time.Hour) }
	third, err := c.MarketOverview(ctx, domain.Range1D)
	require.NoError(t, err)
	assert.Equal(t, "3", third[0].Summary)
}

func TestCachedAnalyzerHistory(t *testing.T) {
	inner := &countingAnalyzer{}
	c := NewCachedAnalyzer(inner, nil, store.NewHistoryCache(t.TempDir()), 0, time.Hour, util.Discard())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		pts, err := c.FetchHistory(ctx, apple, domain.Range1M)
		require.NoError(t, err)
		assert.Equal(t, 1.0, pts[0].Price)
	}
	assert.Equal(t, 1, inner.history)
}
