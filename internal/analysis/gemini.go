package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"

	"smartvalue/internal/domain"
	"smartvalue/internal/util"
)

// Compile-time interface check.
var _ Analyzer = (*GeminiAnalyzer)(nil)

// contentGenerator is the slice of *genai.Models the analyzer uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiConfig configures a GeminiAnalyzer.
type GeminiConfig struct {
	APIKey        string
	Model         string
	BaseURL       string
	Temperature   float32
	Timeout       time.Duration
	RatePerMinute int
	RetryAttempts int
}

// GeminiAnalyzer implements Analyzer on top of the Gemini API with Google
// Search grounding.
type GeminiAnalyzer struct {
	gen         contentGenerator
	model       string
	temperature float32
	timeout     time.Duration
	limiter     *util.RateLimiter
	attempts    int
	retryDelay  time.Duration
	now         func() time.Time
	log         *slog.Logger
}

// NewGeminiAnalyzer creates a Gemini API client and wraps it in an analyzer.
func NewGeminiAnalyzer(ctx context.Context, cfg GeminiConfig, log *slog.Logger) (*GeminiAnalyzer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return newGeminiAnalyzer(client.Models, cfg, log), nil
}

func newGeminiAnalyzer(gen contentGenerator, cfg GeminiConfig, log *slog.Logger) *GeminiAnalyzer {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	return &GeminiAnalyzer{
		gen:         gen,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		limiter:     util.NewBurstRateLimiter(cfg.RatePerMinute, 4),
		attempts:    cfg.RetryAttempts,
		retryDelay:  2 * time.Second,
		now:         time.Now,
		log:         log,
	}
}

// AnalyzeInstrument asks the model for a valuation of inst.
func (g *GeminiAnalyzer) AnalyzeInstrument(ctx context.Context, inst domain.Instrument) (*domain.Analysis, error) {
	now := g.now()
	resp, err := g.generate(ctx, instrumentPrompt(inst, now))
	if err != nil {
		g.log.Warn("analysis request failed", "symbol", inst.Symbol, "market", inst.Market, "error", err)
		return nil, err
	}

	var a domain.Analysis
	if err := ExtractJSON(resp.Text(), &a); err != nil {
		g.log.Warn("analysis reply unparseable", "symbol", inst.Symbol, "error", err)
		return nil, err
	}
	a.Recommendation = a.Recommendation.Normalize()
	for _, r := range []*domain.StrategyReport{&a.Graham, &a.Schloss, &a.Fisher} {
		r.Score = max(0, min(100, r.Score))
	}
	a.LastUpdated = now.Format("15:04:05")
	a.Sources = groundingSources(resp)

	g.log.Info("analysis complete", "symbol", inst.Symbol, "recommendation", a.Recommendation,
		"sources", len(a.Sources))
	return &a, nil
}

// FetchHistory asks the model for a price series. Failures are logged and
// yield an empty series.
func (g *GeminiAnalyzer) FetchHistory(ctx context.Context, inst domain.Instrument, r domain.TimeRange) ([]domain.PricePoint, error) {
	resp, err := g.generate(ctx, historyPrompt(inst, r, g.now()))
	if err != nil {
		g.log.Warn("history fetch failed (non-critical)", "symbol", inst.Symbol, "range", r, "error", err)
		return []domain.PricePoint{}, nil
	}
	var points []domain.PricePoint
	if err := ExtractJSON(resp.Text(), &points); err != nil {
		g.log.Warn("history reply unparseable (non-critical)", "symbol", inst.Symbol, "range", r, "error", err)
		return []domain.PricePoint{}, nil
	}
	if points == nil {
		points = []domain.PricePoint{}
	}
	return points, nil
}

// MarketOverview asks the model for sentiment and index trends.
func (g *GeminiAnalyzer) MarketOverview(ctx context.Context, r domain.TimeRange) ([]domain.MarketSentiment, error) {
	resp, err := g.generate(ctx, overviewPrompt(r, g.now()))
	if err != nil {
		g.log.Warn("market overview failed", "range", r, "error", err)
		return nil, err
	}
	var out []domain.MarketSentiment
	if err := ExtractJSON(resp.Text(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// generate sends one grounded prompt, pacing through the rate limiter and
// retrying transient failures. Rate-limit rejections are not retried.
func (g *GeminiAnalyzer) generate(ctx context.Context, prompt string) (*genai.GenerateContentResponse, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.temperature),
		Tools:       []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
	}

	var resp *genai.GenerateContentResponse
	err := util.RetryIf(ctx, g.attempts, g.retryDelay, func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		callCtx := ctx
		if g.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}

		r, err := g.gen.GenerateContent(callCtx, g.model, genai.Text(prompt), cfg)
		if err != nil {
			return classify(err)
		}
		if r == nil || r.Text() == "" {
			return ErrEmptyResponse
		}
		resp = r
		return nil
	}, retryable)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func retryable(err error) bool {
	return !IsRateLimited(err) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// groundingSources lists the web citations of the first candidate. Titles
// default to "Source"; entries without a URI are dropped.
func groundingSources(resp *genai.GenerateContentResponse) []domain.Source {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil
	}
	md := resp.Candidates[0].GroundingMetadata
	if md == nil {
		return nil
	}
	var sources []domain.Source
	for _, chunk := range md.GroundingChunks {
		if chunk == nil || chunk.Web == nil || chunk.Web.URI == "" {
			continue
		}
		title := chunk.Web.Title
		if title == "" {
			title = "Source"
		}
		sources = append(sources, domain.Source{Title: title, URI: chunk.Web.URI})
	}
	return sources
}
