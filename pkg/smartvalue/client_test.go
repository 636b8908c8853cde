package smartvalue

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartvalue/internal/auth"
	"smartvalue/internal/domain"
	"smartvalue/internal/engine"
	"smartvalue/internal/httpapi"
	"smartvalue/internal/listview"
	"smartvalue/internal/store"
	"smartvalue/internal/util"
	"smartvalue/internal/watchlist"
)

type echoAnalyzer struct{}

func (echoAnalyzer) AnalyzeInstrument(_ context.Context, inst domain.Instrument) (*domain.Analysis, error) {
	return &domain.Analysis{CurrentPrice: float64(len(inst.Symbol)), Recommendation: domain.RecommendationBuy}, nil
}

func (echoAnalyzer) FetchHistory(context.Context, domain.Instrument, domain.TimeRange) ([]domain.PricePoint, error) {
	return []domain.PricePoint{{Time: "2024-06-17", Price: 10}}, nil
}

func (echoAnalyzer) MarketOverview(context.Context, domain.TimeRange) ([]domain.MarketSentiment, error) {
	return []domain.MarketSentiment{{Region: "CN", Sentiment: domain.SentimentBullish}}, nil
}

func newTestClient(t *testing.T) (*Client, *engine.Engine) {
	t.Helper()
	blobs, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { blobs.Close() })

	log := util.Discard()
	eng := engine.NewEngine(watchlist.NewStore(blobs, log), echoAnalyzer{}, log)
	t.Cleanup(eng.Wait)
	srv := httpapi.NewServer(eng, auth.NewService(auth.NewBlobDirectory(blobs), log), auth.NewSessions(), listview.NewRegistry(), log)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return NewClient(ts.URL + "/"), eng
}

func TestNewClient(t *testing.T) {
	c := NewClient("http://localhost:8080/")
	require.NotNil(t, c)
	assert.Equal(t, "http://localhost:8080", c.baseURL)
	assert.NotNil(t, c.httpClient)
	assert.Empty(t, c.Token())
}

func TestClientSession(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Health(ctx))

	_, err := c.Login(ctx, "erin", "pw")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, auth.MsgNoSuchUser, apiErr.Message)

	res, err := c.Register(ctx, "erin", "pw")
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = c.Login(ctx, "erin", "pw")
	require.NoError(t, err)
	assert.Equal(t, res.Token, c.Token())

	me, err := c.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "erin", me.Username)

	require.NoError(t, c.Logout(ctx))
	assert.Empty(t, c.Token())
	me, err = c.Me(ctx)
	require.NoError(t, err)
	assert.True(t, me.Guest)
}

func TestClientWatchlistOps(t *testing.T) {
	c, eng := newTestClient(t)
	ctx := context.Background()

	wl, err := c.Watchlist(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, wl.Instruments, 3)

	wl, err = c.Watchlist(ctx, &listview.Filter{Market: "US"})
	require.NoError(t, err)
	require.Len(t, wl.Instruments, 1)
	assert.Equal(t, "AAPL", wl.Instruments[0].Symbol)

	inst, err := c.Add(ctx, AddRequest{Symbol: "brk.b", Market: domain.MarketUS, Group: "Value"})
	require.NoError(t, err)
	assert.Equal(t, "BRK.B", inst.Symbol)
	eng.Wait()

	refreshed, err := c.Refresh(ctx, inst.ID)
	require.NoError(t, err)
	require.NotNil(t, refreshed.Analysis)
	assert.Equal(t, 5.0, refreshed.Analysis.CurrentPrice)

	all, err := c.RefreshAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all.Outcomes, 4)
	assert.Zero(t, all.Failed)

	groups, err := c.Groups(ctx)
	require.NoError(t, err)
	assert.Contains(t, groups, "Value")

	hits, err := c.Search(ctx, "brk")
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, inst.ID, hits[0].ID)

	hist, err := c.History(ctx, inst.ID, domain.Range1M)
	require.NoError(t, err)
	assert.Len(t, hist.Points, 1)

	market, err := c.Market(ctx, domain.Range1D)
	require.NoError(t, err)
	require.Len(t, market.Markets, 1)
	assert.Equal(t, domain.SentimentBullish, market.Markets[0].Sentiment)

	_, err = c.Remove(ctx, inst.ID)
	require.NoError(t, err)
	_, err = c.Remove(ctx, inst.ID)
	require.ErrorAs(t, err, new(*APIError))
}

func TestClientSortAndReorder(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	st, err := c.SelectSort(ctx, listview.SortPrice)
	require.NoError(t, err)
	assert.False(t, st.CanReorder)

	_, err = c.Reorder(ctx, "2", "1")
	assert.True(t, IsConflict(err))

	st, err = c.ClearSort(ctx)
	require.NoError(t, err)
	assert.True(t, st.CanReorder)

	list, err := c.Reorder(ctx, "2", "1")
	require.NoError(t, err)
	assert.Equal(t, "2", list[0].ID)
}

func TestTokenFile(t *testing.T) {
	t.Setenv("SMARTVALUE_TOKEN_FILE", t.TempDir()+"/nested/token")

	tok, err := LoadToken()
	require.NoError(t, err)
	assert.Empty(t, tok)

	require.NoError(t, SaveToken("abc-123"))
	tok, err = LoadToken()
	require.NoError(t, err)
	assert.Equal(t, "abc-123", tok)

	require.NoError(t, ClearToken())
	require.NoError(t, ClearToken())
	tok, err = LoadToken()
	require.NoError(t, err)
	assert.Empty(t, tok)
}
