package watchlist

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartvalue/internal/domain"
	"smartvalue/internal/store"
	"smartvalue/internal/util"
)

func newTestStore(t *testing.T) (*Store, *store.SQLiteStore) {
	t.Helper()
	blobs, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { blobs.Close() })

	s := NewStore(blobs, util.Discard())
	n := 0
	s.newID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	return s, blobs
}

func ids(list []domain.Instrument) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = list[i].ID
	}
	return out
}

func TestGuestSeededWithSamples(t *testing.T) {
	s, _ := newTestStore(t)
	list, err := s.List(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, ids(list))
}

func TestUserStartsEmpty(t *testing.T) {
	s, _ := newTestStore(t)
	list, err := s.List(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAddDefaultsAndPersists(t *testing.T) {
	s, blobs := newTestStore(t)
	ctx := context.Background()

	inst, err := s.Add(ctx, "alice", NewInstrument{Symbol: " msft ", Market: domain.MarketUS})
	require.NoError(t, err)
	assert.Equal(t, "id-1", inst.ID)
	assert.Equal(t, "MSFT", inst.Symbol)
	assert.Equal(t, "MSFT", inst.Name, "blank name falls back to symbol")
	assert.Equal(t, domain.DefaultGroup, inst.Group)

	data, ok, err := blobs.Get(ctx, store.NamespaceWatchlist, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	var saved []domain.Instrument
	require.NoError(t, json.Unmarshal(data, &saved))
	require.Len(t, saved, 1)
	assert.Equal(t, "MSFT", saved[0].Symbol)

	// A fresh store over the same blobs sees the persisted list.
	s2 := NewStore(blobs, util.Discard())
	list, err := s2.List(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"id-1"}, ids(list))
}

func TestAddValidation(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, "alice", NewInstrument{Symbol: "", Market: domain.MarketUS})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = s.Add(ctx, "alice", NewInstrument{Symbol: "X", Market: "EU"})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestAddSymbolCharset(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, sym := range []string{"600519", "00700", "brk.b", "BF-B"} {
		_, err := s.Add(ctx, "alice", NewInstrument{Symbol: sym, Market: domain.MarketUS})
		assert.NoError(t, err, sym)
	}
	for _, sym := range []string{"../../../X", "..", ".A", "A/B", `A\B`, "A B", "TOOLONGSYMBOL12345"} {
		_, err := s.Add(ctx, "alice", NewInstrument{Symbol: sym, Market: domain.MarketUS})
		assert.ErrorIs(t, err, ErrInvalid, sym)
	}

	list, err := s.List(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, list, 4)
}

func TestRemove(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Remove(ctx, "", "2")
	require.NoError(t, err)
	list, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, ids(list))

	_, err = s.Remove(ctx, "", "2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAnalysisLifecycle(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	marked, err := s.MarkAnalyzing(ctx, "", "1", "missing")
	require.NoError(t, err)
	require.Len(t, marked, 1)
	assert.True(t, marked[0].Analyzing)

	got, err := s.ApplyAnalysis(ctx, "", "1", &domain.Analysis{CurrentPrice: 1500, Recommendation: domain.RecommendationBuy})
	require.NoError(t, err)
	assert.False(t, got.Analyzing)
	require.NotNil(t, got.Analysis)
	assert.Equal(t, 1500.0, got.Analysis.CurrentPrice)

	// A failed single refresh keeps the previous analysis.
	_, err = s.MarkAnalyzing(ctx, "", "1")
	require.NoError(t, err)
	got, err = s.ApplyError(ctx, "", "1", "analysis failed", false)
	require.NoError(t, err)
	assert.False(t, got.Analyzing)
	assert.Equal(t, "analysis failed", got.Error)
	assert.NotNil(t, got.Analysis)

	// Marking again clears the error.
	marked, err = s.MarkAnalyzing(ctx, "", "1")
	require.NoError(t, err)
	assert.Empty(t, marked[0].Error)

	// A dropping error discards it.
	got, err = s.ApplyError(ctx, "", "1", "failed", true)
	require.NoError(t, err)
	assert.Nil(t, got.Analysis)

	_, err = s.ApplyAnalysis(ctx, "", "nope", &domain.Analysis{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkAnalyzingAll(t *testing.T) {
	s, _ := newTestStore(t)
	marked, err := s.MarkAnalyzing(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, marked, 3)
}

func TestListReturnsCopies(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	list, err := s.List(ctx, "")
	require.NoError(t, err)
	list[0].Name = "mutated"

	again, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "Kweichow Moutai", again[0].Name)
}

func TestMove(t *testing.T) {
	tests := []struct {
		name     string
		from, to string
		want     []string
	}{
		{"first to last", "1", "3", []string{"2", "3", "1"}},
		{"last to first", "3", "1", []string{"3", "1", "2"}},
		{"middle down", "2", "3", []string{"1", "3", "2"}},
		{"onto itself", "2", "2", []string{"1", "2", "3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestStore(t)
			got, err := s.Move(context.Background(), "", tt.from, tt.to)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}

	s, _ := newTestStore(t)
	_, err := s.Move(context.Background(), "", "1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGroups(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	groups, err := s.Groups(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"Baijiu Leaders", "Tech Giants"}, groups)

	_, err = s.Add(ctx, "", NewInstrument{Symbol: "BABA", Market: domain.MarketUS})
	require.NoError(t, err)
	groups, err = s.Groups(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"Baijiu Leaders", "Tech Giants", domain.DefaultGroup}, groups)
}

func TestSubscribeFiltersByUser(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	aliceID, aliceCh := s.Subscribe("alice", 8)
	allID, allCh := s.Subscribe("", 8)
	defer s.Unsubscribe(allID)

	_, err := s.Add(ctx, "bob", NewInstrument{Symbol: "TSLA", Market: domain.MarketUS})
	require.NoError(t, err)
	_, err = s.Add(ctx, "alice", NewInstrument{Symbol: "NVDA", Market: domain.MarketUS})
	require.NoError(t, err)

	select {
	case ev := <-aliceCh:
		assert.Equal(t, EventAdded, ev.Type)
		assert.Equal(t, "alice", ev.User)
		assert.Equal(t, "NVDA", ev.Instrument.Symbol)
	case <-time.After(time.Second):
		t.Fatal("alice did not receive her event")
	}
	assert.Len(t, allCh, 2, "wildcard subscriber sees both users")

	s.Unsubscribe(aliceID)
	_, open := <-aliceCh
	assert.False(t, open, "channel closed after Unsubscribe")
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	s, _ := newTestStore(t)
	id, ch := s.Subscribe("", 1)
	defer s.Unsubscribe(id)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := s.Add(ctx, "", NewInstrument{Symbol: fmt.Sprintf("S%d", i), Market: domain.MarketUS})
		require.NoError(t, err)
	}
	assert.Len(t, ch, 1)
}

func TestSnapshotAndUsers(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, "carol", NewInstrument{Symbol: "AMD", Market: domain.MarketUS})
	require.NoError(t, err)

	ev, err := s.Snapshot(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, EventSnapshot, ev.Type)
	assert.Len(t, ev.Items, 1)

	users, err := s.Users(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, users)
}
