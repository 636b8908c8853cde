package watchlist

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartvalue/internal/domain"
)

func drain(r *Replica, ch <-chan Event) {
	for {
		select {
		case e := <-ch:
			r.Apply(e)
		default:
			return
		}
	}
}

func TestReplicaFollowsStore(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, ch := s.Subscribe("alice", 64)
	r := NewReplica()
	assert.False(t, r.Ready())

	// Changes before the snapshot are ignored.
	assert.False(t, r.Apply(Event{Type: EventAdded, User: "alice", Instrument: &domain.Instrument{ID: "x"}}))

	snap, err := s.Snapshot(ctx, "alice")
	require.NoError(t, err)
	require.True(t, r.Apply(snap))
	assert.True(t, r.Ready())
	assert.Equal(t, "alice", r.User())

	a, err := s.Add(ctx, "alice", NewInstrument{Symbol: "AAPL", Market: domain.MarketUS})
	require.NoError(t, err)
	b, err := s.Add(ctx, "alice", NewInstrument{Symbol: "MSFT", Market: domain.MarketUS})
	require.NoError(t, err)
	c, err := s.Add(ctx, "alice", NewInstrument{Symbol: "00700", Market: domain.MarketHK})
	require.NoError(t, err)
	_, err = s.MarkAnalyzing(ctx, "alice", b.ID)
	require.NoError(t, err)
	_, err = s.ApplyAnalysis(ctx, "alice", b.ID, &domain.Analysis{CurrentPrice: 420})
	require.NoError(t, err)
	_, err = s.Move(ctx, "alice", c.ID, a.ID)
	require.NoError(t, err)
	_, err = s.Remove(ctx, "alice", a.ID)
	require.NoError(t, err)

	drain(r, ch)

	want, err := s.List(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, want, r.Items())
	assert.Equal(t, []string{c.ID, b.ID}, ids(r.Items()))
}

func TestReplicaIgnoresForeignAndUnknown(t *testing.T) {
	r := NewReplica()
	r.Apply(Event{Type: EventSnapshot, User: "bob", Items: []domain.Instrument{{ID: "1", Symbol: "IBM"}}})

	assert.False(t, r.Apply(Event{Type: EventAdded, User: "carol", Instrument: &domain.Instrument{ID: "2"}}))
	assert.False(t, r.Apply(Event{Type: EventAdded, User: "bob", Instrument: &domain.Instrument{ID: "1"}}), "duplicate add")
	assert.False(t, r.Apply(Event{Type: EventRemoved, User: "bob", ID: "missing"}))
	assert.False(t, r.Apply(Event{Type: EventUpdated, User: "bob", Instrument: &domain.Instrument{ID: "missing"}}))
	assert.False(t, r.Apply(Event{Type: "bogus", User: "bob"}))

	items := r.Items()
	require.Len(t, items, 1)
	items[0].Symbol = "changed"
	assert.Equal(t, "IBM", r.Items()[0].Symbol, "Items returns a copy")
}
