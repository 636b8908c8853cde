package stream

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"smartvalue/internal/auth"
	"smartvalue/internal/domain"
	"smartvalue/internal/store"
	"smartvalue/internal/util"
	"smartvalue/internal/watchlist"
)

type harness struct {
	store    *watchlist.Store
	sessions *auth.Sessions
	client   *Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	blobs, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { blobs.Close() })

	log := util.Discard()
	wl := watchlist.NewStore(blobs, log)
	sessions := auth.NewSessions()

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	NewServer(wl, sessions, log).RegisterGRPC(gs)
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	dialer := grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
	return &harness{
		store:    wl,
		sessions: sessions,
		client:   NewClient("passthrough:///bufnet", log, dialer),
	}
}

// watch starts a Sync in the background and returns its event channel.
func (h *harness) watch(t *testing.T, token string) (<-chan watchlist.Event, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	events := make(chan watchlist.Event, 16)
	done := make(chan error, 1)
	go func() {
		done <- h.client.Sync(ctx, token, func(e watchlist.Event) { events <- e })
	}()
	return events, done
}

func next(t *testing.T, ch <-chan watchlist.Event) watchlist.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return watchlist.Event{}
	}
}

func TestGuestSnapshotThenEvents(t *testing.T) {
	h := newHarness(t)
	events, _ := h.watch(t, "")

	snap := next(t, events)
	assert.Equal(t, watchlist.EventSnapshot, snap.Type)
	assert.Equal(t, domain.GuestUser, snap.User)
	assert.Len(t, snap.Items, 3)

	added, err := h.store.Add(context.Background(), "", watchlist.NewInstrument{Symbol: "nvda", Market: domain.MarketUS})
	require.NoError(t, err)

	evt := next(t, events)
	assert.Equal(t, watchlist.EventAdded, evt.Type)
	require.NotNil(t, evt.Instrument)
	assert.Equal(t, added.ID, evt.Instrument.ID)
	assert.Equal(t, "NVDA", evt.Instrument.Symbol)

	_, err = h.store.Remove(context.Background(), "", added.ID)
	require.NoError(t, err)
	evt = next(t, events)
	assert.Equal(t, watchlist.EventRemoved, evt.Type)
	assert.Equal(t, added.ID, evt.ID)
}

func TestEventsScopedToSessionUser(t *testing.T) {
	h := newHarness(t)
	token := h.sessions.Create("alice")
	events, _ := h.watch(t, token)

	snap := next(t, events)
	assert.Equal(t, "alice", snap.User)
	assert.Empty(t, snap.Items)

	ctx := context.Background()
	_, err := h.store.Add(ctx, domain.GuestUser, watchlist.NewInstrument{Symbol: "IBM", Market: domain.MarketUS})
	require.NoError(t, err)
	_, err = h.store.Add(ctx, "alice", watchlist.NewInstrument{Symbol: "TSLA", Market: domain.MarketUS})
	require.NoError(t, err)

	evt := next(t, events)
	assert.Equal(t, "alice", evt.User)
	require.NotNil(t, evt.Instrument)
	assert.Equal(t, "TSLA", evt.Instrument.Symbol)
}

func TestSyncStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	got := make(chan struct{}, 1)
	go func() {
		done <- h.client.Sync(ctx, "", func(watchlist.Event) {
			select {
			case got <- struct{}{}:
			default:
			}
		})
	}()

	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Sync did not return")
	}
}
