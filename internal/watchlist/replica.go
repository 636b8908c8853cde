package watchlist

import (
	"sync"

	"smartvalue/internal/domain"
)

// Replica is a client-side copy of one user's list, kept current by
// applying the Events streamed from a Store.
type Replica struct {
	mu    sync.RWMutex
	user  string
	items []domain.Instrument
	ready bool
}

// NewReplica creates an empty replica. It becomes Ready after the first
// snapshot.
func NewReplica() *Replica {
	return &Replica{}
}

// Apply folds e into the replica and reports whether anything changed.
// Events for other users and events before the first snapshot are ignored.
func (r *Replica) Apply(e Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.Type == EventSnapshot {
		r.user = e.User
		r.items = cloneList(e.Items)
		r.ready = true
		return true
	}
	if !r.ready || e.User != r.user {
		return false
	}

	switch e.Type {
	case EventAdded:
		if e.Instrument == nil || indexOf(r.items, e.Instrument.ID) >= 0 {
			return false
		}
		r.items = append(r.items, e.Instrument.Clone())
	case EventUpdated:
		if e.Instrument == nil {
			return false
		}
		i := indexOf(r.items, e.Instrument.ID)
		if i < 0 {
			return false
		}
		r.items[i] = e.Instrument.Clone()
	case EventRemoved:
		i := indexOf(r.items, e.ID)
		if i < 0 {
			return false
		}
		r.items = append(r.items[:i], r.items[i+1:]...)
	case EventMoved:
		r.items = cloneList(e.Items)
	default:
		return false
	}
	return true
}

// Ready reports whether a snapshot has been received.
func (r *Replica) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ready
}

// User returns the identity of the replicated list.
func (r *Replica) User() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.user
}

// Items returns a copy of the list in stored order.
func (r *Replica) Items() []domain.Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneList(r.items)
}
