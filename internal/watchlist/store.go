// Package watchlist provides the per-user list of tracked instruments, kept
// in memory, persisted to a BlobStore on every mutation and published to
// subscribers for live push.
package watchlist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"

	"smartvalue/internal/domain"
	"smartvalue/internal/store"
)

// ErrNotFound is returned when an instrument id is not in the user's list.
var ErrNotFound = errors.New("instrument not found")

// ErrInvalid is returned when an instrument to add is missing required fields.
var ErrInvalid = errors.New("invalid instrument")

// symbolPattern accepts exchange tickers such as 600519, 00700 and BRK.B.
var symbolPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]{0,15}$`)

// Event types.
const (
	EventSnapshot = "snapshot"
	EventAdded    = "added"
	EventRemoved  = "removed"
	EventUpdated  = "updated"
	EventMoved    = "moved"
)

// Event is the wire format for push messages.
type Event struct {
	Type       string              `json:"type"`
	User       string              `json:"user"`
	ID         string              `json:"id,omitempty"`         // removed/moved
	Instrument *domain.Instrument  `json:"instrument,omitempty"` // added/updated
	Items      []domain.Instrument `json:"items,omitempty"`      // snapshot/moved
}

// NewInstrument is the input to Add.
type NewInstrument struct {
	Symbol string        `json:"symbol"`
	Name   string        `json:"name"`
	Market domain.Market `json:"market"`
	Group  string        `json:"group"`
}

type subscriber struct {
	user string // "" receives every user's events
	ch   chan Event
}

// Store holds each user's watchlist in memory with BlobStore persistence and
// pub/sub.
type Store struct {
	mu    sync.Mutex
	lists map[string][]domain.Instrument // user -> ordered instruments
	blobs store.BlobStore
	log   *slog.Logger
	newID func() string

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]subscriber
}

// NewStore creates a Store persisting through blobs.
func NewStore(blobs store.BlobStore, log *slog.Logger) *Store {
	return &Store{
		lists: make(map[string][]domain.Instrument),
		blobs: blobs,
		log:   log,
		newID: uuid.NewString,
		subs:  make(map[int]subscriber),
	}
}

// identity maps a blank user to the guest bucket.
func identity(user string) string {
	if strings.TrimSpace(user) == "" {
		return domain.GuestUser
	}
	return user
}

// List returns a deep copy of the user's instruments in stored order.
func (s *Store) List(ctx context.Context, user string) ([]domain.Instrument, error) {
	user = identity(user)
	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.ensureLoaded(ctx, user)
	if err != nil {
		return nil, err
	}
	return cloneList(list), nil
}

// Get returns one instrument.
func (s *Store) Get(ctx context.Context, user, id string) (domain.Instrument, error) {
	user = identity(user)
	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.ensureLoaded(ctx, user)
	if err != nil {
		return domain.Instrument{}, err
	}
	i := indexOf(list, id)
	if i < 0 {
		return domain.Instrument{}, ErrNotFound
	}
	return list[i].Clone(), nil
}

// Users returns every identity with a persisted watchlist.
func (s *Store) Users(ctx context.Context) ([]string, error) {
	return s.blobs.Keys(ctx, store.NamespaceWatchlist)
}

// Add appends a new instrument with a fresh id. A blank group becomes
// DefaultGroup, a blank name the symbol.
func (s *Store) Add(ctx context.Context, user string, in NewInstrument) (domain.Instrument, error) {
	user = identity(user)
	symbol := strings.ToUpper(strings.TrimSpace(in.Symbol))
	if symbol == "" {
		return domain.Instrument{}, fmt.Errorf("%w: symbol is required", ErrInvalid)
	}
	if !symbolPattern.MatchString(symbol) {
		return domain.Instrument{}, fmt.Errorf("%w: malformed symbol %q", ErrInvalid, symbol)
	}
	if !in.Market.Valid() {
		return domain.Instrument{}, fmt.Errorf("%w: unknown market %q", ErrInvalid, in.Market)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = symbol
	}

	inst := domain.Instrument{
		ID:     s.newID(),
		Symbol: symbol,
		Name:   name,
		Market: in.Market,
		Group:  domain.GroupOrDefault(strings.TrimSpace(in.Group)),
	}

	s.mu.Lock()
	list, err := s.ensureLoaded(ctx, user)
	if err != nil {
		s.mu.Unlock()
		return domain.Instrument{}, err
	}
	s.lists[user] = append(list, inst)
	s.flush(ctx, user)
	s.mu.Unlock()

	out := inst.Clone()
	s.broadcast(Event{Type: EventAdded, User: user, Instrument: &out})
	return inst.Clone(), nil
}

// Remove deletes an instrument from the user's list.
func (s *Store) Remove(ctx context.Context, user, id string) (domain.Instrument, error) {
	user = identity(user)
	s.mu.Lock()
	list, err := s.ensureLoaded(ctx, user)
	if err != nil {
		s.mu.Unlock()
		return domain.Instrument{}, err
	}
	i := indexOf(list, id)
	if i < 0 {
		s.mu.Unlock()
		return domain.Instrument{}, ErrNotFound
	}
	removed := list[i]
	s.lists[user] = append(list[:i:i], list[i+1:]...)
	s.flush(ctx, user)
	s.mu.Unlock()

	s.broadcast(Event{Type: EventRemoved, User: user, ID: id})
	return removed, nil
}

// MarkAnalyzing sets the analyzing flag and clears any error on the given
// instruments. With no ids every instrument is marked. Unknown ids are
// skipped; the marked instruments are returned.
func (s *Store) MarkAnalyzing(ctx context.Context, user string, ids ...string) ([]domain.Instrument, error) {
	user = identity(user)
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	s.mu.Lock()
	list, err := s.ensureLoaded(ctx, user)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	var marked []domain.Instrument
	for i := range list {
		if len(ids) > 0 && !want[list[i].ID] {
			continue
		}
		list[i].Analyzing = true
		list[i].Error = ""
		marked = append(marked, list[i].Clone())
	}
	if len(marked) > 0 {
		s.flush(ctx, user)
	}
	s.mu.Unlock()

	for i := range marked {
		s.broadcast(Event{Type: EventUpdated, User: user, Instrument: &marked[i]})
	}
	return cloneList(marked), nil
}

// ApplyAnalysis stores a fresh analysis, clearing the analyzing flag and error.
func (s *Store) ApplyAnalysis(ctx context.Context, user, id string, a *domain.Analysis) (domain.Instrument, error) {
	return s.update(ctx, user, id, func(inst *domain.Instrument) {
		inst.Analyzing = false
		inst.Error = ""
		if a != nil {
			c := a.Clone()
			inst.Analysis = &c
		}
	})
}

// ApplyError records a failed analysis. The previous analysis is kept unless
// dropAnalysis is set.
func (s *Store) ApplyError(ctx context.Context, user, id, label string, dropAnalysis bool) (domain.Instrument, error) {
	return s.update(ctx, user, id, func(inst *domain.Instrument) {
		inst.Analyzing = false
		inst.Error = label
		if dropAnalysis {
			inst.Analysis = nil
		}
	})
}

// Move removes the instrument fromID and reinserts it at the position
// toID occupied. Moving onto itself is a no-op.
func (s *Store) Move(ctx context.Context, user, fromID, toID string) ([]domain.Instrument, error) {
	user = identity(user)
	s.mu.Lock()
	list, err := s.ensureLoaded(ctx, user)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	from, to := indexOf(list, fromID), indexOf(list, toID)
	if from < 0 || to < 0 {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	if from == to {
		out := cloneList(list)
		s.mu.Unlock()
		return out, nil
	}

	moved := list[from]
	list = append(list[:from], list[from+1:]...)
	list = append(list[:to], append([]domain.Instrument{moved}, list[to:]...)...)
	s.lists[user] = list
	s.flush(ctx, user)
	out := cloneList(list)
	s.mu.Unlock()

	s.broadcast(Event{Type: EventMoved, User: user, ID: fromID, Items: cloneList(out)})
	return out, nil
}

// Groups returns the unique group labels in first-seen order, with blank
// groups reported as DefaultGroup.
func (s *Store) Groups(ctx context.Context, user string) ([]string, error) {
	list, err := s.List(ctx, user)
	if err != nil {
		return nil, err
	}
	return UniqueGroups(list), nil
}

// UniqueGroups returns the distinct group labels of list in first-seen order.
func UniqueGroups(list []domain.Instrument) []string {
	seen := make(map[string]bool)
	groups := []string{}
	for i := range list {
		g := list[i].GroupOrDefault()
		if !seen[g] {
			seen[g] = true
			groups = append(groups, g)
		}
	}
	return groups
}

// Subscribe returns a channel that receives events for user ("" for all
// users). bufSize controls the channel buffer; slow consumers will have
// events dropped.
func (s *Store) Subscribe(user string, bufSize int) (int, <-chan Event) {
	ch := make(chan Event, bufSize)
	s.subsMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = subscriber{user: user, ch: ch}
	s.subsMu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Store) Unsubscribe(id int) {
	s.subsMu.Lock()
	if sub, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(sub.ch)
	}
	s.subsMu.Unlock()
}

// Snapshot builds a snapshot event for user.
func (s *Store) Snapshot(ctx context.Context, user string) (Event, error) {
	items, err := s.List(ctx, user)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: EventSnapshot, User: identity(user), Items: items}, nil
}

// update applies fn to one instrument, persists and broadcasts the result.
func (s *Store) update(ctx context.Context, user, id string, fn func(*domain.Instrument)) (domain.Instrument, error) {
	user = identity(user)
	s.mu.Lock()
	list, err := s.ensureLoaded(ctx, user)
	if err != nil {
		s.mu.Unlock()
		return domain.Instrument{}, err
	}
	i := indexOf(list, id)
	if i < 0 {
		s.mu.Unlock()
		return domain.Instrument{}, ErrNotFound
	}
	fn(&list[i])
	s.flush(ctx, user)
	out := list[i].Clone()
	s.mu.Unlock()

	ev := out.Clone()
	s.broadcast(Event{Type: EventUpdated, User: user, Instrument: &ev})
	return out, nil
}

// broadcast sends an event to matching subscribers non-blocking (drop on full).
func (s *Store) broadcast(e Event) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, sub := range s.subs {
		if sub.user != "" && sub.user != e.User {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			// Slow consumer: drop the event.
		}
	}
}

// ensureLoaded returns the user's list, reading it from the BlobStore on
// first access. A guest without saved data gets the sample list; anyone else
// starts empty. Must be called with mu held.
func (s *Store) ensureLoaded(ctx context.Context, user string) ([]domain.Instrument, error) {
	if list, ok := s.lists[user]; ok {
		return list, nil
	}
	data, ok, err := s.blobs.Get(ctx, store.NamespaceWatchlist, user)
	if err != nil {
		return nil, fmt.Errorf("loading watchlist for %s: %w", user, err)
	}

	var list []domain.Instrument
	switch {
	case ok:
		if err := json.Unmarshal(data, &list); err != nil {
			s.log.Warn("decoding watchlist, starting empty", "user", user, "error", err)
			list = nil
		}
	case user == domain.GuestUser:
		list = domain.SampleInstruments()
	}
	if list == nil {
		list = []domain.Instrument{}
	}
	s.lists[user] = list
	s.log.Debug("loaded watchlist", "user", user, "instruments", len(list))
	return list, nil
}

// flush writes the user's list to the BlobStore. Must be called with mu held.
func (s *Store) flush(ctx context.Context, user string) {
	data, err := json.Marshal(s.lists[user])
	if err != nil {
		s.log.Error("marshalling watchlist", "user", user, "error", err)
		return
	}
	if err := s.blobs.Put(context.WithoutCancel(ctx), store.NamespaceWatchlist, user, data); err != nil {
		s.log.Error("writing watchlist", "user", user, "error", err)
	}
}

func indexOf(list []domain.Instrument, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneList(list []domain.Instrument) []domain.Instrument {
	out := make([]domain.Instrument, len(list))
	for i := range list {
		out[i] = list[i].Clone()
	}
	return out
}
