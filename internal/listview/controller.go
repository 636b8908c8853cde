// Package listview derives the displayed projection of a watchlist: market
// and group filters, a toggled sort key, grouping, and the rule that manual
// reordering is only allowed while no sort is active. Used by both the HTTP
// server and the TUI client.
package listview

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"smartvalue/internal/domain"
)

// All disables a filter.
const All = "ALL"

// ErrSortActive is returned when a manual reorder is attempted while a sort
// key is selected.
var ErrSortActive = errors.New("reordering is disabled while a sort is active")

// SortKey selects the sort column. The zero value means stored order.
type SortKey string

const (
	SortNone           SortKey = ""
	SortPrice          SortKey = "price"
	SortScore          SortKey = "score"
	SortRecommendation SortKey = "recommendation"
	SortName           SortKey = "name"
)

// SortKeys lists the selectable keys in display order.
var SortKeys = []SortKey{SortPrice, SortScore, SortRecommendation, SortName}

// ParseSortKey accepts a key name case-insensitively. "" and "none" clear.
func ParseSortKey(s string) (SortKey, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "none" {
		return SortNone, nil
	}
	for _, k := range SortKeys {
		if s == string(k) {
			return k, nil
		}
	}
	return SortNone, fmt.Errorf("unknown sort key %q", s)
}

// Label returns a short label for the key.
func (k SortKey) Label() string {
	switch k {
	case SortPrice:
		return "PRICE"
	case SortScore:
		return "SCORE"
	case SortRecommendation:
		return "REC"
	case SortName:
		return "NAME"
	default:
		return "MANUAL"
	}
}

// Direction is the sort order.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Filter narrows the projection. Empty fields behave like All.
type Filter struct {
	Market string `json:"market"`
	Group  string `json:"group"`
}

// State is a snapshot of a controller's settings.
type State struct {
	Filter     Filter    `json:"filter"`
	SortKey    SortKey   `json:"sortKey"`
	Direction  Direction `json:"direction"`
	CanReorder bool      `json:"canReorder"`
}

// Group is one bucket of a grouped projection.
type Group struct {
	Name        string              `json:"name"`
	Count       int                 `json:"count"`
	Instruments []domain.Instrument `json:"instruments"`
}

// Controller holds per-viewer list settings. It is safe for concurrent use.
type Controller struct {
	mu     sync.Mutex
	filter Filter
	key    SortKey
	dir    Direction
}

// NewController returns a controller with no filter and no sort.
func NewController() *Controller {
	return &Controller{filter: Filter{Market: All, Group: All}, dir: Desc}
}

// Select picks a sort key. Selecting the active key flips the direction;
// selecting a different key activates it descending. SortNone clears.
func (c *Controller) Select(key SortKey) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case key == SortNone:
		c.key, c.dir = SortNone, Desc
	case key == c.key:
		if c.dir == Asc {
			c.dir = Desc
		} else {
			c.dir = Asc
		}
	default:
		c.key, c.dir = key, Desc
	}
	return c.stateLocked()
}

// Clear removes the sort key, restoring stored order.
func (c *Controller) Clear() State {
	return c.Select(SortNone)
}

// SetFilter replaces the filter.
func (c *Controller) SetFilter(f Filter) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter = f
	return c.stateLocked()
}

// CanReorder reports whether manual reordering is allowed.
func (c *Controller) CanReorder() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key == SortNone
}

// State returns the current settings.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	return State{Filter: c.filter, SortKey: c.key, Direction: c.dir, CanReorder: c.key == SortNone}
}

// Project returns the filtered and sorted view of list. The input is not
// modified.
func (c *Controller) Project(list []domain.Instrument) []domain.Instrument {
	st := c.State()
	return Project(list, st.Filter, st.SortKey, st.Direction)
}

// GroupBy buckets the projection of list by group label, preserving the
// projected order within and the first-seen order across groups.
func (c *Controller) GroupBy(list []domain.Instrument) []Group {
	return GroupBy(c.Project(list))
}

// Project filters list and sorts it stably by key in dir.
func Project(list []domain.Instrument, f Filter, key SortKey, dir Direction) []domain.Instrument {
	out := make([]domain.Instrument, 0, len(list))
	for i := range list {
		if Matches(&list[i], f) {
			out = append(out, list[i])
		}
	}
	if key != SortNone {
		sortInstruments(out, key, dir)
	}
	return out
}

// Matches reports whether inst passes f. The market filter matches a prefix
// of the market code or label; the group filter compares the defaulted label.
func Matches(inst *domain.Instrument, f Filter) bool {
	if m := strings.TrimSpace(f.Market); m != "" && !strings.EqualFold(m, All) {
		mu := strings.ToUpper(m)
		if !strings.HasPrefix(string(inst.Market), mu) &&
			!strings.HasPrefix(strings.ToUpper(inst.Market.Label()), mu) {
			return false
		}
	}
	if g := f.Group; g != "" && g != All {
		if inst.GroupOrDefault() != g {
			return false
		}
	}
	return true
}

// GroupBy buckets list by group label in first-seen order.
func GroupBy(list []domain.Instrument) []Group {
	var groups []Group
	index := make(map[string]int)
	for i := range list {
		name := list[i].GroupOrDefault()
		gi, ok := index[name]
		if !ok {
			gi = len(groups)
			index[name] = gi
			groups = append(groups, Group{Name: name})
		}
		groups[gi].Instruments = append(groups[gi].Instruments, list[i])
		groups[gi].Count++
	}
	return groups
}

// sortInstruments sorts in place. Missing analyses count as 0 for the
// numeric keys.
func sortInstruments(list []domain.Instrument, key SortKey, dir Direction) {
	sort.SliceStable(list, func(i, j int) bool {
		c := compare(&list[i], &list[j], key)
		if dir == Asc {
			return c < 0
		}
		return c > 0
	})
}

func compare(a, b *domain.Instrument, key SortKey) int {
	if key == SortName {
		return strings.Compare(a.Name, b.Name)
	}
	va, vb := sortValue(a, key), sortValue(b, key)
	switch {
	case va < vb:
		return -1
	case va > vb:
		return 1
	default:
		return 0
	}
}

func sortValue(inst *domain.Instrument, key SortKey) float64 {
	a := inst.Analysis
	if a == nil {
		return 0
	}
	switch key {
	case SortPrice:
		return a.CurrentPrice
	case SortScore:
		return a.AverageScore()
	case SortRecommendation:
		return float64(a.Recommendation.Weight())
	default:
		return 0
	}
}
