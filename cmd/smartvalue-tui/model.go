package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"smartvalue/internal/domain"
	"smartvalue/internal/listview"
	"smartvalue/internal/watchlist"
	"smartvalue/pkg/smartvalue"
)

// requestTimeout bounds calls that wait on the model, such as refreshes.
const requestTimeout = 3 * time.Minute

// Messages.
type replicaChangedMsg struct{}
type syncErrMsg struct{ err error }

type viewLoadedMsg struct {
	resp smartvalue.WatchlistResponse
	err  error
}

type viewStateMsg struct {
	state listview.State
	err   error
}

type actionDoneMsg struct {
	text string
	err  error
}

type historyMsg struct {
	id     string
	rng    domain.TimeRange
	points []domain.PricePoint
	err    error
}

type marketMsg struct {
	rng     domain.TimeRange
	markets []domain.MarketSentiment
	err     error
}

// Model.
type model struct {
	client  *smartvalue.Client
	replica *watchlist.Replica
	logger  *slog.Logger
	cancel  context.CancelFunc

	user string
	view listview.State

	// Selection.
	selectedID string

	// Add prompt.
	adding bool
	input  textinput.Model

	// Detail pane.
	detail    bool
	histRange domain.TimeRange
	histID    string
	history   []domain.PricePoint

	// Market overview pane.
	showMarket bool
	markets    []domain.MarketSentiment

	refreshing bool
	status     string

	viewport      viewport.Model
	ready         bool
	width, height int
}

func initialModel(client *smartvalue.Client, replica *watchlist.Replica, cancel context.CancelFunc, logger *slog.Logger) model {
	ti := textinput.New()
	ti.Placeholder = "SYMBOL [CN|HK|US] [group]"
	ti.CharLimit = 64
	return model{
		client:    client,
		replica:   replica,
		logger:    logger,
		cancel:    cancel,
		input:     ti,
		histRange: domain.Range1D,
		view:      listview.State{Filter: listview.Filter{Market: listview.All, Group: listview.All}, CanReorder: true},
	}
}

func (m model) Init() tea.Cmd {
	return m.loadView(nil)
}

// rows returns the instruments in display order: filtered, sorted, then
// grouped with groups in first-seen order.
func (m *model) rows() []domain.Instrument {
	projected := listview.Project(m.replica.Items(), m.view.Filter, m.view.SortKey, m.view.Direction)
	var out []domain.Instrument
	for _, g := range listview.GroupBy(projected) {
		out = append(out, g.Instruments...)
	}
	return out
}

func (m *model) cursor(rows []domain.Instrument) int {
	for i := range rows {
		if rows[i].ID == m.selectedID {
			return i
		}
	}
	return -1
}

func (m *model) selected() (domain.Instrument, bool) {
	rows := m.rows()
	if i := m.cursor(rows); i >= 0 {
		return rows[i], true
	}
	return domain.Instrument{}, false
}

// fixSelection keeps the selection on a visible row.
func (m *model) fixSelection() {
	rows := m.rows()
	if len(rows) == 0 {
		m.selectedID = ""
		return
	}
	if m.cursor(rows) < 0 {
		m.selectedID = rows[0].ID
	}
}

func (m *model) redraw() {
	if m.ready {
		m.viewport.SetContent(m.renderContent())
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.adding {
			return m.updateAdding(msg)
		}
		return m.updateKeys(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		headerH := 1
		footerH := 1
		vpHeight := m.height - headerH - footerH
		if vpHeight < 1 {
			vpHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(m.width, vpHeight)
			m.viewport.MouseWheelEnabled = true
			m.ready = true
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = vpHeight
		}
		m.redraw()
		return m, nil

	case replicaChangedMsg:
		if u := m.replica.User(); u != "" {
			m.user = u
		}
		m.fixSelection()
		m.redraw()
		return m, nil

	case viewLoadedMsg:
		if msg.err != nil {
			m.status = "load failed: " + msg.err.Error()
		} else {
			m.user = msg.resp.User
			m.view = msg.resp.View
			m.refreshing = msg.resp.Refreshing
		}
		m.fixSelection()
		m.redraw()
		return m, nil

	case viewStateMsg:
		if msg.err != nil {
			m.status = "sort failed: " + msg.err.Error()
		} else {
			m.view = msg.state
		}
		m.fixSelection()
		m.redraw()
		return m, nil

	case actionDoneMsg:
		m.refreshing = false
		if msg.err != nil {
			m.status = msg.err.Error()
			m.logger.Warn("action failed", "error", msg.err)
		} else {
			m.status = msg.text
		}
		m.redraw()
		return m, nil

	case historyMsg:
		if msg.err != nil {
			m.status = "history: " + msg.err.Error()
		} else if msg.id == m.histID && msg.rng == m.histRange {
			m.history = msg.points
		}
		m.redraw()
		return m, nil

	case marketMsg:
		if msg.err != nil {
			m.status = "market overview: " + msg.err.Error()
		} else {
			m.markets = msg.markets
		}
		m.redraw()
		return m, nil

	case syncErrMsg:
		m.status = "stream disconnected: " + msg.err.Error()
		m.redraw()
		return m, nil
	}

	if m.ready {
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return m, cmd
}

func (m model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.cancel()
		return m, tea.Quit

	case "up", "k", "down", "j":
		rows := m.rows()
		if len(rows) == 0 {
			return m, nil
		}
		cur := m.cursor(rows)
		if msg.String() == "up" || msg.String() == "k" {
			if cur > 0 {
				cur--
			}
		} else if cur < len(rows)-1 {
			cur++
		}
		if cur < 0 {
			cur = 0
		}
		m.selectedID = rows[cur].ID
		cmd := m.loadDetail()
		m.redraw()
		return m, cmd

	case "K", "J", "shift+up", "shift+down":
		cmd := m.moveSelected(msg.String() == "K" || msg.String() == "shift+up")
		return m, cmd

	case "p":
		return m, m.selectSort(listview.SortPrice)
	case "s":
		return m, m.selectSort(listview.SortScore)
	case "r":
		return m, m.selectSort(listview.SortRecommendation)
	case "n":
		return m, m.selectSort(listview.SortName)
	case "0":
		return m, m.selectSort(listview.SortNone)

	case "m":
		f := m.view.Filter
		f.Market = nextOption(marketOptions(), f.Market)
		return m, m.loadView(&f)
	case "g":
		f := m.view.Filter
		f.Group = nextOption(append([]string{listview.All}, watchlist.UniqueGroups(m.replica.Items())...), f.Group)
		return m, m.loadView(&f)

	case "enter", "f":
		if inst, ok := m.selected(); ok {
			m.status = "refreshing " + inst.Symbol + "..."
			m.redraw()
			return m, m.refreshOne(inst)
		}
		return m, nil
	case "R":
		if m.refreshing {
			return m, nil
		}
		m.refreshing = true
		m.status = "refreshing all..."
		m.redraw()
		return m, m.refreshAll()

	case "a":
		m.adding = true
		m.input.SetValue("")
		cmd := m.input.Focus()
		return m, cmd
	case "d", "delete":
		if inst, ok := m.selected(); ok {
			return m, m.remove(inst)
		}
		return m, nil

	case "h":
		m.detail = !m.detail
		cmd := m.loadDetail()
		m.redraw()
		return m, cmd
	case "t":
		m.histRange = nextRange(m.histRange)
		m.history = nil
		cmd := m.loadDetail()
		m.redraw()
		return m, cmd
	case "o":
		m.showMarket = !m.showMarket
		m.redraw()
		if m.showMarket {
			return m, m.loadMarket()
		}
		return m, nil
	}

	var cmd tea.Cmd
	if m.ready {
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return m, cmd
}

func (m model) updateAdding(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.cancel()
		return m, tea.Quit
	case "esc":
		m.adding = false
		m.input.Blur()
		return m, nil
	case "enter":
		m.adding = false
		m.input.Blur()
		req, err := parseAddInput(m.input.Value())
		if err != nil {
			m.status = err.Error()
			m.redraw()
			return m, nil
		}
		m.status = "adding " + req.Symbol + "..."
		m.redraw()
		return m, m.add(req)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// parseAddInput reads "SYMBOL [MARKET] [GROUP...]". The market defaults to
// US when the second word is not a market.
func parseAddInput(s string) (smartvalue.AddRequest, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return smartvalue.AddRequest{}, fmt.Errorf("symbol is required")
	}
	req := smartvalue.AddRequest{Symbol: fields[0], Market: domain.MarketUS}
	rest := fields[1:]
	if len(rest) > 0 {
		if mk, err := domain.ParseMarket(rest[0]); err == nil {
			req.Market = mk
			rest = rest[1:]
		}
	}
	req.Group = strings.Join(rest, " ")
	return req, nil
}

func marketOptions() []string {
	opts := []string{listview.All}
	for _, mk := range domain.Markets {
		opts = append(opts, string(mk))
	}
	return opts
}

// nextOption returns the option after cur, wrapping around. Unknown values
// restart at the first option.
func nextOption(opts []string, cur string) string {
	for i, o := range opts {
		if strings.EqualFold(o, cur) {
			return opts[(i+1)%len(opts)]
		}
	}
	return opts[0]
}

func nextRange(r domain.TimeRange) domain.TimeRange {
	for i, x := range domain.TimeRanges {
		if x == r {
			return domain.TimeRanges[(i+1)%len(domain.TimeRanges)]
		}
	}
	return domain.Range1D
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

func (m *model) loadView(f *listview.Filter) tea.Cmd {
	c := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		resp, err := c.Watchlist(ctx, f)
		return viewLoadedMsg{resp: resp, err: err}
	}
}

func (m *model) selectSort(key listview.SortKey) tea.Cmd {
	c := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		var st listview.State
		var err error
		if key == listview.SortNone {
			st, err = c.ClearSort(ctx)
		} else {
			st, err = c.SelectSort(ctx, key)
		}
		return viewStateMsg{state: st, err: err}
	}
}

func (m *model) refreshOne(inst domain.Instrument) tea.Cmd {
	c := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		got, err := c.Refresh(ctx, inst.ID)
		if err != nil {
			return actionDoneMsg{err: err}
		}
		return actionDoneMsg{text: got.Symbol + ": " + listview.StatusLabel(&got)}
	}
}

func (m *model) refreshAll() tea.Cmd {
	c := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		res, err := c.RefreshAll(ctx)
		if smartvalue.IsConflict(err) {
			return actionDoneMsg{text: "a refresh is already running"}
		}
		if err != nil {
			return actionDoneMsg{err: err}
		}
		return actionDoneMsg{text: fmt.Sprintf("refreshed %d, failed %d", len(res.Outcomes)-res.Failed, res.Failed)}
	}
}

func (m *model) add(req smartvalue.AddRequest) tea.Cmd {
	c := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		inst, err := c.Add(ctx, req)
		if err != nil {
			return actionDoneMsg{err: err}
		}
		return actionDoneMsg{text: "added " + inst.Symbol + ", analyzing..."}
	}
}

func (m *model) remove(inst domain.Instrument) tea.Cmd {
	c := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := c.Remove(ctx, inst.ID); err != nil {
			return actionDoneMsg{err: err}
		}
		return actionDoneMsg{text: "removed " + inst.Symbol}
	}
}

// moveSelected swaps the selection with its neighbour in stored order.
func (m *model) moveSelected(up bool) tea.Cmd {
	if !m.view.CanReorder {
		m.status = listview.ErrSortActive.Error()
		m.redraw()
		return nil
	}
	items := m.replica.Items()
	i := -1
	for j := range items {
		if items[j].ID == m.selectedID {
			i = j
			break
		}
	}
	j := i + 1
	if up {
		j = i - 1
	}
	if i < 0 || j < 0 || j >= len(items) {
		return nil
	}
	c, from, to := m.client, items[i].ID, items[j].ID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := c.Reorder(ctx, from, to); err != nil {
			return actionDoneMsg{err: err}
		}
		return actionDoneMsg{}
	}
}

func (m *model) loadDetail() tea.Cmd {
	if !m.detail {
		return nil
	}
	inst, ok := m.selected()
	if !ok {
		return nil
	}
	if inst.ID != m.histID {
		m.history = nil
	}
	m.histID = inst.ID
	c, rng := m.client, m.histRange
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		hist, err := c.History(ctx, inst.ID, rng)
		return historyMsg{id: inst.ID, rng: rng, points: hist.Points, err: err}
	}
}

func (m *model) loadMarket() tea.Cmd {
	c, rng := m.client, m.histRange
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		resp, err := c.Market(ctx, rng)
		return marketMsg{rng: rng, markets: resp.Markets, err: err}
	}
}
