package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"smartvalue/internal/auth"
	"smartvalue/internal/domain"
	"smartvalue/internal/engine"
	"smartvalue/internal/listview"
	"smartvalue/internal/search"
	"smartvalue/internal/watchlist"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 16

// Server serves the watchlist dashboard REST API.
type Server struct {
	engine   *engine.Engine
	auth     *auth.Service
	sessions *auth.Sessions
	views    *listview.Registry
	log      *slog.Logger
}

// NewServer creates a new Server.
func NewServer(eng *engine.Engine, authSvc *auth.Service, sessions *auth.Sessions, views *listview.Registry, log *slog.Logger) *Server {
	return &Server{
		engine:   eng,
		auth:     authSvc,
		sessions: sessions,
		views:    views,
		log:      log,
	}
}

// RegisterRoutes registers API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	mux.HandleFunc("GET /api/auth/me", s.handleMe)

	mux.HandleFunc("GET /api/watchlist", s.handleGetWatchlist)
	mux.HandleFunc("POST /api/watchlist", s.handleAddWatchlist)
	mux.HandleFunc("GET /api/watchlist/groups", s.handleGroups)
	mux.HandleFunc("GET /api/watchlist/search", s.handleSearch)
	mux.HandleFunc("POST /api/watchlist/refresh", s.handleRefreshAll)
	mux.HandleFunc("POST /api/watchlist/reorder", s.handleReorder)
	mux.HandleFunc("DELETE /api/watchlist/{id}", s.handleRemoveWatchlist)
	mux.HandleFunc("POST /api/watchlist/{id}/refresh", s.handleRefreshOne)
	mux.HandleFunc("GET /api/watchlist/{id}/history", s.handleHistory)

	mux.HandleFunc("PUT /api/view/sort", s.handleSelectSort)
	mux.HandleFunc("DELETE /api/view/sort", s.handleClearSort)

	mux.HandleFunc("GET /api/market", s.handleMarket)
}

// Handler returns an http.Handler with CORS middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// identity resolves the caller. Requests without a valid token act as the
// guest.
func (s *Server) identity(r *http.Request) (string, bool) {
	if user, ok := s.sessions.Lookup(bearerToken(r)); ok {
		return user, true
	}
	return domain.GuestUser, false
}

// ---------------------------------------------------------------------------
// Auth
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res := s.auth.Register(r.Context(), req.Username, req.Password)
	status := http.StatusOK
	if !res.Success {
		status = authStatus(res.Message)
	}
	writeJSONStatus(w, status, AuthResponse{Success: res.Success, Message: res.Message})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res := s.auth.Login(r.Context(), req.Username, req.Password)
	if !res.Success {
		writeJSONStatus(w, authStatus(res.Message), AuthResponse{Message: res.Message})
		return
	}
	user := strings.TrimSpace(req.Username)
	token := s.sessions.Create(user)
	s.log.Info("user logged in", "user", user)
	writeJSON(w, AuthResponse{Success: true, Message: res.Message, Username: user, Token: token})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if user, ok := s.sessions.Lookup(token); ok {
		s.sessions.Revoke(token)
		s.log.Info("user logged out", "user", user)
	}
	writeJSON(w, AuthResponse{Success: true, Username: domain.GuestUser, Guest: true})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, authed := s.identity(r)
	writeJSON(w, AuthResponse{Success: true, Username: user, Guest: !authed})
}

func authStatus(msg string) int {
	switch msg {
	case auth.MsgRequired:
		return http.StatusBadRequest
	case auth.MsgExists:
		return http.StatusConflict
	case auth.MsgNoSuchUser, auth.MsgWrongPassword:
		return http.StatusUnauthorized
	default:
		return http.StatusServiceUnavailable
	}
}

// ---------------------------------------------------------------------------
// Watchlist
// ---------------------------------------------------------------------------

func (s *Server) handleGetWatchlist(w http.ResponseWriter, r *http.Request) {
	user, _ := s.identity(r)
	view := s.views.Get(user)

	q := r.URL.Query()
	if q.Has("market") || q.Has("group") {
		f := view.State().Filter
		if q.Has("market") {
			f.Market = q.Get("market")
		}
		if q.Has("group") {
			f.Group = q.Get("group")
		}
		view.SetFilter(f)
	}

	list, err := s.engine.Watchlist().List(r.Context(), user)
	if err != nil {
		s.log.Error("loading watchlist", "user", user, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load watchlist")
		return
	}
	projected := view.Project(list)
	writeJSON(w, WatchlistResponse{
		User:        user,
		Instruments: projected,
		Groups:      listview.GroupBy(projected),
		View:        view.State(),
		Total:       len(list),
		Refreshing:  s.engine.Refreshing(user),
	})
}

func (s *Server) handleAddWatchlist(w http.ResponseWriter, r *http.Request) {
	user, _ := s.identity(r)
	var req AddRequest
	if !decodeBody(w, r, &req) {
		return
	}
	inst, err := s.engine.AddAndAnalyze(r.Context(), user, watchlist.NewInstrument{
		Symbol: req.Symbol,
		Name:   req.Name,
		Market: req.Market,
		Group:  req.Group,
	})
	if err != nil {
		s.writeWatchlistError(w, user, "adding instrument", err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, inst)
}

func (s *Server) handleRemoveWatchlist(w http.ResponseWriter, r *http.Request) {
	user, _ := s.identity(r)
	inst, err := s.engine.Remove(r.Context(), user, r.PathValue("id"))
	if err != nil {
		s.writeWatchlistError(w, user, "removing instrument", err)
		return
	}
	writeJSON(w, inst)
}

func (s *Server) handleRefreshOne(w http.ResponseWriter, r *http.Request) {
	user, _ := s.identity(r)
	inst, err := s.engine.RefreshOne(r.Context(), user, r.PathValue("id"))
	if err != nil {
		s.writeWatchlistError(w, user, "refreshing instrument", err)
		return
	}
	writeJSON(w, inst)
}

func (s *Server) handleRefreshAll(w http.ResponseWriter, r *http.Request) {
	user, _ := s.identity(r)
	outcomes, err := s.engine.RefreshAll(r.Context(), user)
	if err != nil {
		s.writeWatchlistError(w, user, "refreshing watchlist", err)
		return
	}
	resp := RefreshAllResponse{Outcomes: outcomes}
	for _, o := range outcomes {
		if !o.OK {
			resp.Failed++
		}
	}
	writeJSON(w, resp)
}

func (s *Server) handleReorder(w http.ResponseWriter, r *http.Request) {
	user, _ := s.identity(r)
	if !s.views.Get(user).CanReorder() {
		writeError(w, http.StatusConflict, listview.ErrSortActive.Error())
		return
	}
	var req ReorderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	list, err := s.engine.Watchlist().Move(r.Context(), user, req.FromID, req.ToID)
	if err != nil {
		s.writeWatchlistError(w, user, "reordering watchlist", err)
		return
	}
	writeJSON(w, list)
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	user, _ := s.identity(r)
	groups, err := s.engine.Watchlist().Groups(r.Context(), user)
	if err != nil {
		s.writeWatchlistError(w, user, "listing groups", err)
		return
	}
	writeJSON(w, GroupsResponse{Groups: groups})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	user, _ := s.identity(r)
	list, err := s.engine.Watchlist().List(r.Context(), user)
	if err != nil {
		s.writeWatchlistError(w, user, "searching watchlist", err)
		return
	}
	hits, err := search.Search(list, r.URL.Query().Get("q"), 0)
	if err != nil {
		s.log.Error("searching watchlist", "user", user, "error", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, hits)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	user, _ := s.identity(r)
	rng, err := domain.ParseTimeRange(r.URL.Query().Get("range"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := r.PathValue("id")
	inst, err := s.engine.Watchlist().Get(r.Context(), user, id)
	if err != nil {
		s.writeWatchlistError(w, user, "loading history", err)
		return
	}
	points, err := s.engine.History(r.Context(), user, id, rng)
	if err != nil {
		s.writeWatchlistError(w, user, "loading history", err)
		return
	}
	if points == nil {
		points = []domain.PricePoint{}
	}
	writeJSON(w, HistoryResponse{ID: id, Symbol: inst.Symbol, Range: rng, Points: points})
}

// writeWatchlistError maps store and engine errors onto HTTP statuses.
func (s *Server) writeWatchlistError(w http.ResponseWriter, user, op string, err error) {
	switch {
	case errors.Is(err, watchlist.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, watchlist.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrRefreshInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		s.log.Error(op, "user", user, "error", err)
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

// ---------------------------------------------------------------------------
// View
// ---------------------------------------------------------------------------

func (s *Server) handleSelectSort(w http.ResponseWriter, r *http.Request) {
	user, _ := s.identity(r)
	var req SortRequest
	if !decodeBody(w, r, &req) {
		return
	}
	key, err := listview.ParseSortKey(req.Key)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, s.views.Get(user).Select(key))
}

func (s *Server) handleClearSort(w http.ResponseWriter, r *http.Request) {
	user, _ := s.identity(r)
	writeJSON(w, s.views.Get(user).Clear())
}

// ---------------------------------------------------------------------------
// Market
// ---------------------------------------------------------------------------

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	rng, err := domain.ParseTimeRange(r.URL.Query().Get("range"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	markets, err := s.engine.MarketOverview(r.Context(), rng)
	if err != nil {
		s.log.Warn("market overview failed", "range", rng, "error", err)
		writeError(w, http.StatusBadGateway, "market overview unavailable")
		return
	}
	writeJSON(w, MarketResponse{Range: rng, Markets: markets})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONStatus(w, status, map[string]string{"error": msg})
}
