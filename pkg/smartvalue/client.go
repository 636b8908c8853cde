// Package smartvalue is a Go SDK for the smartvalue-server HTTP API.
package smartvalue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"smartvalue/internal/domain"
	"smartvalue/internal/httpapi"
	"smartvalue/internal/listview"
)

// Response types shared with the server.
type (
	AuthResponse       = httpapi.AuthResponse
	WatchlistResponse  = httpapi.WatchlistResponse
	RefreshAllResponse = httpapi.RefreshAllResponse
	HistoryResponse    = httpapi.HistoryResponse
	MarketResponse     = httpapi.MarketResponse
	AddRequest         = httpapi.AddRequest
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// IsConflict reports whether err is a 409 from the server, as returned for
// a reorder while sorted or an overlapping bulk refresh.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// Client provides a Go SDK for interacting with the smartvalue-server API.
// It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// NewClient creates a new smartvalue API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 3 * time.Minute},
	}
}

// Token returns the current session token, empty when acting as guest.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken installs a session token, e.g. one saved from an earlier login.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// Register creates an account. It does not log in.
func (c *Client) Register(ctx context.Context, username, password string) (AuthResponse, error) {
	var resp AuthResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/register", httpapi.CredentialsRequest{Username: username, Password: password}, &resp)
	return resp, err
}

// Login authenticates and keeps the returned token for later calls.
func (c *Client) Login(ctx context.Context, username, password string) (AuthResponse, error) {
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", httpapi.CredentialsRequest{Username: username, Password: password}, &resp); err != nil {
		return resp, err
	}
	c.SetToken(resp.Token)
	return resp, nil
}

// Logout revokes the session and reverts to guest.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
	c.SetToken("")
	return err
}

// Me returns the identity the server resolves for this client.
func (c *Client) Me(ctx context.Context) (AuthResponse, error) {
	var resp AuthResponse
	err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &resp)
	return resp, err
}

// Watchlist returns the projected watchlist. A nil filter keeps the
// server-side filter unchanged.
func (c *Client) Watchlist(ctx context.Context, f *listview.Filter) (WatchlistResponse, error) {
	path := "/api/watchlist"
	if f != nil {
		q := url.Values{}
		q.Set("market", orAll(f.Market))
		q.Set("group", orAll(f.Group))
		path += "?" + q.Encode()
	}
	var resp WatchlistResponse
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	return resp, err
}

// Add adds an instrument; its first analysis runs in the background.
func (c *Client) Add(ctx context.Context, req AddRequest) (domain.Instrument, error) {
	var inst domain.Instrument
	err := c.do(ctx, http.MethodPost, "/api/watchlist", req, &inst)
	return inst, err
}

// Remove deletes an instrument by id.
func (c *Client) Remove(ctx context.Context, id string) (domain.Instrument, error) {
	var inst domain.Instrument
	err := c.do(ctx, http.MethodDelete, "/api/watchlist/"+url.PathEscape(id), nil, &inst)
	return inst, err
}

// Refresh re-analyzes one instrument and waits for the result.
func (c *Client) Refresh(ctx context.Context, id string) (domain.Instrument, error) {
	var inst domain.Instrument
	err := c.do(ctx, http.MethodPost, "/api/watchlist/"+url.PathEscape(id)+"/refresh", nil, &inst)
	return inst, err
}

// RefreshAll re-analyzes the whole list.
func (c *Client) RefreshAll(ctx context.Context) (RefreshAllResponse, error) {
	var resp RefreshAllResponse
	err := c.do(ctx, http.MethodPost, "/api/watchlist/refresh", nil, &resp)
	return resp, err
}

// Reorder moves fromID to the position of toID.
func (c *Client) Reorder(ctx context.Context, fromID, toID string) ([]domain.Instrument, error) {
	var list []domain.Instrument
	err := c.do(ctx, http.MethodPost, "/api/watchlist/reorder", httpapi.ReorderRequest{FromID: fromID, ToID: toID}, &list)
	return list, err
}

// Groups lists the distinct group labels.
func (c *Client) Groups(ctx context.Context) ([]string, error) {
	var resp httpapi.GroupsResponse
	err := c.do(ctx, http.MethodGet, "/api/watchlist/groups", nil, &resp)
	return resp.Groups, err
}

// Search finds instruments by symbol, name or group.
func (c *Client) Search(ctx context.Context, q string) ([]domain.Instrument, error) {
	var list []domain.Instrument
	err := c.do(ctx, http.MethodGet, "/api/watchlist/search?q="+url.QueryEscape(q), nil, &list)
	return list, err
}

// History returns an instrument's price trend.
func (c *Client) History(ctx context.Context, id string, r domain.TimeRange) (HistoryResponse, error) {
	var resp HistoryResponse
	err := c.do(ctx, http.MethodGet, "/api/watchlist/"+url.PathEscape(id)+"/history?range="+url.QueryEscape(string(r)), nil, &resp)
	return resp, err
}

// SelectSort picks a sort key; picking the active key flips direction.
func (c *Client) SelectSort(ctx context.Context, key listview.SortKey) (listview.State, error) {
	var st listview.State
	err := c.do(ctx, http.MethodPut, "/api/view/sort", httpapi.SortRequest{Key: string(key)}, &st)
	return st, err
}

// ClearSort restores the stored order.
func (c *Client) ClearSort(ctx context.Context) (listview.State, error) {
	var st listview.State
	err := c.do(ctx, http.MethodDelete, "/api/view/sort", nil, &st)
	return st, err
}

// Market returns the cross-market sentiment overview.
func (c *Client) Market(ctx context.Context, r domain.TimeRange) (MarketResponse, error) {
	var resp MarketResponse
	err := c.do(ctx, http.MethodGet, "/api/market?range="+url.QueryEscape(string(r)), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		msg := e.Error
		if msg == "" {
			msg = e.Message
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func orAll(s string) string {
	if s == "" {
		return listview.All
	}
	return s
}
