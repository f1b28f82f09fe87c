// Package upstream implements a typed REST client over the external
// item-management service every trigger, condition, and action ultimately
// reads from or writes to.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/onstaq/automation-engine/internal/automation"
	"github.com/onstaq/automation-engine/internal/automation/template"
	"github.com/onstaq/automation-engine/internal/logger"
)

const defaultTimeout = 30 * time.Second

// Credentials authenticates against the upstream service's Login endpoint.
type Credentials struct {
	Email    string
	Password string
}

// Client is a bearer-token REST client with a single re-login-on-401 retry
// per call, matching spec.md §7's "Upstream auth" propagation rule.
type Client struct {
	baseURL string
	http    *http.Client
	creds   Credentials

	mu    sync.RWMutex
	token string
}

// NewClient builds a Client against baseURL, authenticated lazily on first
// use (or eagerly via Login).
func NewClient(baseURL string, creds Credentials) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		creds:   creds,
	}
}

func (c *Client) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) setToken(tok string) {
	c.mu.Lock()
	c.token = tok
	c.mu.Unlock()
}

// Login exchanges Credentials for a bearer token.
func (c *Client) Login(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{"email": c.creds.Email, "password": c.creds.Password})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/auth/login", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upstream login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upstream login failed: status %d", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("upstream login: decode response: %w", err)
	}
	c.setToken(out.Token)
	return nil
}

// Me is the authenticated-user shape GetMe returns.
type Me struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// GetMe resolves the identity behind the client's own currently configured
// token. Inbound requests are authorized with VerifyToken instead.
func (c *Client) GetMe(ctx context.Context) (*Me, error) {
	var out Me
	if err := c.do(ctx, http.MethodGet, "/api/v1/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyToken resolves the identity behind an arbitrary caller-supplied
// bearer token, without touching the client's own service-account token.
// Used by the HTTP auth middleware to validate each inbound request per
// spec.md §6 ("forwarding the token to the upstream getMe and caching
// nothing").
func (c *Client) VerifyToken(ctx context.Context, token string) (*Me, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/me", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream verify token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, errUnauthorized
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("upstream verify token: status %d: %s", resp.StatusCode, string(raw))
	}
	var out Me
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("upstream verify token: decode response: %w", err)
	}
	return &out, nil
}

// do issues one request with bearer auth, retrying exactly once after a
// fresh Login if the first attempt returns 401.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	err := c.doOnce(ctx, method, path, body, out)
	if err == errUnauthorized {
		logger.Warn("upstream request unauthorized, re-authenticating", "path", path)
		if loginErr := c.Login(ctx); loginErr != nil {
			return fmt.Errorf("re-login after 401: %w", loginErr)
		}
		err = c.doOnce(ctx, method, path, body, out)
	}
	return err
}

var errUnauthorized = fmt.Errorf("upstream: unauthorized")

func (c *Client) doOnce(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.currentToken(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upstream request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return errUnauthorized
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upstream %s %s: status %d: %s", method, path, resp.StatusCode, string(raw))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("upstream %s %s: decode response: %w", method, path, err)
	}
	return nil
}

// ListWindow is the fixed poller query shape: most-recent-first, bounded
// page, optional full-text search and attribute filters.
type ListWindow struct {
	SortBy   string
	Search   string
	Limit    int
	Filters  map[string]string
}

func (w ListWindow) values() url.Values {
	v := url.Values{}
	sortBy := w.SortBy
	if sortBy == "" {
		sortBy = "createdAt"
	}
	limit := w.Limit
	if limit <= 0 {
		limit = 20
	}
	v.Set("sortBy", sortBy)
	v.Set("sortOrder", "desc")
	v.Set("limit", fmt.Sprint(limit))
	if w.Search != "" {
		v.Set("search", w.Search)
	}
	for k, val := range w.Filters {
		v.Set("attr."+k, val)
	}
	return v
}

// ListItems lists items in catalogID per ListWindow.
func (c *Client) ListItems(ctx context.Context, catalogID string, window ListWindow) ([]automation.Item, error) {
	q := window.values()
	var out struct {
		Items []automation.Item `json:"items"`
	}
	path := fmt.Sprintf("/api/v1/catalogs/%s/items?%s", url.PathEscape(catalogID), q.Encode())
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// GetItem fetches a single item by id.
func (c *Client) GetItem(ctx context.Context, itemID string) (*automation.Item, error) {
	var out automation.Item
	if err := c.do(ctx, http.MethodGet, "/api/v1/items/"+url.PathEscape(itemID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LookupItemByKey resolves an item by its human-readable key (e.g. "TCK-1")
// within a workspace, used by lookup() inline template queries.
func (c *Client) LookupItemByKey(ctx context.Context, workspaceID, key string) (*automation.Item, error) {
	var out struct {
		Items []automation.Item `json:"items"`
	}
	path := fmt.Sprintf("/api/v1/workspaces/%s/items?key=%s&limit=1", url.PathEscape(workspaceID), url.QueryEscape(key))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("no item found with key %q", key)
	}
	return &out.Items[0], nil
}

// CreateItem creates an item in catalogID with the given attribute values.
func (c *Client) CreateItem(ctx context.Context, catalogID string, attributes map[string]any) (*automation.Item, error) {
	var out automation.Item
	body := map[string]any{"catalogId": catalogID, "attributeValues": attributes}
	if err := c.do(ctx, http.MethodPost, "/api/v1/items", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateItem merges attributes into an existing item.
func (c *Client) UpdateItem(ctx context.Context, itemID string, attributes map[string]any) (*automation.Item, error) {
	var out automation.Item
	body := map[string]any{"attributeValues": attributes}
	if err := c.do(ctx, http.MethodPatch, "/api/v1/items/"+url.PathEscape(itemID), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteItem deletes an item by id.
func (c *Client) DeleteItem(ctx context.Context, itemID string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/items/"+url.PathEscape(itemID), nil, nil)
}

// ImportResult summarizes a bulk item.import action.
type ImportResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// ImportItems bulk creates/updates items in catalogID, matching existing
// rows by keyColumn when non-empty.
func (c *Client) ImportItems(ctx context.Context, catalogID string, rows []map[string]any, keyColumn string) (*ImportResult, error) {
	var out ImportResult
	body := map[string]any{"catalogId": catalogID, "rows": rows, "keyColumn": keyColumn}
	if err := c.do(ctx, http.MethodPost, "/api/v1/items/import", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reference is a directed link between two items.
type Reference struct {
	ID       string `json:"id"`
	FromID   string `json:"fromItemId"`
	ToID     string `json:"toItemId"`
	Kind     string `json:"kind"`
	Label    string `json:"label,omitempty"`
}

// ListReferences lists references touching itemID, optionally filtered by
// direction ("outbound"/"inbound"/"" for both) and kind.
func (c *Client) ListReferences(ctx context.Context, itemID, direction, kind string) ([]automation.Item, error) {
	v := url.Values{}
	if direction != "" {
		v.Set("direction", direction)
	}
	if kind != "" {
		v.Set("kind", kind)
	}
	var out struct {
		Items []automation.Item `json:"items"`
	}
	path := fmt.Sprintf("/api/v1/items/%s/references?%s", url.PathEscape(itemID), v.Encode())
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// AddReference creates a reference from fromID to toID.
func (c *Client) AddReference(ctx context.Context, fromID, toID, kind, label string) (*Reference, error) {
	if kind == "" {
		kind = "LINK"
	}
	var out Reference
	body := map[string]any{"toItemId": toID, "kind": kind, "label": label}
	path := fmt.Sprintf("/api/v1/items/%s/references", url.PathEscape(fromID))
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RemoveReference deletes a reference by id, scoped under itemID.
func (c *Client) RemoveReference(ctx context.Context, itemID, referenceID string) error {
	path := fmt.Sprintf("/api/v1/items/%s/references/%s", url.PathEscape(itemID), url.PathEscape(referenceID))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// AddComment posts a comment body on itemID.
func (c *Client) AddComment(ctx context.Context, itemID, body string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/api/v1/items/%s/comments", url.PathEscape(itemID))
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"body": body}, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// HistoryEntry is one row of an item's change history, used by the trigger
// poller for attribute/status/reference change detection.
type HistoryEntry struct {
	ID        string    `json:"id"`
	ItemID    string    `json:"itemId"`
	Action    string    `json:"action"`
	Field     string    `json:"field,omitempty"`
	FromValue any       `json:"fromValue,omitempty"`
	ToValue   any       `json:"toValue,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	CreatedBy string    `json:"createdBy,omitempty"`
}

// ListHistory returns history entries for catalogID since sinceID (empty
// for no bookmark), newest first, bounded by limit.
func (c *Client) ListHistory(ctx context.Context, catalogID, sinceID string, limit int) ([]HistoryEntry, error) {
	v := url.Values{}
	v.Set("sortOrder", "desc")
	if sinceID != "" {
		v.Set("sinceId", sinceID)
	}
	if limit <= 0 {
		limit = 20
	}
	v.Set("limit", fmt.Sprint(limit))
	var out struct {
		Entries []HistoryEntry `json:"entries"`
	}
	path := fmt.Sprintf("/api/v1/catalogs/%s/history?%s", url.PathEscape(catalogID), v.Encode())
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// CreateCatalog creates a catalog in workspaceID.
func (c *Client) CreateCatalog(ctx context.Context, workspaceID, name string, options map[string]any) (string, string, error) {
	var out struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	body := map[string]any{"workspaceId": workspaceID, "name": name, "options": options}
	if err := c.do(ctx, http.MethodPost, "/api/v1/catalogs", body, &out); err != nil {
		return "", "", err
	}
	return out.ID, out.Name, nil
}

// FindCatalogByName resolves a catalog's id from its name within workspaceID
// via case-insensitive match, supporting the catalogName addressing mode.
func (c *Client) FindCatalogByName(ctx context.Context, workspaceID, name string) (string, error) {
	var out struct {
		Catalogs []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"catalogs"`
	}
	path := fmt.Sprintf("/api/v1/workspaces/%s/catalogs", url.PathEscape(workspaceID))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	for _, cat := range out.Catalogs {
		if strings.EqualFold(cat.Name, name) {
			return cat.ID, nil
		}
	}
	return "", fmt.Errorf("no catalog named %q in workspace %q", name, workspaceID)
}

// CreateAttribute creates an attribute definition on a catalog.
func (c *Client) CreateAttribute(ctx context.Context, catalogID, name, attrType string, options map[string]any) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	body := map[string]any{"name": name, "type": attrType, "options": options}
	path := fmt.Sprintf("/api/v1/catalogs/%s/attributes", url.PathEscape(catalogID))
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// AddWorkspaceMember adds userID to workspaceID with role.
func (c *Client) AddWorkspaceMember(ctx context.Context, workspaceID, userID, role string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	body := map[string]any{"userId": userID, "role": role}
	path := fmt.Sprintf("/api/v1/workspaces/%s/members", url.PathEscape(workspaceID))
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// ExecuteQuery runs an ad-hoc OQL query scoped to workspaceID, satisfying
// both template.Upstream and condition.Upstream.
func (c *Client) ExecuteQuery(ctx context.Context, workspaceID, query string) (*template.QueryResult, error) {
	var out struct {
		TotalCount int              `json:"totalCount"`
		Rows       []map[string]any `json:"rows"`
	}
	body := map[string]any{"workspaceId": workspaceID, "query": query}
	if err := c.do(ctx, http.MethodPost, "/api/v1/query", body, &out); err != nil {
		return nil, err
	}
	return &template.QueryResult{TotalCount: out.TotalCount, Rows: out.Rows}, nil
}
