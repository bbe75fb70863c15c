// Package client provides a Go SDK for the OrionFlow HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ubix08/orionflow/pkg/models"
)

// Client calls the OrionFlow HTTP API. It is safe for concurrent use.
type Client struct {
	BaseURL    string       // e.g. "http://localhost:4810"
	APIKey     string       // optional; set for X-API-Key / api_key
	HTTPClient *http.Client // optional; nil uses http.DefaultClient
}

// New returns a client for the given base URL (e.g. "http://localhost:4810").
// APIKey is optional; when set, requests use the X-API-Key header.
func New(baseURL, apiKey string) *Client {
	return &Client{BaseURL: baseURL, APIKey: apiKey}
}

func (c *Client) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}
	u := c.BaseURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	return c.client().Do(req)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error != "" {
			return fmt.Errorf("api %s %s: %s", method, path, errBody.Error)
		}
		return fmt.Errorf("api %s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Health returns the /health response (ok: true).
func (c *Client) Health(ctx context.Context) (ok bool, err error) {
	var out struct {
		OK bool `json:"ok"`
	}
	err = c.doJSON(ctx, http.MethodGet, "/health", nil, &out)
	return out.OK, err
}

// Chat sends one chat turn for a session and returns the reply.
func (c *Client) Chat(ctx context.Context, sessionID, message string) (*models.ChatResponse, error) {
	var out models.ChatResponse
	err := c.doJSON(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/chat",
		models.ChatRequest{Message: message}, &out)
	return &out, err
}

// SessionStatus returns the session's phase, active project, and counters.
func (c *Client) SessionStatus(ctx context.Context, sessionID string) (*models.SessionStatus, error) {
	var out models.SessionStatus
	err := c.doJSON(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID)+"/status", nil, &out)
	return &out, err
}

// History returns the session's conversation messages, oldest first (limit 0 = default).
func (c *Client) History(ctx context.Context, sessionID string, limit int) ([]models.HistoryMessage, error) {
	path := "/sessions/" + url.PathEscape(sessionID) + "/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []models.HistoryMessage
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// ClearHistory drops the session's conversation and resets its state.
func (c *Client) ClearHistory(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(sessionID)+"/history", nil, nil)
}

// ListProjects returns projects, newest-updated first (all filters optional).
func (c *Client) ListProjects(ctx context.Context, status, domain string, limit int) ([]models.Project, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if domain != "" {
		q.Set("domain", domain)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/projects"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []models.Project
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// SearchProjects returns projects whose title, objective, or tags match text.
func (c *Client) SearchProjects(ctx context.Context, text string, limit int) ([]models.Project, error) {
	q := url.Values{"q": []string{text}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []models.Project
	err := c.doJSON(ctx, http.MethodGet, "/projects?"+q.Encode(), nil, &out)
	return out, err
}

// GetProject returns a project by id.
func (c *Client) GetProject(ctx context.Context, id string) (*models.Project, error) {
	var out models.Project
	err := c.doJSON(ctx, http.MethodGet, "/projects/"+url.PathEscape(id), nil, &out)
	return &out, err
}

// ContinueProject resumes a project under the given session and returns the
// resulting chat reply.
func (c *Client) ContinueProject(ctx context.Context, projectID, sessionID string) (*models.ChatResponse, error) {
	var out models.ChatResponse
	err := c.doJSON(ctx, http.MethodPost, "/projects/"+url.PathEscape(projectID)+"/continue",
		map[string]string{"session_id": sessionID}, &out)
	return &out, err
}

// ProjectTouches returns the append-only session touch records for a project.
func (c *Client) ProjectTouches(ctx context.Context, projectID string) ([]models.SessionTouch, error) {
	var out []models.SessionTouch
	err := c.doJSON(ctx, http.MethodGet, "/projects/"+url.PathEscape(projectID)+"/touches", nil, &out)
	return out, err
}

// ProjectTodo returns the raw todo document for a project.
func (c *Client) ProjectTodo(ctx context.Context, projectID string) (string, error) {
	var out struct {
		Content string `json:"content"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/projects/"+url.PathEscape(projectID)+"/todo", nil, &out)
	return out.Content, err
}
