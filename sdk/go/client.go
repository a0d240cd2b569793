package sectorboardsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Sector Board HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "v0",
		Timeout:  10 * time.Second,
	}
}

// Profile is the API profile model.
type Profile struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	FullName  string `json:"full_name,omitempty"`
	CreatedAt string `json:"created_at"`
}

// Account is the API account model.
type Account struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at"`
}

// Session carries a bearer token with its expiry.
type Session struct {
	Token     string  `json:"token"`
	ExpiresAt string  `json:"expires_at"`
	Account   Account `json:"account"`
	Profile   Profile `json:"profile"`
}

// Sector is the API sector model.
type Sector struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

// Task is the API task model.
type Task struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Description    string  `json:"description,omitempty"`
	Type           string  `json:"type"`
	SectorID       string  `json:"sector_id"`
	SectorName     string  `json:"sector_name,omitempty"`
	Deadline       string  `json:"deadline"`
	Urgency        string  `json:"urgency"`
	Status         string  `json:"status"`
	CEOObservation *string `json:"ceo_observation,omitempty"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

// TaskHistory is one ledger row.
type TaskHistory struct {
	ID          string  `json:"id"`
	TaskID      string  `json:"task_id"`
	OldStatus   *string `json:"old_status,omitempty"`
	NewStatus   string  `json:"new_status"`
	Observation *string `json:"observation,omitempty"`
	UpdatedAt   string  `json:"updated_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Register creates an account and its profile.
func (c *Client) Register(ctx context.Context, email, password, fullName string) (Profile, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
	}
	if fullName != "" {
		body["full_name"] = fullName
	}
	var resp Profile
	err := c.do(ctx, http.MethodPost, "auth/register", body, &resp)
	return resp, err
}

// Login signs in and stores the bearer token on the client.
func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
	}
	var resp Session
	if err := c.do(ctx, http.MethodPost, "auth/login", body, &resp); err != nil {
		return Session{}, err
	}
	c.BearerToken = resp.Token
	return resp, nil
}

// Logout drops the server-side session and forgets the token.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "auth/logout", nil, nil); err != nil {
		return err
	}
	c.BearerToken = ""
	return nil
}

// Me returns the caller's profile.
func (c *Client) Me(ctx context.Context) (Profile, error) {
	var resp Profile
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

// UpdateMe changes the caller's display name.
func (c *Client) UpdateMe(ctx context.Context, fullName string) (Profile, error) {
	var resp Profile
	err := c.do(ctx, http.MethodPatch, "me", map[string]any{"full_name": fullName}, &resp)
	return resp, err
}

// CreateSector creates a sector (CEO only).
func (c *Client) CreateSector(ctx context.Context, name string) (Sector, error) {
	var resp Sector
	err := c.do(ctx, http.MethodPost, "sectors", map[string]any{"name": name}, &resp)
	return resp, err
}

// ListSectors returns all sectors by name.
func (c *Client) ListSectors(ctx context.Context) ([]Sector, error) {
	var resp []Sector
	err := c.do(ctx, http.MethodGet, "sectors", nil, &resp)
	return resp, err
}

// DeleteSector removes an empty sector (CEO only).
func (c *Client) DeleteSector(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "sectors/"+url.PathEscape(id), nil, nil)
}

// CreateTaskRequest mirrors the create payload.
type CreateTaskRequest struct {
	Title          string  `json:"title"`
	Description    *string `json:"description,omitempty"`
	Type           string  `json:"type"`
	SectorID       string  `json:"sector_id"`
	Deadline       string  `json:"deadline"`
	Urgency        string  `json:"urgency,omitempty"`
	Status         string  `json:"status,omitempty"`
	CEOObservation *string `json:"ceo_observation,omitempty"`
}

// CreateTask creates a task (CEO only).
func (c *Client) CreateTask(ctx context.Context, req CreateTaskRequest) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", req, &resp)
	return resp, err
}

// ListTasks returns tasks by deadline; empty filters are omitted.
func (c *Client) ListTasks(ctx context.Context, status, sectorID, urgency string) ([]Task, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if sectorID != "" {
		q.Set("sector_id", sectorID)
	}
	if urgency != "" {
		q.Set("urgency", urgency)
	}
	endpoint := "tasks"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetTask fetches one task.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// UpdateTaskStatus changes a task's status (CEO only).
func (c *Client) UpdateTaskStatus(ctx context.Context, id, status string, observation *string) (Task, error) {
	body := map[string]any{"status": status}
	if observation != nil {
		body["observation"] = *observation
	}
	var resp Task
	err := c.do(ctx, http.MethodPatch, "tasks/"+url.PathEscape(id)+"/status", body, &resp)
	return resp, err
}

// DeleteTask removes a task (CEO only).
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "tasks/"+url.PathEscape(id), nil, nil)
}

// TaskHistory returns a task's transition ledger, newest first.
func (c *Client) TaskHistory(ctx context.Context, id string) ([]TaskHistory, error) {
	var resp []TaskHistory
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id)+"/history", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/" + strings.Trim(c.BasePath, "/") + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
