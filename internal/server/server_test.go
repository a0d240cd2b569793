package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"

	"sectorboard/internal/config"
	"sectorboard/internal/db"
	"sectorboard/internal/engine"
	"sectorboard/internal/identity"
	"sectorboard/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Auth.JWTSecret = "test-secret"
	svc := identity.New(conn, cfg)
	handler, err := New(Config{Engine: engine.New(conn), Identity: svc, BasePath: "/v0"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, token string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func register(t *testing.T, ts *testServer, email string) ProfileResponse {
	t.Helper()
	resp, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/auth/register", map[string]any{
		"email":    email,
		"password": "secret1",
	}, "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: status %d body %s", email, resp.StatusCode, data)
	}
	var prof ProfileResponse
	if err := json.Unmarshal(data, &prof); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	return prof
}

func login(t *testing.T, ts *testServer, email string) string {
	t.Helper()
	resp, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/auth/login", map[string]any{
		"email":    email,
		"password": "secret1",
	}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %s: status %d body %s", email, resp.StatusCode, data)
	}
	var sess SessionResponse
	if err := json.Unmarshal(data, &sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return sess.Token
}

func TestHealthIsOpen(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/health", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
}

func TestAuthFlow(t *testing.T) {
	ts := newTestServer(t)

	prof := register(t, ts, "ceo@company.com")
	if prof.Role != "ceo" {
		t.Fatalf("reserved email role = %q", prof.Role)
	}
	prof = register(t, ts, "worker@company.com")
	if prof.Role != "collaborator" {
		t.Fatalf("role = %q", prof.Role)
	}

	resp, _ := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/me", nil, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated /me status = %d", resp.StatusCode)
	}

	token := login(t, ts, "worker@company.com")
	resp, data := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/me", nil, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/me status = %d body %s", resp.StatusCode, data)
	}

	resp, data = doJSON(t, ts.client, http.MethodPatch, ts.URL+"/v0/me", map[string]any{"full_name": "Sam"}, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch /me status = %d body %s", resp.StatusCode, data)
	}
	var me ProfileResponse
	_ = json.Unmarshal(data, &me)
	if me.FullName != "Sam" {
		t.Fatalf("full_name = %q", me.FullName)
	}

	resp, _ = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/auth/logout", nil, token)
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/me", nil, token)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("/me after logout status = %d", resp.StatusCode)
	}
}

func TestDuplicateEmailConflicts(t *testing.T) {
	ts := newTestServer(t)
	register(t, ts, "worker@company.com")
	resp, _ := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/auth/register", map[string]any{
		"email":    "worker@company.com",
		"password": "secret1",
	}, "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register status = %d", resp.StatusCode)
	}
}

func TestCEOWorkflow(t *testing.T) {
	ts := newTestServer(t)
	register(t, ts, "ceo@company.com")
	register(t, ts, "worker@company.com")
	ceo := login(t, ts, "ceo@company.com")
	worker := login(t, ts, "worker@company.com")

	// Sector creation is CEO-only.
	resp, _ := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/sectors", map[string]any{"name": "Finance"}, worker)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("collaborator sector create status = %d", resp.StatusCode)
	}
	resp, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/sectors", map[string]any{"name": "Finance"}, ceo)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("sector create status = %d body %s", resp.StatusCode, data)
	}
	var sector SectorResponse
	_ = json.Unmarshal(data, &sector)

	// Task creation defaults to pending / not_urgent.
	resp, data = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/tasks", map[string]any{
		"title":     "Close the books",
		"type":      "monthly",
		"sector_id": sector.ID,
		"deadline":  "2024-02-01T00:00:00Z",
	}, ceo)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("task create status = %d body %s", resp.StatusCode, data)
	}
	var task TaskResponse
	_ = json.Unmarshal(data, &task)
	if task.Status != "pending" || task.Urgency != "not_urgent" {
		t.Fatalf("task defaults wrong: %s/%s", task.Status, task.Urgency)
	}
	if task.SectorName != "Finance" {
		t.Fatalf("sector name not joined: %q", task.SectorName)
	}

	// Collaborators read but never write.
	resp, _ = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/tasks", nil, worker)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("collaborator task list status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, ts.client, http.MethodPatch, ts.URL+fmt.Sprintf("/v0/tasks/%s/status", task.ID), map[string]any{"status": "delivered"}, worker)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("collaborator status change status = %d", resp.StatusCode)
	}

	// Status change lands on the ledger with the prior value.
	resp, data = doJSON(t, ts.client, http.MethodPatch, ts.URL+fmt.Sprintf("/v0/tasks/%s/status", task.ID), map[string]any{
		"status":      "delivered",
		"observation": "on time",
	}, ceo)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status change status = %d body %s", resp.StatusCode, data)
	}
	resp, data = doJSON(t, ts.client, http.MethodGet, ts.URL+fmt.Sprintf("/v0/tasks/%s/history", task.ID), nil, worker)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d body %s", resp.StatusCode, data)
	}
	var history []TaskHistoryResponse
	_ = json.Unmarshal(data, &history)
	if len(history) != 1 {
		t.Fatalf("history rows = %d, want 1", len(history))
	}
	if history[0].OldStatus == nil || *history[0].OldStatus != "pending" || history[0].NewStatus != "delivered" {
		t.Fatalf("ledger row wrong: %+v", history[0])
	}
	if history[0].Observation == nil || *history[0].Observation != "on time" {
		t.Fatalf("ledger observation = %v", history[0].Observation)
	}

	// A sector with tasks cannot be deleted.
	resp, _ = doJSON(t, ts.client, http.MethodDelete, ts.URL+"/v0/sectors/"+sector.ID, nil, ceo)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("busy sector delete status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, ts.client, http.MethodDelete, ts.URL+"/v0/tasks/"+task.ID, nil, ceo)
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		t.Fatalf("task delete status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, ts.client, http.MethodDelete, ts.URL+"/v0/sectors/"+sector.ID, nil, ceo)
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		t.Fatalf("empty sector delete status = %d", resp.StatusCode)
	}
}

func TestInvalidTaskPayload(t *testing.T) {
	ts := newTestServer(t)
	register(t, ts, "ceo@company.com")
	ceo := login(t, ts, "ceo@company.com")

	resp, _ := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/tasks", map[string]any{
		"title":     "No deadline",
		"type":      "daily",
		"sector_id": "missing",
	}, ceo)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid task status = %d", resp.StatusCode)
	}
}
