package sectorboardsdk_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"

	"sectorboard/internal/config"
	"sectorboard/internal/db"
	"sectorboard/internal/engine"
	"sectorboard/internal/identity"
	"sectorboard/internal/migrate"
	"sectorboard/internal/server"
	sdk "sectorboard/sdk/go"
)

func newTestAPI(t *testing.T) string {
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
	handler, err := server.New(server.Config{
		Engine:   engine.New(conn),
		Identity: identity.New(conn, cfg),
		BasePath: "/v0",
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ln.Close()
		conn.Close()
	})
	return "http://" + ln.Addr().String()
}

func TestClientEndToEnd(t *testing.T) {
	url := newTestAPI(t)
	ctx := context.Background()

	ceo := sdk.New(url)
	if _, err := ceo.Register(ctx, "ceo@company.com", "secret1", "The Boss"); err != nil {
		t.Fatalf("register: %v", err)
	}
	sess, err := ceo.Login(ctx, "ceo@company.com", "secret1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if sess.Profile.Role != "ceo" {
		t.Fatalf("role = %q, want ceo", sess.Profile.Role)
	}

	sector, err := ceo.CreateSector(ctx, "Marketing")
	if err != nil {
		t.Fatalf("create sector: %v", err)
	}
	task, err := ceo.CreateTask(ctx, sdk.CreateTaskRequest{
		Title:    "Launch campaign",
		Type:     "temporary",
		SectorID: sector.ID,
		Deadline: "2024-03-01T00:00:00Z",
		Urgency:  "urgent",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.Status != "pending" {
		t.Fatalf("status = %q", task.Status)
	}

	obs := "shipped early"
	task, err = ceo.UpdateTaskStatus(ctx, task.ID, "delivered", &obs)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	history, err := ceo.TaskHistory(ctx, task.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].NewStatus != "delivered" {
		t.Fatalf("history = %+v", history)
	}

	// Collaborators see everything and change nothing.
	worker := sdk.New(url)
	if _, err := worker.Register(ctx, "worker@company.com", "secret1", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := worker.Login(ctx, "worker@company.com", "secret1"); err != nil {
		t.Fatal(err)
	}
	tasks, err := worker.ListTasks(ctx, "", "", "")
	if err != nil {
		t.Fatalf("worker list: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("worker sees %d tasks, want 1", len(tasks))
	}
	_, err = worker.CreateSector(ctx, "Shadow")
	var apiErr *sdk.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
		t.Fatalf("worker create sector: got %v, want 403", err)
	}

	if err := ceo.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := ceo.Me(ctx); err == nil {
		t.Fatal("token still valid after logout")
	}
}
