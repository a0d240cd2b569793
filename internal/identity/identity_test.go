package identity_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sectorboard/internal/config"
	"sectorboard/internal/db"
	"sectorboard/internal/domain"
	"sectorboard/internal/identity"
	"sectorboard/internal/migrate"
)

func newTestService(t *testing.T) *identity.Service {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Auth.JWTSecret = "test-secret"
	return identity.New(conn, cfg)
}

func TestRegisterAssignsRoles(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, prof, err := svc.Register(ctx, "CEO@Company.com", "secret1", "The Boss")
	if err != nil {
		t.Fatalf("register ceo: %v", err)
	}
	if prof.Role != domain.RoleCEO {
		t.Fatalf("reserved email role = %q, want ceo", prof.Role)
	}

	_, prof, err = svc.Register(ctx, "worker@company.com", "secret1", "")
	if err != nil {
		t.Fatalf("register collaborator: %v", err)
	}
	if prof.Role != domain.RoleCollaborator {
		t.Fatalf("role = %q, want collaborator", prof.Role)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, "not-an-email", "secret1", ""); err == nil {
		t.Fatal("expected invalid email error")
	}
	if _, _, err := svc.Register(ctx, "a@b.com", "short", ""); err == nil {
		t.Fatal("expected short password error")
	}
	if _, _, err := svc.Register(ctx, "dup@b.com", "secret1", ""); err != nil {
		t.Fatal(err)
	}
	_, _, err := svc.Register(ctx, "DUP@b.com", "secret1", "")
	if !errors.Is(err, identity.ErrEmailInUse) {
		t.Fatalf("duplicate email: got %v, want ErrEmailInUse", err)
	}
}

func TestSignInAndAuthenticate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if _, _, err := svc.Register(ctx, "a@b.com", "secret1", ""); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.SignIn(ctx, "a@b.com", "wrong"); !errors.Is(err, identity.ErrInvalidCredentials) {
		t.Fatalf("wrong password: got %v", err)
	}
	if _, err := svc.SignIn(ctx, "nobody@b.com", "secret1"); !errors.Is(err, identity.ErrInvalidCredentials) {
		t.Fatalf("unknown email: got %v", err)
	}

	res, err := svc.SignIn(ctx, "a@b.com", "secret1")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	sess, err := svc.Authenticate(ctx, res.Token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if sess.ID != res.Session.ID {
		t.Fatalf("session id mismatch")
	}

	if err := svc.SignOut(ctx, res.Token); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Authenticate(ctx, res.Token); !errors.Is(err, identity.ErrInvalidCredentials) {
		t.Fatalf("authenticate after sign out: got %v", err)
	}
	// Sign-out is idempotent.
	if err := svc.SignOut(ctx, res.Token); err != nil {
		t.Fatalf("second sign out: %v", err)
	}
}

func TestSessionExpiry(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time { return now }

	if _, _, err := svc.Register(ctx, "a@b.com", "secret1", ""); err != nil {
		t.Fatal(err)
	}
	res, err := svc.SignIn(ctx, "a@b.com", "secret1")
	if err != nil {
		t.Fatal(err)
	}
	now = now.Add(25 * time.Hour)
	if _, err := svc.Authenticate(ctx, res.Token); !errors.Is(err, identity.ErrSessionExpired) {
		t.Fatalf("expired session: got %v", err)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if _, _, err := svc.Register(ctx, "a@b.com", "secret1", ""); err != nil {
		t.Fatal(err)
	}
	res, err := svc.SignIn(ctx, "a@b.com", "secret1")
	if err != nil {
		t.Fatal(err)
	}
	// Tokens embed issue time; move the clock so the rotated one differs.
	svc.Now = func() time.Time { return time.Now().Add(time.Minute) }
	refreshed, err := svc.Refresh(ctx, res.Token)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed.Token == res.Token {
		t.Fatal("refresh did not rotate the token")
	}
	if refreshed.Session.ID != res.Session.ID {
		t.Fatal("refresh changed the session id")
	}
	if _, err := svc.Authenticate(ctx, res.Token); err == nil {
		t.Fatal("old token still valid after refresh")
	}
	if _, err := svc.Authenticate(ctx, refreshed.Token); err != nil {
		t.Fatalf("new token rejected: %v", err)
	}
}

func TestSubscribeDeliversEvents(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if _, _, err := svc.Register(ctx, "a@b.com", "secret1", ""); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var got []string
	unsub := svc.Subscribe(func(evt identity.Event) {
		mu.Lock()
		got = append(got, evt.Type)
		mu.Unlock()
	})

	res, err := svc.SignIn(ctx, "a@b.com", "secret1")
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.SignOut(ctx, res.Token); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	want := []string{identity.EventSignedIn, identity.EventSignedOut}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		mu.Unlock()
		t.Fatalf("events = %v, want %v", got, want)
	}
	mu.Unlock()

	unsub()
	unsub() // safe twice
	if _, err := svc.SignIn(ctx, "a@b.com", "secret1"); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("events after unsubscribe = %d, want 2", len(got))
	}
}
