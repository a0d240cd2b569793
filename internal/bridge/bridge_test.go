package bridge_test

import (
	"context"
	"database/sql"
	"testing"

	"sectorboard/internal/bridge"
	"sectorboard/internal/config"
	"sectorboard/internal/db"
	"sectorboard/internal/domain"
	"sectorboard/internal/identity"
	"sectorboard/internal/migrate"
)

func newTestIdentity(t *testing.T) (*identity.Service, *sql.DB) {
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
	return identity.New(conn, cfg), conn
}

func signIn(t *testing.T, svc *identity.Service, email string) identity.SignInResult {
	t.Helper()
	ctx := context.Background()
	if _, _, err := svc.Register(ctx, email, "secret1", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	res, err := svc.SignIn(ctx, email, "secret1")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	return res
}

func TestStartWithValidSession(t *testing.T) {
	svc, _ := newTestIdentity(t)
	res := signIn(t, svc, "ceo@company.com")

	b := bridge.New(svc)
	defer b.Close()
	if !b.Loading() {
		t.Fatal("bridge should report loading before Start finishes")
	}
	if err := b.Start(context.Background(), res.Token); err != nil {
		t.Fatalf("start: %v", err)
	}
	if b.Loading() {
		t.Fatal("loading did not settle")
	}
	sess := b.Session()
	if sess == nil || sess.ID != res.Session.ID {
		t.Fatalf("session = %v, want %s", sess, res.Session.ID)
	}
	if prof := b.Profile(); prof == nil || prof.Role != domain.RoleCEO {
		t.Fatalf("profile = %v, want ceo", prof)
	}
	if !b.IsCEO() {
		t.Fatal("IsCEO = false for reserved account")
	}
}

func TestStartWithoutToken(t *testing.T) {
	svc, _ := newTestIdentity(t)
	b := bridge.New(svc)
	defer b.Close()
	if err := b.Start(context.Background(), ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	if b.Loading() {
		t.Fatal("loading did not settle")
	}
	if b.Session() != nil || b.Profile() != nil {
		t.Fatal("expected empty state")
	}
	if b.IsCEO() {
		t.Fatal("IsCEO without a profile")
	}
}

func TestStartDropsStaleToken(t *testing.T) {
	svc, _ := newTestIdentity(t)
	res := signIn(t, svc, "worker@company.com")
	if err := svc.SignOut(context.Background(), res.Token); err != nil {
		t.Fatal(err)
	}

	b := bridge.New(svc)
	defer b.Close()
	if err := b.Start(context.Background(), res.Token); err != nil {
		t.Fatalf("stale token should not error: %v", err)
	}
	if b.Session() != nil {
		t.Fatal("stale token produced a session")
	}
	if b.Loading() {
		t.Fatal("loading did not settle")
	}
}

func TestStartForcesSignOutWhenProfileMissing(t *testing.T) {
	svc, conn := newTestIdentity(t)
	res := signIn(t, svc, "worker@company.com")

	// Simulate a half-provisioned identity: session exists, profile gone.
	if _, err := conn.Exec(`DELETE FROM profiles WHERE id=?`, res.Account.ID); err != nil {
		t.Fatal(err)
	}

	b := bridge.New(svc)
	defer b.Close()
	if err := b.Start(context.Background(), res.Token); err != nil {
		t.Fatalf("start: %v", err)
	}
	if b.Session() != nil || b.Profile() != nil {
		t.Fatal("profile-less session survived startup")
	}
	// The forced sign-out must reach the store, not just local state.
	if _, err := svc.Authenticate(context.Background(), res.Token); err == nil {
		t.Fatal("session row survived forced sign-out")
	}
}

func TestStartForcesSignOutWhenProfileFetchFails(t *testing.T) {
	svc, conn := newTestIdentity(t)
	res := signIn(t, svc, "worker@company.com")

	// A fetch error, not just a missing row: with the table gone the
	// profile lookup fails outright.
	if _, err := conn.Exec(`DROP TABLE profiles`); err != nil {
		t.Fatal(err)
	}

	b := bridge.New(svc)
	defer b.Close()
	if err := b.Start(context.Background(), res.Token); err != nil {
		t.Fatalf("failed profile fetch should settle, not error: %v", err)
	}
	if b.Loading() {
		t.Fatal("loading did not settle")
	}
	if b.Session() != nil || b.Profile() != nil {
		t.Fatal("session survived a failed profile fetch at startup")
	}
	if _, err := svc.Authenticate(context.Background(), res.Token); err == nil {
		t.Fatal("session row survived forced sign-out")
	}
}

func TestEventDrivenRefetch(t *testing.T) {
	svc, _ := newTestIdentity(t)
	ctx := context.Background()
	if _, _, err := svc.Register(ctx, "worker@company.com", "secret1", "Sam"); err != nil {
		t.Fatal(err)
	}

	b := bridge.New(svc)
	defer b.Close()
	if err := b.Start(ctx, ""); err != nil {
		t.Fatal(err)
	}

	// A sign-in elsewhere on the same service reaches the bridge.
	res, err := svc.SignIn(ctx, "worker@company.com", "secret1")
	if err != nil {
		t.Fatal(err)
	}
	sess := b.Session()
	if sess == nil || sess.ID != res.Session.ID {
		t.Fatalf("bridge missed sign-in event: %v", sess)
	}
	if prof := b.Profile(); prof == nil || prof.FullName != "Sam" {
		t.Fatalf("profile not refetched on event: %v", prof)
	}

	if err := svc.SignOut(ctx, res.Token); err != nil {
		t.Fatal(err)
	}
	if b.Session() != nil {
		t.Fatal("bridge missed sign-out event")
	}
}

func TestEventRefetchToleratesMissingProfile(t *testing.T) {
	svc, conn := newTestIdentity(t)
	ctx := context.Background()
	res := signIn(t, svc, "worker@company.com")

	b := bridge.New(svc)
	defer b.Close()
	if err := b.Start(ctx, res.Token); err != nil {
		t.Fatal(err)
	}
	before := b.Profile()
	if before == nil {
		t.Fatal("expected profile after start")
	}

	// Unlike startup, a failed refetch on an event keeps the last
	// known profile instead of signing out.
	if _, err := conn.Exec(`DELETE FROM profiles WHERE id=?`, res.Account.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Refresh(ctx, res.Token); err != nil {
		t.Fatal(err)
	}
	after := b.Profile()
	if after == nil || after.ID != before.ID {
		t.Fatalf("profile dropped on tolerant refetch: %v", after)
	}
	if b.Session() == nil {
		t.Fatal("session dropped on tolerant refetch")
	}
}

func TestSignOutAfterRefreshRevokesSession(t *testing.T) {
	svc, _ := newTestIdentity(t)
	ctx := context.Background()
	res := signIn(t, svc, "worker@company.com")

	b := bridge.New(svc)
	defer b.Close()
	if err := b.Start(ctx, res.Token); err != nil {
		t.Fatal(err)
	}

	rot, err := svc.Refresh(ctx, res.Token)
	if err != nil {
		t.Fatal(err)
	}
	// The refresh event carries the rotated token to the bridge.
	if b.Token() != rot.Token {
		t.Fatalf("bridge token = %q, want rotated token", b.Token())
	}

	if err := b.SignOut(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Authenticate(ctx, rot.Token); err == nil {
		t.Fatal("session row survived sign-out after refresh")
	}
	if b.Session() != nil {
		t.Fatal("bridge kept state after sign-out")
	}
}

func TestCloseDetachesOnce(t *testing.T) {
	svc, _ := newTestIdentity(t)
	ctx := context.Background()
	if _, _, err := svc.Register(ctx, "worker@company.com", "secret1", ""); err != nil {
		t.Fatal(err)
	}

	b := bridge.New(svc)
	if err := b.Start(ctx, ""); err != nil {
		t.Fatal(err)
	}
	b.Close()
	b.Close() // second close is a no-op

	if _, err := svc.SignIn(ctx, "worker@company.com", "secret1"); err != nil {
		t.Fatal(err)
	}
	if b.Session() != nil {
		t.Fatal("closed bridge still tracked events")
	}
}
