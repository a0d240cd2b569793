package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"sectorboard/internal/config"
	"sectorboard/internal/domain"
	"sectorboard/internal/repo"
)

// Auth event types delivered to subscribers.
const (
	EventSignedIn       = "signed_in"
	EventSignedOut      = "signed_out"
	EventTokenRefreshed = "token_refreshed"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailInUse         = errors.New("email already registered")
	ErrSessionExpired     = errors.New("session expired")
)

// Event describes an auth state change. Session is nil for sign-out.
// Token carries the bearer token that is now current, so listeners can
// revoke it later; it is empty for sign-out.
type Event struct {
	Type    string
	Token   string
	Session *domain.Session
}

// Service owns accounts, sessions and tokens. Profiles are provisioned
// here, inside the registration transaction, so an account never exists
// without its authorization row.
type Service struct {
	DB     *sql.DB
	Repo   repo.Repo
	Config *config.Config
	Now    func() time.Time

	mu     sync.Mutex
	nextID int
	subs   map[int]func(Event)
}

func New(db *sql.DB, cfg *config.Config) *Service {
	return &Service{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) secret() (string, error) {
	if s.Config != nil && s.Config.Auth.JWTSecret != "" {
		return s.Config.Auth.JWTSecret, nil
	}
	if v := os.Getenv("SECTORBOARD_JWT_SECRET"); v != "" {
		return v, nil
	}
	return "", errors.New("jwt secret not configured")
}

func (s *Service) reservedCEOEmail() string {
	if s.Config != nil && s.Config.Auth.ReservedCEOEmail != "" {
		return strings.ToLower(s.Config.Auth.ReservedCEOEmail)
	}
	return config.DefaultReservedCEOEmail
}

func (s *Service) sessionTTL() time.Duration {
	if s.Config != nil {
		return s.Config.SessionTTL()
	}
	return 24 * time.Hour
}

// Register creates an account and its profile in one transaction. The
// reserved address gets the ceo role; everyone else is a collaborator.
func (s *Service) Register(ctx context.Context, email, password, fullName string) (domain.Account, domain.Profile, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") {
		return domain.Account{}, domain.Profile{}, errors.New("invalid email")
	}
	if len(password) < 6 {
		return domain.Account{}, domain.Profile{}, errors.New("password must be at least 6 characters")
	}
	if _, err := s.Repo.GetAccountByEmail(ctx, email); err == nil {
		return domain.Account{}, domain.Profile{}, ErrEmailInUse
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Account{}, domain.Profile{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.Account{}, domain.Profile{}, fmt.Errorf("hash password: %w", err)
	}
	role := domain.RoleCollaborator
	if email == s.reservedCEOEmail() {
		role = domain.RoleCEO
	}
	now := s.now().UTC().Format(time.RFC3339)
	acct := domain.Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    now,
	}
	prof := domain.Profile{
		ID:        acct.ID,
		Role:      role,
		FullName:  fullName,
		CreatedAt: now,
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Account{}, domain.Profile{}, err
	}
	defer tx.Rollback()
	if err := s.Repo.InsertAccount(ctx, tx, acct); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return domain.Account{}, domain.Profile{}, ErrEmailInUse
		}
		return domain.Account{}, domain.Profile{}, fmt.Errorf("insert account: %w", err)
	}
	if err := s.Repo.InsertProfile(ctx, tx, prof); err != nil {
		return domain.Account{}, domain.Profile{}, fmt.Errorf("insert profile: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Account{}, domain.Profile{}, err
	}
	return acct, prof, nil
}

// SignInResult carries the bearer token with its session.
type SignInResult struct {
	Token   string
	Session domain.Session
	Account domain.Account
	Profile domain.Profile
}

func (s *Service) SignIn(ctx context.Context, email, password string) (SignInResult, error) {
	acct, err := s.Repo.GetAccountByEmail(ctx, email)
	if errors.Is(err, repo.ErrNotFound) {
		return SignInResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return SignInResult{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)) != nil {
		return SignInResult{}, ErrInvalidCredentials
	}

	sessionID := uuid.NewString()
	now := s.now().UTC()
	expires := now.Add(s.sessionTTL())
	token, err := s.issueToken(acct.ID, sessionID, now, expires)
	if err != nil {
		return SignInResult{}, err
	}
	sess := domain.Session{
		ID:        sessionID,
		AccountID: acct.ID,
		TokenHash: repo.HashToken(token),
		CreatedAt: now.Format(time.RFC3339),
		ExpiresAt: expires.Format(time.RFC3339),
	}
	if err := s.Repo.InsertSession(ctx, sess); err != nil {
		return SignInResult{}, fmt.Errorf("insert session: %w", err)
	}
	prof, err := s.Repo.GetProfile(ctx, acct.ID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return SignInResult{}, err
	}
	s.emit(Event{Type: EventSignedIn, Token: token, Session: &sess})
	return SignInResult{Token: token, Session: sess, Account: acct, Profile: prof}, nil
}

// SignOut deletes the session behind a token. Unknown tokens are a
// no-op so sign-out is idempotent.
func (s *Service) SignOut(ctx context.Context, token string) error {
	sess, err := s.Repo.GetSessionByTokenHash(ctx, repo.HashToken(token))
	if errors.Is(err, repo.ErrNotFound) {
		s.emit(Event{Type: EventSignedOut})
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.Repo.DeleteSession(ctx, sess.ID); err != nil {
		return err
	}
	s.emit(Event{Type: EventSignedOut})
	return nil
}

// SignOutSession drops a session by ID without needing the raw token.
func (s *Service) SignOutSession(ctx context.Context, sessionID string) error {
	if err := s.Repo.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	s.emit(Event{Type: EventSignedOut})
	return nil
}

// Authenticate verifies a bearer token against both its signature and
// the stored session row. Expired sessions are dropped on sight.
func (s *Service) Authenticate(ctx context.Context, token string) (domain.Session, error) {
	accountID, sessionID, err := s.verifyToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			if sess, gerr := s.Repo.GetSessionByTokenHash(ctx, repo.HashToken(token)); gerr == nil {
				_ = s.Repo.DeleteSession(ctx, sess.ID)
			}
			return domain.Session{}, ErrSessionExpired
		}
		return domain.Session{}, ErrInvalidCredentials
	}
	sess, err := s.Repo.GetSessionByTokenHash(ctx, repo.HashToken(token))
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.Session{}, err
	}
	if sess.ID != sessionID || sess.AccountID != accountID {
		return domain.Session{}, ErrInvalidCredentials
	}
	exp, err := time.Parse(time.RFC3339, sess.ExpiresAt)
	if err != nil || !s.now().UTC().Before(exp) {
		_ = s.Repo.DeleteSession(ctx, sess.ID)
		return domain.Session{}, ErrSessionExpired
	}
	return sess, nil
}

// Refresh rotates the token for an authenticated session and extends
// its lifetime.
func (s *Service) Refresh(ctx context.Context, token string) (SignInResult, error) {
	sess, err := s.Authenticate(ctx, token)
	if err != nil {
		return SignInResult{}, err
	}
	now := s.now().UTC()
	expires := now.Add(s.sessionTTL())
	next, err := s.issueToken(sess.AccountID, sess.ID, now, expires)
	if err != nil {
		return SignInResult{}, err
	}
	if err := s.Repo.UpdateSessionToken(ctx, sess.ID, repo.HashToken(next), expires.Format(time.RFC3339)); err != nil {
		return SignInResult{}, err
	}
	sess.TokenHash = repo.HashToken(next)
	sess.ExpiresAt = expires.Format(time.RFC3339)
	acct, err := s.Repo.GetAccount(ctx, sess.AccountID)
	if err != nil {
		return SignInResult{}, err
	}
	prof, err := s.Repo.GetProfile(ctx, sess.AccountID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return SignInResult{}, err
	}
	s.emit(Event{Type: EventTokenRefreshed, Token: next, Session: &sess})
	return SignInResult{Token: next, Session: sess, Account: acct, Profile: prof}, nil
}

// Subscribe registers a listener for auth events. The returned func
// removes it; calling it more than once is safe.
func (s *Service) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = map[int]func(Event){}
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Service) emit(evt Event) {
	s.mu.Lock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(evt)
	}
}

func (s *Service) issueToken(accountID, sessionID string, issued, expires time.Time) (string, error) {
	secret, err := s.secret()
	if err != nil {
		return "", err
	}
	claims := jwt.RegisteredClaims{
		Subject:   accountID,
		ID:        sessionID,
		IssuedAt:  jwt.NewNumericDate(issued),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func (s *Service) verifyToken(token string) (accountID, sessionID string, err error) {
	secret, err := s.secret()
	if err != nil {
		return "", "", err
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	claims := &jwt.RegisteredClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return "", "", err
	}
	if !parsed.Valid || claims.Subject == "" || claims.ID == "" {
		return "", "", errors.New("invalid token")
	}
	return claims.Subject, claims.ID, nil
}
