package bridge

import (
	"context"
	"errors"
	"sync"

	"sectorboard/internal/domain"
	"sectorboard/internal/identity"
	"sectorboard/internal/repo"
)

// Bridge keeps one client's auth state coherent: the identity session on
// one side, the profile row on the other. Startup reconciliation is
// strict (a session without a profile is force-signed-out); event-driven
// refetches are tolerant and keep the last known profile on failure.
type Bridge struct {
	Identity *identity.Service
	Repo     repo.Repo

	mu      sync.RWMutex
	loading bool
	token   string
	session *domain.Session
	account *domain.Account
	profile *domain.Profile

	unsubOnce sync.Once
	unsub     func()
}

func New(svc *identity.Service) *Bridge {
	return &Bridge{
		Identity: svc,
		Repo:     svc.Repo,
		loading:  true,
	}
}

// Start validates any stored token and loads the matching profile. It
// subscribes to auth events before touching the store so nothing is
// missed in between. Loading settles to false on every path out.
func (b *Bridge) Start(ctx context.Context, token string) error {
	b.mu.Lock()
	b.loading = true
	if b.unsub == nil {
		b.unsub = b.Identity.Subscribe(b.onEvent)
	}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.loading = false
		b.mu.Unlock()
	}()

	if token == "" {
		b.clear()
		return nil
	}
	sess, err := b.Identity.Authenticate(ctx, token)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) || errors.Is(err, identity.ErrSessionExpired) {
			b.clear()
			return nil
		}
		return err
	}
	prof, err := b.Repo.GetProfile(ctx, sess.AccountID)
	if err != nil {
		// A session whose profile cannot be loaded, whether missing or
		// failing to fetch, is a half-provisioned identity; drop it
		// rather than carry it around.
		_ = b.Identity.SignOutSession(ctx, sess.ID)
		b.clear()
		return nil
	}
	acct, err := b.Repo.GetAccount(ctx, sess.AccountID)
	if err != nil {
		_ = b.Identity.SignOutSession(ctx, sess.ID)
		b.clear()
		return nil
	}
	b.set(token, sess, acct, prof)
	return nil
}

// Close detaches from auth events. Safe to call more than once.
func (b *Bridge) Close() {
	b.unsubOnce.Do(func() {
		b.mu.RLock()
		unsub := b.unsub
		b.mu.RUnlock()
		if unsub != nil {
			unsub()
		}
	})
}

func (b *Bridge) onEvent(evt identity.Event) {
	switch evt.Type {
	case identity.EventSignedOut:
		b.clear()
	case identity.EventSignedIn, identity.EventTokenRefreshed:
		if evt.Session == nil {
			return
		}
		ctx := context.Background()
		sess := *evt.Session
		// Best effort: a failed refetch keeps whatever profile we had.
		prof, perr := b.Repo.GetProfile(ctx, sess.AccountID)
		acct, aerr := b.Repo.GetAccount(ctx, sess.AccountID)

		b.mu.Lock()
		b.session = &sess
		if evt.Token != "" {
			b.token = evt.Token
		}
		if perr == nil {
			b.profile = &prof
		}
		if aerr == nil {
			b.account = &acct
		}
		b.mu.Unlock()
	}
}

func (b *Bridge) set(token string, sess domain.Session, acct domain.Account, prof domain.Profile) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.token = token
	b.session = &sess
	b.account = &acct
	b.profile = &prof
}

func (b *Bridge) clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.token = ""
	b.session = nil
	b.account = nil
	b.profile = nil
}

// --- accessors ---

func (b *Bridge) Loading() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.loading
}

func (b *Bridge) Token() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.token
}

func (b *Bridge) Session() *domain.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.session == nil {
		return nil
	}
	s := *b.session
	return &s
}

func (b *Bridge) Account() *domain.Account {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.account == nil {
		return nil
	}
	a := *b.account
	return &a
}

func (b *Bridge) Profile() *domain.Profile {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.profile == nil {
		return nil
	}
	p := *b.profile
	return &p
}

func (b *Bridge) IsCEO() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.profile != nil && b.profile.Role == domain.RoleCEO
}

// --- auth operations ---

func (b *Bridge) Register(ctx context.Context, email, password, fullName string) (domain.Profile, error) {
	_, prof, err := b.Identity.Register(ctx, email, password, fullName)
	return prof, err
}

func (b *Bridge) SignIn(ctx context.Context, email, password string) (domain.Profile, error) {
	res, err := b.Identity.SignIn(ctx, email, password)
	if err != nil {
		return domain.Profile{}, err
	}
	b.set(res.Token, res.Session, res.Account, res.Profile)
	return res.Profile, nil
}

func (b *Bridge) SignOut(ctx context.Context) error {
	b.mu.RLock()
	token := b.token
	b.mu.RUnlock()
	if token == "" {
		b.clear()
		return nil
	}
	return b.Identity.SignOut(ctx, token)
}
