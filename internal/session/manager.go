// Package session owns the client's authentication lifecycle: acquiring the
// token pair, persisting it, resolving the current user and dropping all of it
// when the server rejects the credential.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"storefront.org/internal/apiclient"
	"storefront.org/internal/audit"
	"storefront.org/internal/market"
	"storefront.org/internal/obs"
	"storefront.org/internal/session/tokenstore"
)

// ErrLoginInProgress is returned when Login is called while another login
// has not finished.
var ErrLoginInProgress = errors.New("session: login already in progress")

const clearTimeout = 5 * time.Second

// API is the subset of the remote API the manager needs.
type API interface {
	Signup(ctx context.Context, in market.SignupInput) (market.User, error)
	Login(ctx context.Context, phone, password string) (market.TokenPair, error)
	Logout(ctx context.Context) error
	Me(ctx context.Context) (market.User, error)
}

// Navigator moves the user to the login surface.
type Navigator interface {
	RedirectToLogin()
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func()

func (f NavigatorFunc) RedirectToLogin() { f() }

// Manager is the single owner of the token pair and the current user. All
// mutations go through its mutex.
type Manager struct {
	api   API
	store tokenstore.Store
	nav   Navigator
	bus   *Bus
	now   func() time.Time

	mu       sync.Mutex
	tokens   market.TokenPair
	user     *market.User
	state    State
	loading  bool
	restored bool
	inLogin  bool
	// generation changes on every clear so a login or restore can tell that
	// its tokens were dropped while it waited on the network.
	generation uint64
}

// Option configures Manager.
type Option func(*Manager)

// WithNavigator sets where forced logouts send the user.
func WithNavigator(nav Navigator) Option {
	return func(m *Manager) { m.nav = nav }
}

// WithBus publishes session events on bus.
func WithBus(bus *Bus) Option {
	return func(m *Manager) { m.bus = bus }
}

// WithClock overrides time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a manager. The session stays Loading until RestoreSession runs.
func New(api API, store tokenstore.Store, opts ...Option) *Manager {
	m := &Manager{
		api:     api,
		store:   store,
		nav:     NavigatorFunc(func() {}),
		bus:     NewBus(),
		now:     time.Now,
		state:   Unauthenticated,
		loading: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Attach registers the manager as the client's credential source and 401
// handler.
func (m *Manager) Attach(c *apiclient.Client) {
	c.SetCredentials(m)
	c.SetUnauthorizedHandler(m.HandleUnauthorized)
}

// Bus returns the event bus.
func (m *Manager) Bus() *Bus { return m.bus }

// AccessToken implements apiclient.CredentialSource.
func (m *Manager) AccessToken() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens.AccessToken, m.tokens.AccessToken != ""
}

// Snapshot returns a copy of the current session.
func (m *Manager) Snapshot() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// CurrentUser returns the resolved user, if any.
func (m *Manager) CurrentUser() (market.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Authenticated || m.user == nil {
		return market.User{}, false
	}
	return *m.user, true
}

func (m *Manager) snapshotLocked() Session {
	s := Session{
		AccessToken:  m.tokens.AccessToken,
		RefreshToken: m.tokens.RefreshToken,
		State:        m.state,
		Loading:      m.loading,
	}
	if m.user != nil {
		u := *m.user
		s.User = &u
	}
	return s
}

func (m *Manager) setStateLocked(to State) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	obs.SessionTransition(string(from), string(to))
	var uid int64
	if m.user != nil {
		uid = m.user.ID
	}
	m.bus.Publish(Event{Kind: EventStateChanged, From: from, To: to, UserID: uid, Timestamp: m.now().UTC()})
}

// clearLocked drops tokens and user together and removes the persisted pair.
// The store is cleared even when ctx is already cancelled or past its
// deadline. Storage errors are logged; the in-memory session is cleared
// regardless.
func (m *Manager) clearLocked(ctx context.Context) {
	m.tokens = market.TokenPair{}
	m.user = nil
	m.generation++
	m.setStateLocked(Unauthenticated)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), clearTimeout)
	defer cancel()
	if err := m.store.Clear(ctx); err != nil {
		obs.Logger().Warn("clear persisted tokens", zap.Error(err))
	}
}

// Login exchanges credentials for tokens and resolves the current user. It
// succeeds only once the identity fetch succeeded; otherwise nothing stays
// persisted.
func (m *Manager) Login(ctx context.Context, phone, password string) (Session, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" || password == "" {
		return m.Snapshot(), market.Invalid("phone", "phone and password are required")
	}

	m.mu.Lock()
	if m.inLogin {
		m.mu.Unlock()
		return m.Snapshot(), ErrLoginInProgress
	}
	m.inLogin = true
	m.user = nil
	m.setStateLocked(Authenticating)
	m.mu.Unlock()

	ctx = audit.WithActor(ctx, phone)
	defer func() {
		m.mu.Lock()
		m.inLogin = false
		m.mu.Unlock()
	}()

	pair, err := m.api.Login(ctx, phone, password)
	if err != nil {
		m.fail(ctx)
		_ = audit.LogEvent(ctx, "session.login.failed", map[string]any{"reason": err.Error()})
		return m.Snapshot(), fmt.Errorf("login: %w", err)
	}

	m.mu.Lock()
	if err := m.store.Save(ctx, pair); err != nil {
		m.clearLocked(ctx)
		m.mu.Unlock()
		return m.Snapshot(), fmt.Errorf("persist tokens: %w", err)
	}
	m.tokens = pair
	gen := m.generation
	m.mu.Unlock()

	user, err := m.api.Me(ctx)

	m.mu.Lock()
	if err == nil && gen != m.generation {
		err = errors.New("session cleared while resolving identity")
	}
	if err != nil {
		m.clearLocked(ctx)
		m.mu.Unlock()
		_ = audit.LogEvent(ctx, "session.login.integrity", map[string]any{"reason": err.Error()})
		return m.Snapshot(), fmt.Errorf("login: %w: %v", market.ErrIntegrity, err)
	}
	m.user = &user
	m.loading = false
	m.setStateLocked(Authenticated)
	snap := m.snapshotLocked()
	m.mu.Unlock()

	_ = audit.LogEvent(ctx, "session.login", map[string]any{"user_id": user.ID})
	return snap, nil
}

func (m *Manager) fail(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked(ctx)
}

// Signup registers an account without logging in.
func (m *Manager) Signup(ctx context.Context, in market.SignupInput) (market.User, error) {
	in.FullName = strings.TrimSpace(in.FullName)
	in.Phone = strings.TrimSpace(in.Phone)
	if err := market.Validate(in); err != nil {
		return market.User{}, err
	}
	u, err := m.api.Signup(ctx, in)
	if err != nil {
		return market.User{}, fmt.Errorf("signup: %w", err)
	}
	_ = audit.LogEvent(audit.WithActor(ctx, in.Phone), "session.signup", map[string]any{"user_id": u.ID})
	return u, nil
}

// Logout invalidates the token on the server if it can and always clears the
// local session.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	had := m.tokens.AccessToken != ""
	var uid int64
	if m.user != nil {
		uid = m.user.ID
	}
	m.mu.Unlock()

	if had {
		if err := m.api.Logout(ctx); err != nil {
			obs.Logger().Warn("server logout failed", zap.Error(err))
		}
	}

	m.mu.Lock()
	m.clearLocked(ctx)
	m.loading = false
	m.mu.Unlock()

	_ = audit.LogEvent(ctx, "session.logout", map[string]any{"user_id": uid})
}

// RestoreSession resolves a persisted token into a user once per process. Any
// failure other than a storage error leaves the session unauthenticated with
// nothing persisted.
func (m *Manager) RestoreSession(ctx context.Context) (Session, error) {
	m.mu.Lock()
	if m.restored {
		snap := m.snapshotLocked()
		m.mu.Unlock()
		return snap, nil
	}
	m.restored = true
	m.mu.Unlock()

	pair, err := m.store.Load(ctx)
	if err != nil {
		m.mu.Lock()
		m.loading = false
		snap := m.snapshotLocked()
		m.mu.Unlock()
		return snap, fmt.Errorf("load tokens: %w", err)
	}

	if pair.AccessToken == "" || tokenExpired(pair.AccessToken, m.now()) {
		reason := "no token"
		if pair.AccessToken != "" {
			reason = "token expired"
		}
		m.mu.Lock()
		if !pair.Empty() {
			m.clearLocked(ctx)
		}
		m.loading = false
		snap := m.snapshotLocked()
		m.mu.Unlock()
		_ = audit.LogEvent(ctx, "session.restore.skipped", map[string]any{"reason": reason})
		return snap, nil
	}

	m.mu.Lock()
	m.tokens = pair
	gen := m.generation
	m.setStateLocked(Authenticating)
	m.mu.Unlock()

	user, err := m.api.Me(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.loading = false
	if err == nil && gen != m.generation {
		err = errors.New("session cleared while resolving identity")
	}
	if err != nil {
		m.clearLocked(ctx)
		_ = audit.LogEvent(ctx, "session.restore.failed", map[string]any{"reason": err.Error()})
		return m.snapshotLocked(), nil
	}
	m.user = &user
	m.setStateLocked(Authenticated)
	_ = audit.LogEvent(ctx, "session.restore", map[string]any{"user_id": user.ID})
	return m.snapshotLocked(), nil
}

// HandleUnauthorized applies the global 401 policy: clear the session and
// send the user to the login surface. 401s from the login endpoint and for a
// token that is no longer current are ignored. The redirect happens only when
// there was a session to drop and no login is running, so repeated 401s
// cannot bounce the user back to the login surface again and again.
func (m *Manager) HandleUnauthorized(path, token string) {
	if path == apiclient.PathLogin {
		return
	}

	m.mu.Lock()
	if token != m.tokens.AccessToken {
		m.mu.Unlock()
		return
	}
	hadSession := !m.tokens.Empty() || m.user != nil
	inLogin := m.inLogin
	var uid int64
	if m.user != nil {
		uid = m.user.ID
	}
	if hadSession {
		from := m.state
		m.clearLocked(context.Background())
		m.bus.Publish(Event{Kind: EventForcedLogout, From: from, To: Unauthenticated, UserID: uid, Timestamp: m.now().UTC()})
	}
	m.mu.Unlock()

	if !hadSession || inLogin || path == apiclient.PathLogout {
		return
	}
	_ = audit.LogEvent(context.Background(), "session.forced_logout", map[string]any{
		"user_id": uid,
		"path":    path,
	})
	m.nav.RedirectToLogin()
}
