package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"storefront.org/internal/apiclient"
	"storefront.org/internal/market"
	"storefront.org/internal/session/tokenstore"
)

type stubAPI struct {
	mu          sync.Mutex
	pair        market.TokenPair
	loginErr    error
	user        market.User
	meErr       error
	meHook      func()
	logoutErr   error
	signupErr   error
	loginCalls  int
	meCalls     int
	logoutCalls int
}

func (s *stubAPI) Signup(ctx context.Context, in market.SignupInput) (market.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signupErr != nil {
		return market.User{}, s.signupErr
	}
	return market.User{ID: 99, FullName: in.FullName, Phone: in.Phone}, nil
}

func (s *stubAPI) Login(ctx context.Context, phone, password string) (market.TokenPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loginCalls++
	if s.loginErr != nil {
		return market.TokenPair{}, s.loginErr
	}
	if password != "rightpw" {
		return market.TokenPair{}, &market.RemoteError{Kind: market.ErrAuthenticationFailure, Status: 401, Message: "Incorrect phone or password"}
	}
	return s.pair, nil
}

func (s *stubAPI) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logoutCalls++
	return s.logoutErr
}

func (s *stubAPI) Me(ctx context.Context) (market.User, error) {
	s.mu.Lock()
	s.meCalls++
	hook := s.meHook
	user, err := s.user, s.meErr
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return market.User{}, err
	}
	return user, nil
}

func newStub() *stubAPI {
	return &stubAPI{
		pair: market.TokenPair{AccessToken: "acc-1", RefreshToken: "ref-1"},
		user: market.User{ID: 1, FullName: "Ada Buyer", Phone: "5551234"},
	}
}

func assertConsistent(t *testing.T, m *Manager) {
	t.Helper()
	s := m.Snapshot()
	if s.State == Authenticating {
		return
	}
	if s.AccessToken != "" && s.User == nil {
		t.Fatalf("tokens present without a user: %+v", s)
	}
	if s.User != nil && s.AccessToken == "" {
		t.Fatalf("user present without tokens: %+v", s)
	}
}

func TestLoginSuccess(t *testing.T) {
	api := newStub()
	store := tokenstore.NewMemory()
	m := New(api, store)

	s, err := m.Login(context.Background(), "5551234", "rightpw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !s.Authenticated() || s.User.FullName != "Ada Buyer" {
		t.Fatalf("unexpected session: %+v", s)
	}
	persisted, _ := store.Load(context.Background())
	if persisted.AccessToken != "acc-1" || persisted.RefreshToken != "ref-1" {
		t.Fatalf("expected both tokens persisted, got %+v", persisted)
	}
	if s.Loading {
		t.Fatal("expected loading to be resolved after login")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	api := newStub()
	store := tokenstore.NewMemory()
	m := New(api, store)

	_, err := m.Login(context.Background(), "5551234", "wrongpw")
	if !errors.Is(err, market.ErrAuthenticationFailure) {
		t.Fatalf("expected authentication failure, got %v", err)
	}
	if persisted, _ := store.Load(context.Background()); !persisted.Empty() {
		t.Fatalf("expected no tokens, got %+v", persisted)
	}
	if s := m.Snapshot(); s.State != Unauthenticated || s.AccessToken != "" {
		t.Fatalf("unexpected session: %+v", s)
	}
}

func TestLoginIdentityFailureLeavesNoToken(t *testing.T) {
	api := newStub()
	api.meErr = &market.RemoteError{Kind: market.ErrRemoteRejection, Status: 500}
	store := tokenstore.NewMemory()
	m := New(api, store)

	_, err := m.Login(context.Background(), "5551234", "rightpw")
	if !errors.Is(err, market.ErrIntegrity) {
		t.Fatalf("expected integrity error, got %v", err)
	}
	if persisted, _ := store.Load(context.Background()); !persisted.Empty() {
		t.Fatalf("token left persisted after identity failure: %+v", persisted)
	}
	s := m.Snapshot()
	if s.User != nil || s.AccessToken != "" || s.State != Unauthenticated {
		t.Fatalf("unexpected session: %+v", s)
	}
}

func TestLoginFailureClearsPreviousTokens(t *testing.T) {
	api := newStub()
	store := tokenstore.NewMemory()
	_ = store.Save(context.Background(), market.TokenPair{AccessToken: "old", RefreshToken: "old-ref"})
	m := New(api, store)

	api.loginErr = errors.New("connection refused")
	if _, err := m.Login(context.Background(), "5551234", "rightpw"); err == nil {
		t.Fatal("expected error")
	}
	if persisted, _ := store.Load(context.Background()); !persisted.Empty() {
		t.Fatalf("expected tokens cleared, got %+v", persisted)
	}
}

func TestLoginRequiresCredentials(t *testing.T) {
	api := newStub()
	m := New(api, tokenstore.NewMemory())
	if _, err := m.Login(context.Background(), " ", "x"); !errors.Is(err, market.ErrValidationFailure) {
		t.Fatalf("expected validation failure, got %v", err)
	}
	if api.loginCalls != 0 {
		t.Fatal("validation failure must not reach the network")
	}
}

func TestConcurrentLoginRejected(t *testing.T) {
	api := newStub()
	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	api.meHook = func() {
		once.Do(func() { close(entered) })
		<-release
	}
	m := New(api, tokenstore.NewMemory())

	done := make(chan error, 1)
	go func() {
		_, err := m.Login(context.Background(), "5551234", "rightpw")
		done <- err
	}()
	<-entered

	if _, err := m.Login(context.Background(), "5551234", "rightpw"); !errors.Is(err, ErrLoginInProgress) {
		t.Fatalf("expected ErrLoginInProgress, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first login: %v", err)
	}
}

func TestLogoutClearsEvenWhenServerFails(t *testing.T) {
	api := newStub()
	api.logoutErr = errors.New("boom")
	store := tokenstore.NewMemory()
	m := New(api, store)
	if _, err := m.Login(context.Background(), "5551234", "rightpw"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	m.Logout(context.Background())

	if api.logoutCalls != 1 {
		t.Fatalf("expected one server logout, got %d", api.logoutCalls)
	}
	if s := m.Snapshot(); s.User != nil || s.AccessToken != "" {
		t.Fatalf("expected cleared session, got %+v", s)
	}
	if persisted, _ := store.Load(context.Background()); !persisted.Empty() {
		t.Fatalf("expected no tokens, got %+v", persisted)
	}
}

func openSQLiteStore(t *testing.T) *tokenstore.SQL {
	t.Helper()
	store, err := tokenstore.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "tokens.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func assertNothingPersisted(t *testing.T, store tokenstore.Store) {
	t.Helper()
	pair, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !pair.Empty() {
		t.Fatalf("expected no persisted tokens, got %+v", pair)
	}
}

func TestCancelledContextStillClearsPersistedTokens(t *testing.T) {
	t.Run("login identity failure", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		api := newStub()
		api.meHook = cancel
		api.meErr = context.Canceled
		store := openSQLiteStore(t)
		m := New(api, store)

		_, err := m.Login(ctx, "5551234", "rightpw")
		if !errors.Is(err, market.ErrIntegrity) {
			t.Fatalf("expected integrity error, got %v", err)
		}
		if s := m.Snapshot(); s.AccessToken != "" || s.User != nil {
			t.Fatalf("expected cleared session, got %+v", s)
		}
		assertNothingPersisted(t, store)
	})

	t.Run("logout", func(t *testing.T) {
		api := newStub()
		store := openSQLiteStore(t)
		m := New(api, store)
		if _, err := m.Login(context.Background(), "5551234", "rightpw"); err != nil {
			t.Fatalf("Login: %v", err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		m.Logout(ctx)

		if s := m.Snapshot(); s.AccessToken != "" || s.User != nil {
			t.Fatalf("expected cleared session, got %+v", s)
		}
		assertNothingPersisted(t, store)
	})

	t.Run("restore identity failure", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		api := newStub()
		api.meHook = cancel
		api.meErr = context.Canceled
		store := openSQLiteStore(t)
		if err := store.Save(context.Background(), market.TokenPair{AccessToken: "opaque", RefreshToken: "r"}); err != nil {
			t.Fatalf("Save: %v", err)
		}
		m := New(api, store)

		s, err := m.RestoreSession(ctx)
		if err != nil {
			t.Fatalf("RestoreSession: %v", err)
		}
		if s.AccessToken != "" || s.User != nil {
			t.Fatalf("expected cleared session, got %+v", s)
		}
		assertNothingPersisted(t, store)
	})
}

func TestSignupDoesNotLogIn(t *testing.T) {
	api := newStub()
	m := New(api, tokenstore.NewMemory())

	u, err := m.Signup(context.Background(), market.SignupInput{FullName: "Bo", Phone: "555", Password: "pw"})
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if u.ID != 99 {
		t.Fatalf("unexpected user: %+v", u)
	}
	if s := m.Snapshot(); s.AccessToken != "" || s.User != nil {
		t.Fatalf("signup must not log in: %+v", s)
	}
	if _, err := m.Signup(context.Background(), market.SignupInput{Phone: "555", Password: "pw"}); !errors.Is(err, market.ErrValidationFailure) {
		t.Fatalf("expected validation failure, got %v", err)
	}
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "1",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte("test"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestRestoreSession(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	t.Run("no token", func(t *testing.T) {
		api := newStub()
		m := New(api, tokenstore.NewMemory())
		s, err := m.RestoreSession(context.Background())
		if err != nil {
			t.Fatalf("RestoreSession: %v", err)
		}
		if s.Loading || s.State != Unauthenticated || api.meCalls != 0 {
			t.Fatalf("unexpected: session=%+v meCalls=%d", s, api.meCalls)
		}
	})

	t.Run("valid token", func(t *testing.T) {
		api := newStub()
		store := tokenstore.NewMemory()
		_ = store.Save(context.Background(), market.TokenPair{AccessToken: signedToken(t, now.Add(time.Hour))})
		m := New(api, store, WithClock(func() time.Time { return now }))
		s, err := m.RestoreSession(context.Background())
		if err != nil {
			t.Fatalf("RestoreSession: %v", err)
		}
		if !s.Authenticated() || s.Loading {
			t.Fatalf("expected authenticated session, got %+v", s)
		}
		exp, ok := s.ExpiresAt()
		if !ok || !exp.Equal(now.Add(time.Hour)) {
			t.Fatalf("unexpected expiry %v %v", exp, ok)
		}
	})

	t.Run("expired token skips network", func(t *testing.T) {
		api := newStub()
		store := tokenstore.NewMemory()
		_ = store.Save(context.Background(), market.TokenPair{AccessToken: signedToken(t, now.Add(-time.Minute)), RefreshToken: "r"})
		m := New(api, store, WithClock(func() time.Time { return now }))
		s, _ := m.RestoreSession(context.Background())
		if s.AccessToken != "" || api.meCalls != 0 {
			t.Fatalf("expected cleared session without identity fetch, got %+v meCalls=%d", s, api.meCalls)
		}
		if persisted, _ := store.Load(context.Background()); !persisted.Empty() {
			t.Fatalf("expected tokens cleared, got %+v", persisted)
		}
	})

	t.Run("identity failure clears", func(t *testing.T) {
		api := newStub()
		api.meErr = &market.RemoteError{Kind: market.ErrAuthorizationFailure, Status: 401}
		store := tokenstore.NewMemory()
		_ = store.Save(context.Background(), market.TokenPair{AccessToken: "opaque", RefreshToken: "r"})
		m := New(api, store)
		s, err := m.RestoreSession(context.Background())
		if err != nil {
			t.Fatalf("RestoreSession: %v", err)
		}
		if s.AccessToken != "" || s.User != nil || s.Loading {
			t.Fatalf("expected cleared session, got %+v", s)
		}
		if persisted, _ := store.Load(context.Background()); !persisted.Empty() {
			t.Fatalf("expected tokens cleared, got %+v", persisted)
		}
	})

	t.Run("runs once", func(t *testing.T) {
		api := newStub()
		store := tokenstore.NewMemory()
		_ = store.Save(context.Background(), market.TokenPair{AccessToken: "opaque"})
		m := New(api, store)
		_, _ = m.RestoreSession(context.Background())
		_, _ = m.RestoreSession(context.Background())
		if api.meCalls != 1 {
			t.Fatalf("expected a single identity fetch, got %d", api.meCalls)
		}
	})
}

func TestHandleUnauthorizedClearsAndRedirectsOnce(t *testing.T) {
	api := newStub()
	store := tokenstore.NewMemory()
	var redirects int32
	m := New(api, store, WithNavigator(NavigatorFunc(func() { atomic.AddInt32(&redirects, 1) })))
	if _, err := m.Login(context.Background(), "5551234", "rightpw"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	m.HandleUnauthorized("/orders/my/", "acc-1")
	m.HandleUnauthorized("/products/my/", "acc-1")
	m.HandleUnauthorized("/orders/my/sales/", "")

	if got := atomic.LoadInt32(&redirects); got != 1 {
		t.Fatalf("expected exactly one redirect, got %d", got)
	}
	if s := m.Snapshot(); s.AccessToken != "" || s.User != nil || s.State != Unauthenticated {
		t.Fatalf("expected cleared session, got %+v", s)
	}
	if persisted, _ := store.Load(context.Background()); !persisted.Empty() {
		t.Fatalf("expected tokens cleared, got %+v", persisted)
	}
}

func TestHandleUnauthorizedIgnoresLoginAndStaleTokens(t *testing.T) {
	api := newStub()
	var redirects int32
	m := New(api, tokenstore.NewMemory(), WithNavigator(NavigatorFunc(func() { atomic.AddInt32(&redirects, 1) })))
	if _, err := m.Login(context.Background(), "5551234", "rightpw"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	m.HandleUnauthorized(apiclient.PathLogin, "acc-1")
	m.HandleUnauthorized("/orders/", "token-from-a-previous-session")

	if atomic.LoadInt32(&redirects) != 0 {
		t.Fatal("expected no redirect")
	}
	if !m.Snapshot().Authenticated() {
		t.Fatal("session should survive ignored 401s")
	}
}

func TestUnauthorizedDuringLoginDoesNotRedirect(t *testing.T) {
	api := newStub()
	var redirects int32
	m := New(api, tokenstore.NewMemory(), WithNavigator(NavigatorFunc(func() { atomic.AddInt32(&redirects, 1) })))
	api.meErr = &market.RemoteError{Kind: market.ErrAuthorizationFailure, Status: 401}
	api.meHook = func() { m.HandleUnauthorized(apiclient.PathMe, "acc-1") }

	_, err := m.Login(context.Background(), "5551234", "rightpw")
	if !errors.Is(err, market.ErrIntegrity) {
		t.Fatalf("expected integrity error, got %v", err)
	}
	if atomic.LoadInt32(&redirects) != 0 {
		t.Fatal("login surface must not redirect to itself")
	}
}

func TestEventsPublished(t *testing.T) {
	api := newStub()
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := bus.Subscribe(ctx)

	m := New(api, tokenstore.NewMemory(), WithBus(bus))
	if _, err := m.Login(context.Background(), "5551234", "rightpw"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	m.HandleUnauthorized("/orders/", "acc-1")

	want := []struct {
		kind EventKind
		to   State
	}{
		{EventStateChanged, Authenticating},
		{EventStateChanged, Authenticated},
		{EventStateChanged, Unauthenticated},
		{EventForcedLogout, Unauthenticated},
	}
	for i, w := range want {
		select {
		case evt := <-events:
			if evt.Kind != w.kind || evt.To != w.to {
				t.Fatalf("event %d: got %s->%s (%s), want %s (%s)", i, evt.From, evt.To, evt.Kind, w.to, w.kind)
			}
		case <-time.After(time.Second):
			t.Fatalf("event %d not received", i)
		}
	}
}

func TestSessionInvariantAcrossSequences(t *testing.T) {
	type step func(m *Manager, api *stubAPI)
	steps := map[string]step{
		"login-ok": func(m *Manager, api *stubAPI) {
			api.meErr = nil
			_, _ = m.Login(context.Background(), "5551234", "rightpw")
		},
		"login-bad": func(m *Manager, api *stubAPI) { _, _ = m.Login(context.Background(), "5551234", "wrongpw") },
		"login-integ": func(m *Manager, api *stubAPI) {
			api.meErr = errors.New("down")
			_, _ = m.Login(context.Background(), "5551234", "rightpw")
		},
		"logout":  func(m *Manager, api *stubAPI) { m.Logout(context.Background()) },
		"401":     func(m *Manager, api *stubAPI) { tok, _ := m.AccessToken(); m.HandleUnauthorized("/orders/", tok) },
		"restore": func(m *Manager, api *stubAPI) { _, _ = m.RestoreSession(context.Background()) },
	}
	names := []string{"login-ok", "login-bad", "login-integ", "logout", "401", "restore"}

	for _, a := range names {
		for _, b := range names {
			for _, c := range names {
				api := newStub()
				m := New(api, tokenstore.NewMemory())
				for _, name := range []string{a, b, c} {
					steps[name](m, api)
					assertConsistent(t, m)
				}
			}
		}
	}
}

func TestAttachWiresClientPolicy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/auth/login":
			_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "acc-live"})
		case "/users/me/get":
			if r.Header.Get("Authorization") != "Bearer acc-live" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(market.User{ID: 5, FullName: "Cy Seller"})
		default:
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Token expired"}`))
		}
	}))
	defer srv.Close()

	client, err := apiclient.New(srv.URL, apiclient.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("apiclient.New: %v", err)
	}
	var redirects int32
	m := New(client, tokenstore.NewMemory(), WithNavigator(NavigatorFunc(func() { atomic.AddInt32(&redirects, 1) })))
	m.Attach(client)

	s, err := m.Login(context.Background(), "5551234", "rightpw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if s.User == nil || s.User.FullName != "Cy Seller" || s.RefreshToken != "" {
		t.Fatalf("unexpected session: %+v", s)
	}

	if _, err := client.ListMyOrders(context.Background()); !errors.Is(err, market.ErrAuthorizationFailure) {
		t.Fatalf("expected authorization failure, got %v", err)
	}
	if atomic.LoadInt32(&redirects) != 1 {
		t.Fatalf("expected one redirect, got %d", redirects)
	}
	if _, ok := m.CurrentUser(); ok {
		t.Fatal("expected user cleared after 401")
	}
}
