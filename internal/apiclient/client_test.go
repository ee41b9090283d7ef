package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"storefront.org/internal/market"
)

type staticToken string

func (s staticToken) AccessToken() (string, bool) { return string(s), s != "" }

func newTestClient(t *testing.T, h http.Handler, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL+"/api", append([]Option{WithHTTPClient(srv.Client())}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	for _, raw := range []string{"", "localhost:8000", "://nope"} {
		if _, err := New(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestAttachCredential(t *testing.T) {
	c, err := New("http://example.test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/orders/", nil)
	c.AttachCredential(req)
	if got := req.Header.Get("Authorization"); got != "" {
		t.Fatalf("expected no header without credentials, got %q", got)
	}

	c.SetCredentials(staticToken(""))
	c.AttachCredential(req)
	if got := req.Header.Get("Authorization"); got != "" {
		t.Fatalf("expected no header for empty token, got %q", got)
	}

	c.SetCredentials(staticToken("abc"))
	c.AttachCredential(req)
	if got := req.Header.Get("Authorization"); got != "Bearer abc" {
		t.Fatalf("unexpected header: %q", got)
	}
}

func TestLoginSendsFormAndDecodesTokens(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/login" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("unexpected content type %q", ct)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("username") != "5551234" || r.PostForm.Get("password") != "rightpw" {
			t.Errorf("unexpected form: %v", r.PostForm)
		}
		writeJSON(w, http.StatusOK, map[string]string{"access_token": "acc", "refresh_token": "ref", "token_type": "bearer"})
	}))

	pair, err := c.Login(context.Background(), "5551234", "rightpw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if pair.AccessToken != "acc" || pair.RefreshToken != "ref" {
		t.Fatalf("unexpected pair: %+v", pair)
	}
}

func TestLoginRejectedDoesNotTriggerUnauthorizedHook(t *testing.T) {
	var hooked int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Incorrect phone or password"})
	}), WithUnauthorizedHandler(func(string, string) { atomic.AddInt32(&hooked, 1) }))

	_, err := c.Login(context.Background(), "5551234", "wrongpw")
	if !errors.Is(err, market.ErrAuthenticationFailure) {
		t.Fatalf("expected authentication failure, got %v", err)
	}
	if got := market.UserMessage(err, "Login failed"); got != "Incorrect phone or password" {
		t.Fatalf("unexpected message: %q", got)
	}
	if atomic.LoadInt32(&hooked) != 0 {
		t.Fatal("login 401 must not trigger the unauthorized hook")
	}
}

func TestLoginWithoutAccessToken(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"token_type": "bearer"})
	}))
	if _, err := c.Login(context.Background(), "1", "2"); !errors.Is(err, market.ErrAuthenticationFailure) {
		t.Fatalf("expected authentication failure, got %v", err)
	}
}

func TestUnauthorizedTriggersHookOnce(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer stale" {
			t.Errorf("expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Could not validate credentials"})
	}),
		WithCredentials(staticToken("stale")),
		WithUnauthorizedHandler(func(path, token string) {
			if token != "stale" {
				t.Errorf("expected rejected token to be reported, got %q", token)
			}
			mu.Lock()
			paths = append(paths, path)
			mu.Unlock()
		}),
	)

	_, err := c.ListMyOrders(context.Background())
	if !IsUnauthorized(err) {
		t.Fatalf("expected authorization failure, got %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(paths) != 1 || paths[0] != "/orders/my/" {
		t.Fatalf("expected hook once for /orders/my/, got %v", paths)
	}
}

func TestRetryOnceForIdempotentRequests(t *testing.T) {
	var hits int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, []market.Product{{ID: 1, Title: "Scarf"}})
	}))

	products, err := c.ListProducts(context.Background(), market.ProductFilter{})
	if err != nil {
		t.Fatalf("ListProducts: %v", err)
	}
	if len(products) != 1 || atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("expected one retry, hits=%d products=%v", hits, products)
	}
}

func TestRetryGivesUpAfterSecondAttempt(t *testing.T) {
	var hits int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeJSON(w, http.StatusBadGateway, map[string]string{"detail": "upstream down"})
	}))

	_, err := c.GetOrder(context.Background(), 3)
	var rerr *market.RemoteError
	if !errors.As(err, &rerr) || rerr.Status != http.StatusBadGateway {
		t.Fatalf("expected 502 remote error, got %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestPlainPostIsNotRetried(t *testing.T) {
	var hits int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := c.CreateProduct(context.Background(), market.ProductInput{Title: "x"})
	if !errors.Is(err, market.ErrRemoteRejection) {
		t.Fatalf("expected remote rejection, got %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("expected single attempt, got %d", got)
	}
}

func TestCreateOrderRetryReusesIdempotencyKey(t *testing.T) {
	var (
		mu   sync.Mutex
		keys []string
	)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		n := len(keys)
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusGatewayTimeout)
			return
		}
		var in market.OrderInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode: %v", err)
		}
		writeJSON(w, http.StatusCreated, market.Order{ID: 11, ProductID: in.ProductID, Quantity: in.Quantity, Status: market.OrderPending})
	}))

	o, err := c.CreateOrder(context.Background(), market.OrderInput{ProductID: 7, Quantity: 2})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if o.ID != 11 || o.ProductID != 7 {
		t.Fatalf("unexpected order: %+v", o)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(keys) != 2 || keys[0] == "" || keys[0] != keys[1] {
		t.Fatalf("expected the same idempotency key on both attempts, got %v", keys)
	}
}

func TestNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := New(base, WithRetry(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = c.ListOrders(context.Background())
	if !errors.Is(err, market.ErrNetworkFailure) {
		t.Fatalf("expected network failure, got %v", err)
	}
}

func TestUpdateOrderStatusRequest(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/api/orders/3/status" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.URL.Query().Get("new_status"); got != "confirmed" {
			t.Errorf("unexpected new_status %q", got)
		}
		writeJSON(w, http.StatusOK, market.Order{ID: 3, Status: market.OrderConfirmed})
	}))

	o, err := c.UpdateOrderStatus(context.Background(), 3, market.OrderConfirmed)
	if err != nil {
		t.Fatalf("UpdateOrderStatus: %v", err)
	}
	if o.Status != market.OrderConfirmed {
		t.Fatalf("unexpected status %q", o.Status)
	}
}

func TestFilterQuery(t *testing.T) {
	q := filterQuery(market.ProductFilter{Category: " books ", Limit: 20})
	if q.Encode() != "category=books&limit=20" {
		t.Fatalf("unexpected query: %s", q.Encode())
	}
	if len(filterQuery(market.ProductFilter{})) != 0 {
		t.Fatal("expected empty query for zero filter")
	}
}

func TestExtractMessage(t *testing.T) {
	cases := map[string]string{
		`{"detail":"Not enough stock"}`:                           "Not enough stock",
		`{"detail":[{"msg":"field required"},{"msg":"too big"}]}`: "field required; too big",
		`{"message":"duplicate"}`:                                 "duplicate",
		`{"error":"boom","request_id":"x"}`:                       "boom",
		`Internal Server Error`:                                   "",
		``:                                                        "",
		`{"detail":42}`:                                           "",
	}
	for body, want := range cases {
		if got := extractMessage([]byte(body)); got != want {
			t.Fatalf("extractMessage(%s) = %q, want %q", body, got, want)
		}
	}
}
