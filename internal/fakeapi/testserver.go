package fakeapi

import (
	"context"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"storefront.org/internal/market"
)

// Register creates an account directly in the store, bypassing HTTP.
func (s *Server) Register(fullName, phone, password string) (market.User, error) {
	hash, err := HashPassword(password, s.cost)
	if err != nil {
		return market.User{}, err
	}
	return s.store.CreateUser(market.SignupInput{FullName: fullName, Phone: phone, Password: password}, hash)
}

// NewTestServer starts the API on a loopback httptest server that is closed
// when the test ends. Rate limiting is off and bcrypt uses its minimum cost.
func NewTestServer(t testing.TB) (*Server, *httptest.Server) {
	t.Helper()
	s, err := New(NewStore(), Options{
		Secret:     []byte("fakeapi-test-secret"),
		BcryptCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("fakeapi.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(s.Handler(ctx))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return s, srv
}
