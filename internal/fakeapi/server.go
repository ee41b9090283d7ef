// Package fakeapi is an in-memory implementation of the storefront REST API.
// It backs the package tests and the local development server.
package fakeapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"storefront.org/internal/audit"
	"storefront.org/internal/market"
	"storefront.org/internal/obs"
)

// Options configures the server.
type Options struct {
	Secret     []byte
	TokenTTL   time.Duration
	BcryptCost int
	// RatePerSec <= 0 disables rate limiting.
	RatePerSec float64
	Burst      int
	// Prefix mounts the API below a path such as "/api".
	Prefix string
}

// Server serves the API from a Store.
type Server struct {
	store  *Store
	tokens *Issuer
	cost   int
	rate   float64
	burst  int
	prefix string
	mux    *http.ServeMux
}

// New builds a server over store.
func New(store *Store, opts Options) (*Server, error) {
	issuer, err := NewIssuer(opts.Secret, opts.TokenTTL)
	if err != nil {
		return nil, err
	}
	cost := opts.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, errors.New("bcrypt cost out of range")
	}
	s := &Server{
		store:  store,
		tokens: issuer,
		cost:   cost,
		rate:   opts.RatePerSec,
		burst:  opts.Burst,
		prefix: strings.TrimRight(opts.Prefix, "/"),
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Store returns the backing store.
func (s *Server) Store() *Store { return s.store }

// Issuer returns the token issuer.
func (s *Server) Issuer() *Issuer { return s.tokens }

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.healthz)
	s.mux.Handle("GET /metrics", obs.Handler())

	s.mux.HandleFunc("POST /auth/signup", s.signup)
	s.mux.HandleFunc("POST /auth/login", s.login)
	s.mux.HandleFunc("POST /auth/logout", s.requireUser(s.logout))
	s.mux.HandleFunc("GET /users/me/get", s.requireUser(s.me))

	s.mux.HandleFunc("GET /products/{$}", s.listProducts)
	s.mux.HandleFunc("POST /products/{$}", s.requireUser(s.createProduct))
	s.mux.HandleFunc("GET /products/my/{$}", s.requireUser(s.listMyProducts))
	s.mux.HandleFunc("GET /products/{id}", s.getProduct)
	s.mux.HandleFunc("PUT /products/{id}", s.requireUser(s.updateProduct))
	s.mux.HandleFunc("DELETE /products/{id}", s.requireUser(s.deleteProduct))

	s.mux.HandleFunc("GET /orders/{$}", s.requireUser(s.listOrders))
	s.mux.HandleFunc("POST /orders/{$}", s.requireUser(s.createOrder))
	s.mux.HandleFunc("GET /orders/my/{$}", s.requireUser(s.listMyOrders))
	s.mux.HandleFunc("GET /orders/my/sales/{$}", s.requireUser(s.listMySales))
	s.mux.HandleFunc("GET /orders/{id}", s.requireUser(s.getOrder))
	s.mux.HandleFunc("PUT /orders/{id}", s.requireUser(s.updateOrder))
	s.mux.HandleFunc("PATCH /orders/{id}/status", s.requireUser(s.setOrderStatus))
	s.mux.HandleFunc("DELETE /orders/{id}", s.requireUser(s.deleteOrder))

	s.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "Not Found")
	})
}

// Handler returns the full middleware chain. ctx bounds background work of
// the rate limiter.
func (s *Server) Handler(ctx context.Context) http.Handler {
	var h http.Handler = s.mux
	if s.prefix != "" {
		h = http.StripPrefix(s.prefix, h)
	}
	if s.rate > 0 {
		burst := s.burst
		if burst <= 0 {
			burst = 1
		}
		h = RateLimit(ctx, h, burst, s.rate)
	}
	h = MaxBodyBytes(h, 1<<20)
	h = obs.Instrument(h)
	h = Logging(h)
	return RequestID(h)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": "storefront-fakeapi"})
}

func (s *Server) audit(r *http.Request, event string, fields map[string]any) {
	ctx := audit.WithCorrelationID(r.Context(), RequestIDFromContext(r.Context()))
	if uid := userFromContext(r.Context()); uid != 0 {
		ctx = audit.WithActor(ctx, strconv.FormatInt(uid, 10))
	}
	if err := audit.LogEvent(ctx, event, fields); err != nil {
		obs.Logger().Warn("audit", zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError uses the {"detail": "..."} body shape clients expect.
func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{"detail": msg}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

type fieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// writeValidation reports field problems as a 422 with a list detail.
func writeValidation(w http.ResponseWriter, r *http.Request, field, msg string) {
	payload := map[string]any{
		"detail": []fieldError{{Loc: []string{"body", field}, Msg: msg, Type: "value_error"}},
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, http.StatusUnprocessableEntity, payload)
}

func writeValidationErr(w http.ResponseWriter, r *http.Request, err error) {
	var verr *market.ValidationError
	if errors.As(err, &verr) {
		writeValidation(w, r, verr.Field, verr.Reason)
		return
	}
	writeValidation(w, r, "", err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil && id > 0
}

func handleStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, r, http.StatusNotFound, "Not found")
	case errors.Is(err, ErrForbidden):
		writeError(w, r, http.StatusForbidden, "Not enough permissions")
	case errors.Is(err, ErrPhoneTaken),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrOwnProduct),
		errors.Is(err, ErrInactiveProduct),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrOrderLocked):
		writeError(w, r, http.StatusBadRequest, sentence(err.Error()))
	default:
		obs.Logger().Error("fakeapi internal error", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
	}
}

func sentence(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
