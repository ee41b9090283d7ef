// Package tokenstore persists the access/refresh token pair between runs.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"storefront.org/internal/config"
	"storefront.org/internal/market"
)

// Fixed storage keys.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
)

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("tokenstore: unknown backend")

// Store loads, saves and clears the token pair. Save replaces both values;
// an empty RefreshToken removes a previously stored one.
type Store interface {
	Load(ctx context.Context) (market.TokenPair, error)
	Save(ctx context.Context, pair market.TokenPair) error
	Clear(ctx context.Context) error
	Close() error
}

// Open builds the store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.TokensParams) (Store, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(ctx, cfg.SQLitePath)
	case "postgres":
		return OpenPostgres(ctx, cfg.PostgresDSN)
	case "redis":
		return OpenRedis(ctx, cfg.RedisURL, cfg.RedisPrefix)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// Memory keeps the pair in process memory.
type Memory struct {
	mu   sync.RWMutex
	pair market.TokenPair
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Load(ctx context.Context) (market.TokenPair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pair, nil
}

func (m *Memory) Save(ctx context.Context, pair market.TokenPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pair = pair
	return nil
}

func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pair = market.TokenPair{}
	return nil
}

func (m *Memory) Close() error { return nil }
