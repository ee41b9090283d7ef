package tokenstore

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"storefront.org/internal/market"
)

// Redis stores the pair under <prefix>access_token and <prefix>refresh_token.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// OpenRedis connects using a redis:// URL and verifies the connection.
func OpenRedis(ctx context.Context, rawURL, prefix string) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedis(client, prefix), nil
}

func (r *Redis) key(name string) string { return r.prefix + name }

func (r *Redis) Load(ctx context.Context) (market.TokenPair, error) {
	vals, err := r.client.MGet(ctx, r.key(KeyAccessToken), r.key(KeyRefreshToken)).Result()
	if err != nil {
		return market.TokenPair{}, fmt.Errorf("load tokens: %w", err)
	}
	var pair market.TokenPair
	if len(vals) == 2 {
		pair.AccessToken, _ = vals[0].(string)
		pair.RefreshToken, _ = vals[1].(string)
	}
	return pair, nil
}

func (r *Redis) Save(ctx context.Context, pair market.TokenPair) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, kv := range [][2]string{{KeyAccessToken, pair.AccessToken}, {KeyRefreshToken, pair.RefreshToken}} {
			if kv[1] == "" {
				p.Del(ctx, r.key(kv[0]))
				continue
			}
			p.Set(ctx, r.key(kv[0]), kv[1], 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save tokens: %w", err)
	}
	return nil
}

func (r *Redis) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key(KeyAccessToken), r.key(KeyRefreshToken)).Err(); err != nil {
		return fmt.Errorf("clear tokens: %w", err)
	}
	return nil
}

func (r *Redis) Close() error { return r.client.Close() }
