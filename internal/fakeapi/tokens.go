package fakeapi

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"storefront.org/internal/market"
)

const issuer = "storefront-fakeapi"

// ErrInvalidToken indicates the token failed validation or was revoked.
var ErrInvalidToken = errors.New("invalid token")

// Issuer signs HS256 access tokens and tracks revoked token IDs.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time
}

// NewIssuer creates an issuer. A non-positive ttl defaults to 30 minutes.
func NewIssuer(secret []byte, ttl time.Duration) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("token secret is empty")
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Issuer{secret: secret, ttl: ttl, now: time.Now, revoked: make(map[string]time.Time)}, nil
}

// Issue returns a token pair for userID. The refresh token is opaque.
func (i *Issuer) Issue(userID int64) (market.TokenPair, error) {
	now := i.now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return market.TokenPair{}, fmt.Errorf("sign token: %w", err)
	}
	return market.TokenPair{AccessToken: signed, RefreshToken: uuid.NewString()}, nil
}

// Parse verifies token and returns the user ID and token ID it carries.
func (i *Issuer) Parse(token string) (int64, string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, "", ErrInvalidToken
	}
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return i.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(i.now))
	if err != nil || !parsed.Valid {
		return 0, "", ErrInvalidToken
	}
	uid, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || uid <= 0 {
		return 0, "", ErrInvalidToken
	}
	i.mu.Lock()
	_, revoked := i.revoked[claims.ID]
	i.mu.Unlock()
	if revoked {
		return 0, "", ErrInvalidToken
	}
	return uid, claims.ID, nil
}

// Revoke invalidates the token with jti until it would have expired anyway.
func (i *Issuer) Revoke(jti string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	now := i.now()
	for id, until := range i.revoked {
		if now.After(until) {
			delete(i.revoked, id)
		}
	}
	i.revoked[jti] = now.Add(i.ttl)
}

// HashPassword hashes a plaintext password with bcrypt.
func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares a plaintext password with a stored hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
