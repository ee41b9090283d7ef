package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"storefront.org/internal/market"
)

// Paths of the auth endpoints.
const (
	PathSignup = "/auth/signup"
	PathLogin  = "/auth/login"
	PathLogout = "/auth/logout"
	PathMe     = "/users/me/get"
)

// Signup registers a new account.
func (c *Client) Signup(ctx context.Context, in market.SignupInput) (market.User, error) {
	var u market.User
	if err := c.do(ctx, call{method: http.MethodPost, path: PathSignup, body: in}, &u); err != nil {
		return market.User{}, err
	}
	return u, nil
}

// Login exchanges phone and password for a token pair. A rejected credential
// is reported as market.ErrAuthenticationFailure.
func (c *Client) Login(ctx context.Context, phone, password string) (market.TokenPair, error) {
	form := url.Values{}
	form.Set("username", phone)
	form.Set("password", password)

	var pair market.TokenPair
	err := c.do(ctx, call{
		method:             http.MethodPost,
		path:               PathLogin,
		form:               form,
		credentialExchange: true,
	}, &pair)
	if err != nil {
		return market.TokenPair{}, err
	}
	if pair.AccessToken == "" {
		return market.TokenPair{}, fmt.Errorf("%w: no access token in login response", market.ErrAuthenticationFailure)
	}
	return pair, nil
}

// Logout asks the server to invalidate the current token.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, call{method: http.MethodPost, path: PathLogout}, nil)
}

// Me fetches the identity behind the current access token.
func (c *Client) Me(ctx context.Context) (market.User, error) {
	var u market.User
	if err := c.do(ctx, call{method: http.MethodGet, path: PathMe}, &u); err != nil {
		return market.User{}, err
	}
	return u, nil
}
