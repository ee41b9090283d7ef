package apiclient

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"storefront.org/internal/market"
)

func productPath(id int64) string {
	return "/products/" + strconv.FormatInt(id, 10)
}

func filterQuery(f market.ProductFilter) url.Values {
	q := url.Values{}
	if v := strings.TrimSpace(f.Category); v != "" {
		q.Set("category", v)
	}
	if v := strings.TrimSpace(f.Search); v != "" {
		q.Set("search", v)
	}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	if f.Skip > 0 {
		q.Set("skip", strconv.Itoa(f.Skip))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	return q
}

// ListProducts returns the public catalogue.
func (c *Client) ListProducts(ctx context.Context, f market.ProductFilter) ([]market.Product, error) {
	var out []market.Product
	if err := c.do(ctx, call{method: http.MethodGet, path: "/products/", query: filterQuery(f)}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetProduct fetches one product.
func (c *Client) GetProduct(ctx context.Context, id int64) (market.Product, error) {
	var p market.Product
	if err := c.do(ctx, call{method: http.MethodGet, path: productPath(id)}, &p); err != nil {
		return market.Product{}, err
	}
	return p, nil
}

// ListMyProducts returns the products owned by the current user.
func (c *Client) ListMyProducts(ctx context.Context) ([]market.Product, error) {
	var out []market.Product
	if err := c.do(ctx, call{method: http.MethodGet, path: "/products/my/"}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateProduct creates a product owned by the current user.
func (c *Client) CreateProduct(ctx context.Context, in market.ProductInput) (market.Product, error) {
	var p market.Product
	if err := c.do(ctx, call{method: http.MethodPost, path: "/products/", body: in}, &p); err != nil {
		return market.Product{}, err
	}
	return p, nil
}

// UpdateProduct replaces a product owned by the current user.
func (c *Client) UpdateProduct(ctx context.Context, id int64, in market.ProductInput) (market.Product, error) {
	var p market.Product
	if err := c.do(ctx, call{method: http.MethodPut, path: productPath(id), body: in}, &p); err != nil {
		return market.Product{}, err
	}
	return p, nil
}

// DeleteProduct removes a product owned by the current user.
func (c *Client) DeleteProduct(ctx context.Context, id int64) error {
	return c.do(ctx, call{method: http.MethodDelete, path: productPath(id)}, nil)
}
