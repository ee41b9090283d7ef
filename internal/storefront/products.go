package storefront

import (
	"context"
	"fmt"

	"storefront.org/internal/market"
)

// ListProducts returns the public catalogue.
func (g *Gateway) ListProducts(ctx context.Context, f market.ProductFilter) ([]market.Product, error) {
	products, err := g.api.ListProducts(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

// GetProduct fetches one product.
func (g *Gateway) GetProduct(ctx context.Context, id int64) (market.Product, error) {
	p, err := g.api.GetProduct(ctx, id)
	if err != nil {
		return market.Product{}, fmt.Errorf("get product %d: %w", id, err)
	}
	return p, nil
}

// ListMyProducts returns the current user's listings.
func (g *Gateway) ListMyProducts(ctx context.Context) ([]market.Product, error) {
	if _, err := g.requireUser("list my products"); err != nil {
		return nil, err
	}
	products, err := g.api.ListMyProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list my products: %w", err)
	}
	return products, nil
}

// CreateProduct submits a new listing. The form must parse before anything
// is sent.
func (g *Gateway) CreateProduct(ctx context.Context, form market.ProductForm) (market.Product, error) {
	if _, err := g.requireUser("create product"); err != nil {
		return market.Product{}, err
	}
	in, err := form.Parse()
	if err != nil {
		return market.Product{}, err
	}
	p, err := g.api.CreateProduct(ctx, in)
	if err != nil {
		return market.Product{}, fmt.Errorf("create product: %w", err)
	}
	return p, nil
}

// UpdateProduct replaces the editable fields of a listing.
func (g *Gateway) UpdateProduct(ctx context.Context, id int64, form market.ProductForm) (market.Product, error) {
	if _, err := g.requireUser("update product"); err != nil {
		return market.Product{}, err
	}
	in, err := form.Parse()
	if err != nil {
		return market.Product{}, err
	}
	p, err := g.api.UpdateProduct(ctx, id, in)
	if err != nil {
		return market.Product{}, fmt.Errorf("update product %d: %w", id, err)
	}
	return p, nil
}

// DeleteProduct removes a listing.
func (g *Gateway) DeleteProduct(ctx context.Context, id int64) error {
	if _, err := g.requireUser("delete product"); err != nil {
		return err
	}
	if err := g.api.DeleteProduct(ctx, id); err != nil {
		return fmt.Errorf("delete product %d: %w", id, err)
	}
	return nil
}
