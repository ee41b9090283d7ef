package storefront

import (
	"context"

	"golang.org/x/sync/errgroup"

	"storefront.org/internal/market"
)

// HomeView is the catalogue page. Each list carries its own error so one
// failed request does not hide the other.
type HomeView struct {
	User        *market.User
	Products    []market.Product
	ProductsErr error
	Orders      []market.Order
	OrdersErr   error
}

// ProfileView is the current user's page.
type ProfileView struct {
	User        market.User
	Products    []market.Product
	ProductsErr error
	Orders      []market.Order
	OrdersErr   error
	Sales       []market.Order
}

// LoadHome fetches products and, for a logged in user, all orders at the
// same time.
func (g *Gateway) LoadHome(ctx context.Context, f market.ProductFilter) HomeView {
	var v HomeView
	u, authed := g.session.CurrentUser()
	if authed {
		v.User = &u
	}

	// Errors stay with their list and never cancel the sibling fetch, so the
	// goroutines return nil and Wait only joins them.
	var eg errgroup.Group
	eg.Go(func() error {
		v.Products, v.ProductsErr = g.ListProducts(ctx, f)
		return nil
	})
	if authed {
		eg.Go(func() error {
			v.Orders, v.OrdersErr = g.ListAll(ctx)
			return nil
		})
	}
	_ = eg.Wait()
	return v
}

// LoadProfile fetches the user's listings, purchases and sales at the same
// time. Sales degrade to an empty list; the other two report their errors.
func (g *Gateway) LoadProfile(ctx context.Context) (ProfileView, error) {
	u, err := g.requireUser("load profile")
	if err != nil {
		return ProfileView{}, err
	}
	v := ProfileView{User: u}

	// Per-list errors, as in LoadHome.
	var eg errgroup.Group
	eg.Go(func() error {
		v.Products, v.ProductsErr = g.api.ListMyProducts(ctx)
		return nil
	})
	eg.Go(func() error {
		v.Orders, v.OrdersErr = g.ListAsBuyer(ctx)
		return nil
	})
	eg.Go(func() error {
		v.Sales = g.ListAsSeller(ctx)
		return nil
	})
	_ = eg.Wait()
	return v, nil
}
