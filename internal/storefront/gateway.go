// Package storefront is the surface the UI talks to for orders and products.
// It checks what can be checked locally and otherwise relays to the API; the
// server stays the only authority on order state.
package storefront

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"storefront.org/internal/market"
	"storefront.org/internal/obs"
)

// Fallback texts shown when an error carries no message of its own.
const (
	FallbackLoadOrders    = "Failed to load orders"
	FallbackLoadProducts  = "Failed to load products"
	FallbackCreateOrder   = "Failed to create order"
	FallbackUpdateOrder   = "Failed to update order"
	FallbackUpdateStatus  = "Failed to update order status"
	FallbackDeleteOrder   = "Failed to delete order"
	FallbackCreateProduct = "Failed to create product"
	FallbackUpdateProduct = "Failed to update product"
	FallbackDeleteProduct = "Failed to delete product"
)

// API is the part of the REST client the gateway relays to.
type API interface {
	ListOrders(ctx context.Context) ([]market.Order, error)
	ListMyOrders(ctx context.Context) ([]market.Order, error)
	ListMySales(ctx context.Context) ([]market.Order, error)
	GetOrder(ctx context.Context, id int64) (market.Order, error)
	CreateOrder(ctx context.Context, in market.OrderInput) (market.Order, error)
	UpdateOrder(ctx context.Context, id int64, in market.OrderUpdate) (market.Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, status market.OrderStatus) (market.Order, error)
	DeleteOrder(ctx context.Context, id int64) error

	ListProducts(ctx context.Context, f market.ProductFilter) ([]market.Product, error)
	GetProduct(ctx context.Context, id int64) (market.Product, error)
	ListMyProducts(ctx context.Context) ([]market.Product, error)
	CreateProduct(ctx context.Context, in market.ProductInput) (market.Product, error)
	UpdateProduct(ctx context.Context, id int64, in market.ProductInput) (market.Product, error)
	DeleteProduct(ctx context.Context, id int64) error
}

// SessionView is the read-only view of the session the gateway needs.
type SessionView interface {
	CurrentUser() (market.User, bool)
}

// Gateway exposes order and product operations to the UI.
type Gateway struct {
	api     API
	session SessionView
}

// New creates a gateway.
func New(api API, session SessionView) *Gateway {
	return &Gateway{api: api, session: session}
}

func (g *Gateway) requireUser(action string) (market.User, error) {
	u, ok := g.session.CurrentUser()
	if !ok {
		return market.User{}, fmt.Errorf("%s: %w: login required", action, market.ErrAuthorizationFailure)
	}
	return u, nil
}

// ListAsBuyer returns the orders the current user placed.
func (g *Gateway) ListAsBuyer(ctx context.Context) ([]market.Order, error) {
	orders, err := g.api.ListMyOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("list buyer orders: %w", err)
	}
	return orders, nil
}

// ListAsSeller returns the orders placed against the current user's products.
// Any failure yields an empty list; a 401 has already been handled by the
// session by the time it gets here.
func (g *Gateway) ListAsSeller(ctx context.Context) []market.Order {
	orders, err := g.api.ListMySales(ctx)
	if err != nil {
		obs.Logger().Warn("seller orders unavailable", zap.Error(err))
		return []market.Order{}
	}
	if orders == nil {
		return []market.Order{}
	}
	return orders
}

// ListAll returns every order the API exposes to the current user.
func (g *Gateway) ListAll(ctx context.Context) ([]market.Order, error) {
	orders, err := g.api.ListOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// GetOrder fetches one order.
func (g *Gateway) GetOrder(ctx context.Context, id int64) (market.Order, error) {
	o, err := g.api.GetOrder(ctx, id)
	if err != nil {
		return market.Order{}, fmt.Errorf("get order %d: %w", id, err)
	}
	return o, nil
}

// CreateOrder places an order for quantity units of productID. Stock is not
// checked here and the caller's product list is not touched; the server
// decides and the caller re-fetches.
func (g *Gateway) CreateOrder(ctx context.Context, productID int64, quantity int, message string) (market.Order, error) {
	if _, err := g.requireUser("create order"); err != nil {
		return market.Order{}, err
	}
	in := market.OrderInput{ProductID: productID, Quantity: quantity}
	if msg := strings.TrimSpace(message); msg != "" {
		in.Message = &msg
	}
	if err := market.Validate(in); err != nil {
		return market.Order{}, err
	}
	o, err := g.api.CreateOrder(ctx, in)
	if err != nil {
		return market.Order{}, fmt.Errorf("create order: %w", err)
	}
	return o, nil
}

// UpdateOrder changes quantity or message of an order.
func (g *Gateway) UpdateOrder(ctx context.Context, id int64, in market.OrderUpdate) (market.Order, error) {
	if _, err := g.requireUser("update order"); err != nil {
		return market.Order{}, err
	}
	if err := market.Validate(in); err != nil {
		return market.Order{}, err
	}
	o, err := g.api.UpdateOrder(ctx, id, in)
	if err != nil {
		return market.Order{}, fmt.Errorf("update order %d: %w", id, err)
	}
	return o, nil
}

// SetStatus asks the server to move an order to status. The status is sent
// unchecked, whether or not AllowedTransitions offers it, and the returned
// order is the server's view.
func (g *Gateway) SetStatus(ctx context.Context, id int64, status market.OrderStatus) (market.Order, error) {
	if _, err := g.requireUser("set order status"); err != nil {
		return market.Order{}, err
	}
	o, err := g.api.UpdateOrderStatus(ctx, id, status)
	if err != nil {
		return market.Order{}, fmt.Errorf("set order %d status %s: %w", id, status, err)
	}
	return o, nil
}

// AllowedTransitions lists the status targets to offer for o.
func (g *Gateway) AllowedTransitions(o market.Order) []market.OrderStatus {
	return market.AllowedTransitions(o.Status)
}

// DeleteOrder removes an order.
func (g *Gateway) DeleteOrder(ctx context.Context, id int64) error {
	if _, err := g.requireUser("delete order"); err != nil {
		return err
	}
	if err := g.api.DeleteOrder(ctx, id); err != nil {
		return fmt.Errorf("delete order %d: %w", id, err)
	}
	return nil
}
