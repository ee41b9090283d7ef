package apiclient

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"storefront.org/internal/ids"
	"storefront.org/internal/market"
)

func orderPath(id int64) string {
	return "/orders/" + strconv.FormatInt(id, 10)
}

func (c *Client) listOrders(ctx context.Context, path string) ([]market.Order, error) {
	var out []market.Order
	if err := c.do(ctx, call{method: http.MethodGet, path: path}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListOrders returns every order visible to the current user.
func (c *Client) ListOrders(ctx context.Context) ([]market.Order, error) {
	return c.listOrders(ctx, "/orders/")
}

// ListMyOrders returns the orders placed by the current user.
func (c *Client) ListMyOrders(ctx context.Context) ([]market.Order, error) {
	return c.listOrders(ctx, "/orders/my/")
}

// ListMySales returns the orders placed against the current user's products.
func (c *Client) ListMySales(ctx context.Context) ([]market.Order, error) {
	return c.listOrders(ctx, "/orders/my/sales/")
}

// GetOrder fetches one order.
func (c *Client) GetOrder(ctx context.Context, id int64) (market.Order, error) {
	var o market.Order
	if err := c.do(ctx, call{method: http.MethodGet, path: orderPath(id)}, &o); err != nil {
		return market.Order{}, err
	}
	return o, nil
}

// CreateOrder places an order. The request carries an idempotency key so the
// single retry cannot create a duplicate.
func (c *Client) CreateOrder(ctx context.Context, in market.OrderInput) (market.Order, error) {
	var o market.Order
	err := c.do(ctx, call{
		method:         http.MethodPost,
		path:           "/orders/",
		body:           in,
		idempotencyKey: ids.IdempotencyKey(),
	}, &o)
	if err != nil {
		return market.Order{}, err
	}
	return o, nil
}

// UpdateOrder changes quantity or message of an order.
func (c *Client) UpdateOrder(ctx context.Context, id int64, in market.OrderUpdate) (market.Order, error) {
	var o market.Order
	if err := c.do(ctx, call{method: http.MethodPut, path: orderPath(id), body: in}, &o); err != nil {
		return market.Order{}, err
	}
	return o, nil
}

// UpdateOrderStatus requests a status change. The status is sent as-is.
func (c *Client) UpdateOrderStatus(ctx context.Context, id int64, status market.OrderStatus) (market.Order, error) {
	q := url.Values{}
	q.Set("new_status", string(status))
	var o market.Order
	if err := c.do(ctx, call{method: http.MethodPatch, path: orderPath(id) + "/status", query: q}, &o); err != nil {
		return market.Order{}, err
	}
	return o, nil
}

// DeleteOrder removes an order.
func (c *Client) DeleteOrder(ctx context.Context, id int64) error {
	return c.do(ctx, call{method: http.MethodDelete, path: orderPath(id)}, nil)
}
