package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is the identity record returned by /users/me/get.
type User struct {
	ID        int64   `json:"id"`
	FullName  string  `json:"full_name"`
	Phone     string  `json:"phone"`
	Avatar    *string `json:"avatar,omitempty"`
	About     *string `json:"about,omitempty"`
	BirthDate *string `json:"birth_date,omitempty"`
	Rating    float64 `json:"rating"`
}

// ProductStatus is relayed as-is; only the known values are named.
type ProductStatus string

const (
	ProductActive   ProductStatus = "active"
	ProductInactive ProductStatus = "inactive"
)

// Product is a listing owned by a single user.
type Product struct {
	ID          int64           `json:"id"`
	OwnerID     int64           `json:"owner_id,omitempty"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	Category    string          `json:"category"`
	Images      []string        `json:"images"`
	Status      ProductStatus   `json:"status"`
	CreatedAt   time.Time       `json:"created_at,omitempty"`
}

// ProductInput is the body of product create and update requests.
type ProductInput struct {
	Title       string          `json:"title" validate:"required,max=200"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock" validate:"gte=0"`
	Category    string          `json:"category"`
	Images      []string        `json:"images"`
}

// ProductFilter narrows GET /products/. Zero fields are not sent.
type ProductFilter struct {
	Category string
	Search   string
	Status   ProductStatus
	Skip     int
	Limit    int
}

// Order is one purchase of a product. The same record appears in the buyer's
// and the seller's projection.
type Order struct {
	ID         int64           `json:"id"`
	ProductID  int64           `json:"product_id"`
	BuyerID    int64           `json:"buyer_id"`
	Quantity   int             `json:"quantity"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Status     OrderStatus     `json:"status"`
	Message    *string         `json:"message"`
	OrderDate  time.Time       `json:"order_date"`
}

// OrderInput is the body of POST /orders/.
type OrderInput struct {
	ProductID int64   `json:"product_id" validate:"gt=0"`
	Quantity  int     `json:"quantity" validate:"gte=1"`
	Message   *string `json:"message"`
}

// OrderUpdate is the body of PUT /orders/{id}.
type OrderUpdate struct {
	Quantity *int    `json:"quantity,omitempty" validate:"omitempty,gte=1"`
	Message  *string `json:"message,omitempty"`
}

// SignupInput registers a new account.
type SignupInput struct {
	FullName  string  `json:"full_name" validate:"required"`
	Phone     string  `json:"phone" validate:"required"`
	Password  string  `json:"password" validate:"required"`
	Avatar    *string `json:"avatar,omitempty"`
	About     *string `json:"about,omitempty"`
	BirthDate *string `json:"birth_date,omitempty"`
}

// TokenPair is what the login endpoint issues. RefreshToken may be empty.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Empty reports whether neither token is set.
func (p TokenPair) Empty() bool {
	return p.AccessToken == "" && p.RefreshToken == ""
}
