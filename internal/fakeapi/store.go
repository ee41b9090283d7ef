package fakeapi

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"storefront.org/internal/market"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrPhoneTaken        = errors.New("phone already registered")
	ErrBadCredentials    = errors.New("incorrect phone or password")
	ErrInsufficientStock = errors.New("not enough stock")
	ErrOwnProduct        = errors.New("cannot order your own product")
	ErrInactiveProduct   = errors.New("product is not available")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrInvalidTransition = errors.New("status change not allowed")
	ErrOrderLocked       = errors.New("only pending orders can be changed")
)

// serverTransitions is the authoritative status machine. The client only
// offers a subset of it.
var serverTransitions = map[market.OrderStatus][]market.OrderStatus{
	market.OrderPending:   {market.OrderConfirmed, market.OrderCompleted, market.OrderCancelled},
	market.OrderConfirmed: {market.OrderCompleted, market.OrderCancelled},
}

type account struct {
	user market.User
	hash string
}

// Store keeps users, products and orders in memory.
type Store struct {
	mu       sync.RWMutex
	now      func() time.Time
	nextID   int64
	users    map[int64]*account
	phones   map[string]int64
	products map[int64]*market.Product
	orders   map[int64]*market.Order
	idem     map[string]int64 // buyer+key -> order id
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		now:      time.Now,
		users:    make(map[int64]*account),
		phones:   make(map[string]int64),
		products: make(map[int64]*market.Product),
		orders:   make(map[int64]*market.Order),
		idem:     make(map[string]int64),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// CreateUser registers an account with an already hashed password.
func (s *Store) CreateUser(in market.SignupInput, hash string) (market.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.phones[in.Phone]; ok {
		return market.User{}, ErrPhoneTaken
	}
	u := market.User{ID: s.id(), FullName: in.FullName, Phone: in.Phone, Avatar: in.Avatar}
	s.users[u.ID] = &account{user: u, hash: hash}
	s.phones[in.Phone] = u.ID
	return u, nil
}

// UserByPhone returns the user and password hash for phone.
func (s *Store) UserByPhone(phone string) (market.User, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.phones[phone]
	if !ok {
		return market.User{}, "", ErrNotFound
	}
	acc := s.users[id]
	return acc.user, acc.hash, nil
}

// User returns the user with id.
func (s *Store) User(id int64) (market.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.users[id]
	if !ok {
		return market.User{}, ErrNotFound
	}
	return acc.user, nil
}

func copyProduct(p *market.Product) market.Product {
	out := *p
	out.Images = append([]string{}, p.Images...)
	return out
}

// CreateProduct adds a listing owned by owner.
func (s *Store) CreateProduct(owner int64, in market.ProductInput) market.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &market.Product{
		ID:          s.id(),
		OwnerID:     owner,
		Title:       in.Title,
		Description: in.Description,
		Price:       in.Price,
		Stock:       in.Stock,
		Category:    in.Category,
		Images:      append([]string{}, in.Images...),
		Status:      market.ProductActive,
		CreatedAt:   s.now().UTC(),
	}
	if p.Images == nil {
		p.Images = []string{}
	}
	s.products[p.ID] = p
	return copyProduct(p)
}

// Product returns one listing.
func (s *Store) Product(id int64) (market.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return market.Product{}, ErrNotFound
	}
	return copyProduct(p), nil
}

// Products lists listings matching f. A zero owner matches everyone.
func (s *Store) Products(f market.ProductFilter, owner int64) []market.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	search := strings.ToLower(strings.TrimSpace(f.Search))
	out := []market.Product{}
	for _, p := range s.products {
		if owner != 0 && p.OwnerID != owner {
			continue
		}
		if f.Category != "" && !strings.EqualFold(p.Category, f.Category) {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(p.Title+" "+p.Description), search) {
			continue
		}
		out = append(out, copyProduct(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if f.Skip > 0 {
		if f.Skip >= len(out) {
			return []market.Product{}
		}
		out = out[f.Skip:]
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out
}

// UpdateProduct replaces the editable fields of a listing owned by owner.
func (s *Store) UpdateProduct(owner, id int64, in market.ProductInput) (market.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return market.Product{}, ErrNotFound
	}
	if p.OwnerID != owner {
		return market.Product{}, ErrForbidden
	}
	p.Title = in.Title
	p.Description = in.Description
	p.Price = in.Price
	p.Stock = in.Stock
	p.Category = in.Category
	p.Images = append([]string{}, in.Images...)
	return copyProduct(p), nil
}

// DeleteProduct removes a listing owned by owner.
func (s *Store) DeleteProduct(owner, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return ErrNotFound
	}
	if p.OwnerID != owner {
		return ErrForbidden
	}
	delete(s.products, id)
	return nil
}

func (s *Store) sellerOf(o *market.Order) int64 {
	if p, ok := s.products[o.ProductID]; ok {
		return p.OwnerID
	}
	return 0
}

func sortedOrders(in []market.Order) []market.Order {
	sort.Slice(in, func(i, j int) bool { return in[i].ID < in[j].ID })
	return in
}

// Orders lists every order regardless of viewer.
func (s *Store) Orders() []market.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []market.Order{}
	for _, o := range s.orders {
		out = append(out, *o)
	}
	return sortedOrders(out)
}

// OrdersVisibleTo lists the orders viewer bought or sold.
func (s *Store) OrdersVisibleTo(viewer int64) []market.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []market.Order{}
	for _, o := range s.orders {
		if o.BuyerID == viewer || s.sellerOf(o) == viewer {
			out = append(out, *o)
		}
	}
	return sortedOrders(out)
}

// OrdersByBuyer lists orders placed by buyer.
func (s *Store) OrdersByBuyer(buyer int64) []market.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []market.Order{}
	for _, o := range s.orders {
		if o.BuyerID == buyer {
			out = append(out, *o)
		}
	}
	return sortedOrders(out)
}

// OrdersBySeller lists orders placed against products owned by seller.
func (s *Store) OrdersBySeller(seller int64) []market.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []market.Order{}
	for _, o := range s.orders {
		if s.sellerOf(o) == seller {
			out = append(out, *o)
		}
	}
	return sortedOrders(out)
}

// Order returns an order visible to its buyer or seller.
func (s *Store) Order(viewer, id int64) (market.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return market.Order{}, ErrNotFound
	}
	if o.BuyerID != viewer && s.sellerOf(o) != viewer {
		return market.Order{}, ErrForbidden
	}
	return *o, nil
}

// CreateOrder reserves stock and records a pending order. A repeated
// idempotency key from the same buyer returns the first order unchanged.
func (s *Store) CreateOrder(buyer int64, in market.OrderInput, idemKey string) (market.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scoped := ""
	if idemKey != "" {
		scoped = strconv.FormatInt(buyer, 10) + ":" + idemKey
		if id, ok := s.idem[scoped]; ok {
			return *s.orders[id], true, nil
		}
	}

	p, ok := s.products[in.ProductID]
	if !ok {
		return market.Order{}, false, ErrNotFound
	}
	if p.OwnerID == buyer {
		return market.Order{}, false, ErrOwnProduct
	}
	if p.Status != market.ProductActive {
		return market.Order{}, false, ErrInactiveProduct
	}
	if p.Stock < in.Quantity {
		return market.Order{}, false, ErrInsufficientStock
	}
	p.Stock -= in.Quantity

	o := &market.Order{
		ID:         s.id(),
		ProductID:  p.ID,
		BuyerID:    buyer,
		Quantity:   in.Quantity,
		TotalPrice: p.Price.Mul(decimal.NewFromInt(int64(in.Quantity))),
		Status:     market.OrderPending,
		Message:    in.Message,
		OrderDate:  s.now().UTC(),
	}
	s.orders[o.ID] = o
	if scoped != "" {
		s.idem[scoped] = o.ID
	}
	return *o, false, nil
}

// UpdateOrder lets the buyer change quantity or message of a pending order.
func (s *Store) UpdateOrder(buyer, id int64, in market.OrderUpdate) (market.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return market.Order{}, ErrNotFound
	}
	if o.BuyerID != buyer {
		return market.Order{}, ErrForbidden
	}
	if o.Status != market.OrderPending {
		return market.Order{}, ErrOrderLocked
	}
	if in.Quantity != nil && *in.Quantity != o.Quantity {
		p, ok := s.products[o.ProductID]
		if !ok {
			return market.Order{}, ErrNotFound
		}
		delta := *in.Quantity - o.Quantity
		if p.Stock < delta {
			return market.Order{}, ErrInsufficientStock
		}
		p.Stock -= delta
		o.Quantity = *in.Quantity
		o.TotalPrice = p.Price.Mul(decimal.NewFromInt(int64(o.Quantity)))
	}
	if in.Message != nil {
		o.Message = in.Message
	}
	return *o, nil
}

// SetStatus applies a status change requested by the seller. Cancelling
// returns the reserved stock.
func (s *Store) SetStatus(seller, id int64, status market.OrderStatus) (market.Order, error) {
	if !status.Known() {
		return market.Order{}, ErrInvalidStatus
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return market.Order{}, ErrNotFound
	}
	if s.sellerOf(o) != seller {
		return market.Order{}, ErrForbidden
	}
	allowed := false
	for _, next := range serverTransitions[o.Status] {
		if next == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return market.Order{}, ErrInvalidTransition
	}
	if status == market.OrderCancelled {
		if p, ok := s.products[o.ProductID]; ok {
			p.Stock += o.Quantity
		}
	}
	o.Status = status
	return *o, nil
}

// DeleteOrder removes an order of buyer. Pending orders give their stock back.
func (s *Store) DeleteOrder(buyer, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	if o.BuyerID != buyer {
		return ErrForbidden
	}
	if o.Status == market.OrderPending {
		if p, ok := s.products[o.ProductID]; ok {
			p.Stock += o.Quantity
		}
	}
	delete(s.orders, id)
	return nil
}
