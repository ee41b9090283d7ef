package fakeapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"storefront.org/internal/market"
)

func (s *Server) signup(w http.ResponseWriter, r *http.Request) {
	var in market.SignupInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	in.FullName = strings.TrimSpace(in.FullName)
	in.Phone = strings.TrimSpace(in.Phone)
	if err := market.Validate(in); err != nil {
		writeValidationErr(w, r, err)
		return
	}
	hash, err := HashPassword(in.Password, s.cost)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	u, err := s.store.CreateUser(in, hash)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	s.audit(r, "auth.signup", map[string]any{"user_id": u.ID})
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid form body")
		return
	}
	phone := strings.TrimSpace(r.PostForm.Get("username"))
	password := r.PostForm.Get("password")
	if phone == "" {
		writeValidation(w, r, "username", "field required")
		return
	}
	if password == "" {
		writeValidation(w, r, "password", "field required")
		return
	}

	u, hash, err := s.store.UserByPhone(phone)
	if err == nil {
		err = VerifyPassword(hash, password)
	}
	if err != nil {
		s.audit(r, "auth.login.rejected", map[string]any{"phone": phone})
		unauthorized(w, r, "Incorrect phone or password")
		return
	}
	pair, err := s.tokens.Issue(u.ID)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	s.audit(r, "auth.login", map[string]any{"user_id": u.ID})
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"token_type":    "bearer",
	})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.tokens.Revoke(tokenIDFromContext(r.Context()))
	s.audit(r, "auth.logout", nil)
	writeJSON(w, http.StatusOK, map[string]string{"detail": "Successfully logged out"})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	u, err := s.store.User(userFromContext(r.Context()))
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func parseFilter(r *http.Request) (market.ProductFilter, error) {
	q := r.URL.Query()
	f := market.ProductFilter{
		Category: strings.TrimSpace(q.Get("category")),
		Search:   strings.TrimSpace(q.Get("search")),
		Status:   market.ProductStatus(strings.TrimSpace(q.Get("status"))),
	}
	for name, dst := range map[string]*int{"skip": &f.Skip, "limit": &f.Limit} {
		raw := strings.TrimSpace(q.Get(name))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return market.ProductFilter{}, errors.New(name + " must be a non-negative integer")
		}
		*dst = n
	}
	return f, nil
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.store.Products(f, 0))
}

func (s *Server) listMyProducts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Products(market.ProductFilter{}, userFromContext(r.Context())))
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, "Not found")
		return
	}
	p, err := s.store.Product(id)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func decodeProduct(w http.ResponseWriter, r *http.Request) (market.ProductInput, bool) {
	var in market.ProductInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return in, false
	}
	in.Title = strings.TrimSpace(in.Title)
	if err := market.Validate(in); err != nil {
		writeValidationErr(w, r, err)
		return in, false
	}
	if in.Price.IsNegative() {
		writeValidation(w, r, "price", "price must not be negative")
		return in, false
	}
	return in, true
}

func (s *Server) createProduct(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeProduct(w, r)
	if !ok {
		return
	}
	p := s.store.CreateProduct(userFromContext(r.Context()), in)
	s.audit(r, "product.create", map[string]any{"product_id": p.ID})
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) updateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, "Not found")
		return
	}
	in, ok := decodeProduct(w, r)
	if !ok {
		return
	}
	p, err := s.store.UpdateProduct(userFromContext(r.Context()), id, in)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	s.audit(r, "product.update", map[string]any{"product_id": p.ID})
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, "Not found")
		return
	}
	if err := s.store.DeleteProduct(userFromContext(r.Context()), id); err != nil {
		handleStoreError(w, r, err)
		return
	}
	s.audit(r, "product.delete", map[string]any{"product_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.OrdersVisibleTo(userFromContext(r.Context())))
}

func (s *Server) listMyOrders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.OrdersByBuyer(userFromContext(r.Context())))
}

func (s *Server) listMySales(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.OrdersBySeller(userFromContext(r.Context())))
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, "Not found")
		return
	}
	o, err := s.store.Order(userFromContext(r.Context()), id)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	var in market.OrderInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := market.Validate(in); err != nil {
		writeValidationErr(w, r, err)
		return
	}
	idem := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if len(idem) > 128 {
		writeError(w, r, http.StatusBadRequest, "Idempotency-Key too long")
		return
	}

	o, replayed, err := s.store.CreateOrder(userFromContext(r.Context()), in, idem)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	if idem != "" {
		w.Header().Set("Idempotency-Key", idem)
	}
	event := "order.create"
	if replayed {
		event = "order.create.idempotent_replay"
	}
	s.audit(r, event, map[string]any{"order_id": o.ID, "product_id": o.ProductID, "quantity": o.Quantity})
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) updateOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, "Not found")
		return
	}
	var in market.OrderUpdate
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := market.Validate(in); err != nil {
		writeValidationErr(w, r, err)
		return
	}
	o, err := s.store.UpdateOrder(userFromContext(r.Context()), id, in)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	s.audit(r, "order.update", map[string]any{"order_id": o.ID})
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) setOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, "Not found")
		return
	}
	status := market.OrderStatus(strings.TrimSpace(r.URL.Query().Get("new_status")))
	if status == "" {
		writeValidation(w, r, "new_status", "field required")
		return
	}
	o, err := s.store.SetStatus(userFromContext(r.Context()), id, status)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	s.audit(r, "order.status", map[string]any{"order_id": o.ID, "status": string(o.Status)})
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) deleteOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, "Not found")
		return
	}
	if err := s.store.DeleteOrder(userFromContext(r.Context()), id); err != nil {
		handleStoreError(w, r, err)
		return
	}
	s.audit(r, "order.delete", map[string]any{"order_id": id})
	w.WriteHeader(http.StatusNoContent)
}
