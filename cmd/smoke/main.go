package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"storefront.org/internal/apiclient"
	"storefront.org/internal/market"
	"storefront.org/internal/session"
	"storefront.org/internal/session/tokenstore"
	"storefront.org/internal/storefront"
)

type actor struct {
	session *session.Manager
	gateway *storefront.Gateway
}

func main() {
	log.SetFlags(0)
	baseURL := flag.String("base-url", envOr("STOREFRONT_API_BASE_URL", "http://localhost:8000/api"), "API base URL")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	suffix := fmt.Sprintf("%08d", rand.IntN(100_000_000))
	seller := signupAndLogin(ctx, *baseURL, "Smoke Seller", "71"+suffix)
	buyer := signupAndLogin(ctx, *baseURL, "Smoke Buyer", "72"+suffix)

	p, err := seller.gateway.CreateProduct(ctx, market.ProductForm{
		Title: "Smoke lamp " + suffix, Price: "19.99", Stock: "4", Category: "smoke", Images: "one.jpg, two.jpg",
	})
	if err != nil {
		log.Fatalf("create product: %v", err)
	}
	if len(p.Images) != 2 || p.Images[0] != "one.jpg" {
		log.Fatalf("images not preserved: %q", p.Images)
	}

	if _, err := buyer.gateway.CreateOrder(ctx, p.ID, 0, ""); err == nil {
		log.Fatal("zero quantity order was accepted")
	}
	o, err := buyer.gateway.CreateOrder(ctx, p.ID, 3, "smoke")
	if err != nil {
		log.Fatalf("create order: %v", err)
	}
	want := decimal.RequireFromString("59.97")
	if !o.TotalPrice.Equal(want) {
		log.Fatalf("unexpected total %s, want %s", o.TotalPrice, want)
	}

	sales := seller.gateway.ListAsSeller(ctx)
	found := false
	for _, s := range sales {
		found = found || s.ID == o.ID
	}
	if !found {
		log.Fatalf("order %d missing from seller projection", o.ID)
	}

	if _, err := seller.gateway.SetStatus(ctx, o.ID, market.OrderConfirmed); err != nil {
		log.Fatalf("confirm order: %v", err)
	}
	again, err := buyer.gateway.GetOrder(ctx, o.ID)
	if err != nil {
		log.Fatalf("re-fetch order: %v", err)
	}
	if again.Status != market.OrderConfirmed {
		log.Fatalf("expected confirmed, got %s", again.Status)
	}

	buyer.session.Logout(ctx)
	seller.session.Logout(ctx)
	fmt.Printf("storefront smoke test passed: product=%d order=%d\n", p.ID, o.ID)
}

func signupAndLogin(ctx context.Context, baseURL, name, phone string) actor {
	client, err := apiclient.New(baseURL, apiclient.WithUserAgent("storefront-smoke"))
	if err != nil {
		log.Fatalf("client: %v", err)
	}
	mgr := session.New(client, tokenstore.NewMemory(), session.WithNavigator(session.NavigatorFunc(func() {
		log.Fatalf("%s was logged out unexpectedly", name)
	})))
	mgr.Attach(client)
	if _, err := mgr.Signup(ctx, market.SignupInput{FullName: name, Phone: phone, Password: "smoke-" + phone}); err != nil {
		log.Fatalf("signup %s: %v", name, err)
	}
	if _, err := mgr.Login(ctx, phone, "smoke-"+phone); err != nil {
		log.Fatalf("login %s: %v", name, err)
	}
	return actor{session: mgr, gateway: storefront.New(client, mgr)}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
