package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"storefront.org/internal/config"
	"storefront.org/internal/fakeapi"
	"storefront.org/internal/market"
	"storefront.org/internal/obs"
)

var version = "0.1.0"

func main() {
	configPath := flag.String("config", os.Getenv("STOREFRONT_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		obs.InitLogger("dev")
		obs.Logger().Fatal("load config", zap.Error(err))
	}
	obs.InitLogger(cfg.Env)
	defer func() { _ = obs.Sync() }()
	obs.Init()
	obs.InitBuildInfo("fakeapi", version)
	log := obs.Logger()

	store := fakeapi.NewStore()
	api, err := fakeapi.New(store, fakeapi.Options{
		Secret:     []byte(cfg.FakeAPI.Secret),
		TokenTTL:   cfg.FakeAPI.TokenTTL,
		RatePerSec: cfg.FakeAPI.RatePerSec,
		Burst:      cfg.FakeAPI.Burst,
		Prefix:     cfg.FakeAPI.Prefix,
	})
	if err != nil {
		log.Fatal("build api", zap.Error(err))
	}
	if cfg.FakeAPI.Seed {
		if err := seed(api); err != nil {
			log.Fatal("seed", zap.Error(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              cfg.FakeAPI.Addr,
		Handler:           api.Handler(ctx),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("starting fakeapi", zap.String("version", version), zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}
	log.Info("stopped")
}

// seed creates two demo accounts and a small catalogue.
func seed(api *fakeapi.Server) error {
	seller, err := api.Register("Demo Seller", "70000000001", "seller123")
	if err != nil {
		return err
	}
	if _, err := api.Register("Demo Buyer", "70000000002", "buyer123"); err != nil {
		return err
	}
	catalogue := []market.ProductInput{
		{Title: "Desk lamp", Description: "Warm light", Price: decimal.RequireFromString("24.90"), Stock: 12, Category: "home", Images: []string{"lamp.jpg"}},
		{Title: "Ceramic mug", Description: "350 ml", Price: decimal.RequireFromString("8.50"), Stock: 40, Category: "kitchen", Images: []string{"mug-front.jpg", "mug-side.jpg"}},
		{Title: "Notebook", Description: "A5, dotted", Price: decimal.RequireFromString("5"), Stock: 0, Category: "office"},
	}
	for _, in := range catalogue {
		api.Store().CreateProduct(seller.ID, in)
	}
	obs.Logger().Info("seeded demo data", zap.Int64("seller_id", seller.ID), zap.Int("products", len(catalogue)))
	return nil
}
