package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"

	"storefront.org/internal/apiclient"
	"storefront.org/internal/audit"
	"storefront.org/internal/config"
	"storefront.org/internal/ids"
	"storefront.org/internal/obs"
	"storefront.org/internal/session"
	"storefront.org/internal/session/tokenstore"
	"storefront.org/internal/storefront"
)

var version = "0.1.0"

type app struct {
	out     io.Writer
	client  *apiclient.Client
	store   tokenstore.Store
	session *session.Manager
	gateway *storefront.Gateway
}

type command struct {
	usage string
	run   func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"login":          {"login -phone P [-password X]", runLogin},
	"logout":         {"logout", runLogout},
	"signup":         {"signup -name N -phone P [-password X]", runSignup},
	"whoami":         {"whoami", runWhoami},
	"products":       {"products [-category C] [-search S] [-skip N] [-limit N]", runProducts},
	"product-create": {"product-create -title T -price P -stock N [-description D] [-category C] [-images a.jpg,b.jpg]", runProductCreate},
	"product-update": {"product-update -id ID -title T -price P -stock N [...]", runProductUpdate},
	"product-delete": {"product-delete -id ID", runProductDelete},
	"orders":         {"orders [-as buyer|seller|all]", runOrders},
	"order-create":   {"order-create -product ID [-quantity N] [-message M]", runOrderCreate},
	"order-update":   {"order-update -id ID [-quantity N] [-message M]", runOrderUpdate},
	"order-status":   {"order-status -id ID -status S", runOrderStatus},
	"order-delete":   {"order-delete -id ID", runOrderDelete},
	"home":           {"home", runHome},
	"profile":        {"profile", runProfile},
}

func main() {
	configPath := flag.String("config", os.Getenv("STOREFRONT_CONFIG"), "path to a YAML config file")
	timeout := flag.Duration("timeout", time.Minute, "overall deadline for the command")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[flag.Arg(0)]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", flag.Arg(0))
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	obs.InitLogger(cfg.Env)
	defer func() { _ = obs.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx = audit.WithCorrelationID(ctx, ids.New())

	a, err := newApp(ctx, cfg, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	if err := cmd.run(ctx, a, flag.Args()[1:]); err != nil {
		obs.Logger().Debug("command failed", zap.String("command", flag.Arg(0)), zap.Error(err))
		fmt.Fprintln(os.Stderr, "error:", errorText(err))
		os.Exit(1)
	}
}

func newApp(ctx context.Context, cfg *config.Config, out io.Writer) (*app, error) {
	client, err := apiclient.New(cfg.API.BaseURL,
		apiclient.WithTimeout(cfg.API.Timeout),
		apiclient.WithRetry(cfg.API.Retry),
		apiclient.WithRateLimit(cfg.API.RatePerSec, cfg.API.Burst),
		apiclient.WithUserAgent("storefront-cli/"+version),
	)
	if err != nil {
		return nil, err
	}
	store, err := tokenstore.Open(ctx, cfg.Tokens)
	if err != nil {
		return nil, err
	}
	nav := session.NavigatorFunc(func() {
		fmt.Fprintln(os.Stderr, "Your session has ended. Run `storefront login` to sign in again.")
	})
	mgr := session.New(client, store, session.WithNavigator(nav))
	mgr.Attach(client)
	if _, err := mgr.RestoreSession(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return &app{
		out:     out,
		client:  client,
		store:   store,
		session: mgr,
		gateway: storefront.New(client, mgr),
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		obs.Logger().Warn("close token store", zap.Error(err))
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: storefront [-config file] [-timeout d] <command> [flags]\n\ncommands:\n")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %s\n", commands[name].usage)
	}
}
