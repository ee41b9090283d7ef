package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"storefront.org/internal/market"
	"storefront.org/internal/storefront"
)

// userError pairs an error with the message shown for it.
type userError struct {
	msg string
	err error
}

func (e *userError) Error() string { return e.msg + ": " + e.err.Error() }
func (e *userError) Unwrap() error { return e.err }

func fail(err error, fallback string) error {
	if err == nil {
		return nil
	}
	return &userError{msg: market.UserMessage(err, fallback), err: err}
}

func errorText(err error) string {
	var uerr *userError
	if errors.As(err, &uerr) {
		return uerr.msg
	}
	return market.UserMessage(err, err.Error())
}

func newFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%s: %w", fs.Name(), err)
	}
	return nil
}

func password(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("STOREFRONT_PASSWORD")
}

func runLogin(ctx context.Context, a *app, args []string) error {
	fs := newFlags("login")
	phone := fs.String("phone", "", "phone number")
	pw := fs.String("password", "", "password (or STOREFRONT_PASSWORD)")
	if err := parse(fs, args); err != nil {
		return err
	}
	s, err := a.session.Login(ctx, *phone, password(*pw))
	if err != nil {
		return fail(err, "Login failed")
	}
	fmt.Fprintf(a.out, "Logged in as %s (#%d)\n", s.User.FullName, s.User.ID)
	return nil
}

func runLogout(ctx context.Context, a *app, args []string) error {
	a.session.Logout(ctx)
	fmt.Fprintln(a.out, "Logged out")
	return nil
}

func runSignup(ctx context.Context, a *app, args []string) error {
	fs := newFlags("signup")
	name := fs.String("name", "", "full name")
	phone := fs.String("phone", "", "phone number")
	pw := fs.String("password", "", "password (or STOREFRONT_PASSWORD)")
	if err := parse(fs, args); err != nil {
		return err
	}
	u, err := a.session.Signup(ctx, market.SignupInput{FullName: *name, Phone: *phone, Password: password(*pw)})
	if err != nil {
		return fail(err, "Registration failed")
	}
	fmt.Fprintf(a.out, "Registered %s (#%d). Run `storefront login` to sign in.\n", u.FullName, u.ID)
	return nil
}

func runWhoami(ctx context.Context, a *app, args []string) error {
	u, ok := a.session.CurrentUser()
	if !ok {
		fmt.Fprintln(a.out, "Not logged in")
		return nil
	}
	s := a.session.Snapshot()
	fmt.Fprintf(a.out, "%s (#%d, %s)\n", u.FullName, u.ID, u.Phone)
	if exp, ok := s.ExpiresAt(); ok {
		fmt.Fprintf(a.out, "token expires %s\n", exp.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

func runProducts(ctx context.Context, a *app, args []string) error {
	fs := newFlags("products")
	var f market.ProductFilter
	fs.StringVar(&f.Category, "category", "", "category")
	fs.StringVar(&f.Search, "search", "", "search text")
	fs.IntVar(&f.Skip, "skip", 0, "offset")
	fs.IntVar(&f.Limit, "limit", 0, "page size")
	if err := parse(fs, args); err != nil {
		return err
	}
	products, err := a.gateway.ListProducts(ctx, f)
	if err != nil {
		return fail(err, storefront.FallbackLoadProducts)
	}
	printProducts(a.out, products)
	return nil
}

func productFlags(name string) (*flag.FlagSet, *market.ProductForm) {
	fs := newFlags(name)
	form := &market.ProductForm{}
	fs.StringVar(&form.Title, "title", "", "title")
	fs.StringVar(&form.Description, "description", "", "description")
	fs.StringVar(&form.Price, "price", "", "price")
	fs.StringVar(&form.Stock, "stock", "", "units in stock")
	fs.StringVar(&form.Category, "category", "", "category")
	fs.StringVar(&form.Images, "images", "", "comma separated image URLs")
	return fs, form
}

func runProductCreate(ctx context.Context, a *app, args []string) error {
	fs, form := productFlags("product-create")
	if err := parse(fs, args); err != nil {
		return err
	}
	p, err := a.gateway.CreateProduct(ctx, *form)
	if err != nil {
		return fail(err, storefront.FallbackCreateProduct)
	}
	fmt.Fprintf(a.out, "Created product #%d\n", p.ID)
	return nil
}

func runProductUpdate(ctx context.Context, a *app, args []string) error {
	fs, form := productFlags("product-update")
	id := fs.Int64("id", 0, "product ID")
	if err := parse(fs, args); err != nil {
		return err
	}
	p, err := a.gateway.UpdateProduct(ctx, *id, *form)
	if err != nil {
		return fail(err, storefront.FallbackUpdateProduct)
	}
	fmt.Fprintf(a.out, "Updated product #%d\n", p.ID)
	return nil
}

func runProductDelete(ctx context.Context, a *app, args []string) error {
	fs := newFlags("product-delete")
	id := fs.Int64("id", 0, "product ID")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := a.gateway.DeleteProduct(ctx, *id); err != nil {
		return fail(err, storefront.FallbackDeleteProduct)
	}
	fmt.Fprintf(a.out, "Deleted product #%d\n", *id)
	return nil
}

func runOrders(ctx context.Context, a *app, args []string) error {
	fs := newFlags("orders")
	as := fs.String("as", "buyer", "buyer, seller or all")
	if err := parse(fs, args); err != nil {
		return err
	}
	var (
		orders []market.Order
		err    error
	)
	switch strings.ToLower(*as) {
	case "buyer":
		orders, err = a.gateway.ListAsBuyer(ctx)
	case "seller":
		orders = a.gateway.ListAsSeller(ctx)
	case "all":
		orders, err = a.gateway.ListAll(ctx)
	default:
		return fmt.Errorf("orders: unknown view %q", *as)
	}
	if err != nil {
		return fail(err, storefront.FallbackLoadOrders)
	}
	printOrders(a.out, a.gateway, orders)
	return nil
}

func runOrderCreate(ctx context.Context, a *app, args []string) error {
	fs := newFlags("order-create")
	product := fs.Int64("product", 0, "product ID")
	quantity := fs.Int("quantity", 1, "units to order")
	message := fs.String("message", "", "note for the seller")
	if err := parse(fs, args); err != nil {
		return err
	}
	o, err := a.gateway.CreateOrder(ctx, *product, *quantity, *message)
	if err != nil {
		return fail(err, storefront.FallbackCreateOrder)
	}
	fmt.Fprintf(a.out, "Placed order #%d for %s (%s)\n", o.ID, o.TotalPrice.StringFixed(2), o.Status)
	return nil
}

func runOrderUpdate(ctx context.Context, a *app, args []string) error {
	fs := newFlags("order-update")
	id := fs.Int64("id", 0, "order ID")
	quantity := fs.Int("quantity", 0, "new quantity (0 keeps it)")
	message := fs.String("message", "", "new note for the seller")
	if err := parse(fs, args); err != nil {
		return err
	}
	var in market.OrderUpdate
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "quantity":
			in.Quantity = quantity
		case "message":
			in.Message = message
		}
	})
	o, err := a.gateway.UpdateOrder(ctx, *id, in)
	if err != nil {
		return fail(err, storefront.FallbackUpdateOrder)
	}
	fmt.Fprintf(a.out, "Updated order #%d: %d units, %s\n", o.ID, o.Quantity, o.TotalPrice.StringFixed(2))
	return nil
}

func runOrderStatus(ctx context.Context, a *app, args []string) error {
	fs := newFlags("order-status")
	id := fs.Int64("id", 0, "order ID")
	status := fs.String("status", "", "target status")
	if err := parse(fs, args); err != nil {
		return err
	}
	o, err := a.gateway.SetStatus(ctx, *id, market.OrderStatus(strings.TrimSpace(*status)))
	if err != nil {
		return fail(err, storefront.FallbackUpdateStatus)
	}
	fmt.Fprintf(a.out, "Order #%d is now %s\n", o.ID, o.Status)
	return nil
}

func runOrderDelete(ctx context.Context, a *app, args []string) error {
	fs := newFlags("order-delete")
	id := fs.Int64("id", 0, "order ID")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := a.gateway.DeleteOrder(ctx, *id); err != nil {
		return fail(err, storefront.FallbackDeleteOrder)
	}
	fmt.Fprintf(a.out, "Deleted order #%d\n", *id)
	return nil
}

func runHome(ctx context.Context, a *app, args []string) error {
	v := a.gateway.LoadHome(ctx, market.ProductFilter{})
	if v.User != nil {
		fmt.Fprintf(a.out, "Welcome back, %s\n\n", v.User.FullName)
	}
	fmt.Fprintln(a.out, "Products")
	if v.ProductsErr != nil {
		fmt.Fprintln(a.out, "  "+market.UserMessage(v.ProductsErr, storefront.FallbackLoadProducts))
	} else {
		printProducts(a.out, v.Products)
	}
	if v.User == nil {
		return nil
	}
	fmt.Fprintln(a.out, "\nOrders")
	if v.OrdersErr != nil {
		fmt.Fprintln(a.out, "  "+market.UserMessage(v.OrdersErr, storefront.FallbackLoadOrders))
		return nil
	}
	printOrders(a.out, a.gateway, v.Orders)
	return nil
}

func runProfile(ctx context.Context, a *app, args []string) error {
	v, err := a.gateway.LoadProfile(ctx)
	if err != nil {
		return fail(err, "Failed to load profile")
	}
	fmt.Fprintf(a.out, "%s (#%d, %s)\n\nMy products\n", v.User.FullName, v.User.ID, v.User.Phone)
	if v.ProductsErr != nil {
		fmt.Fprintln(a.out, "  "+market.UserMessage(v.ProductsErr, storefront.FallbackLoadProducts))
	} else {
		printProducts(a.out, v.Products)
	}
	fmt.Fprintln(a.out, "\nMy orders")
	if v.OrdersErr != nil {
		fmt.Fprintln(a.out, "  "+market.UserMessage(v.OrdersErr, storefront.FallbackLoadOrders))
	} else {
		printOrders(a.out, a.gateway, v.Orders)
	}
	fmt.Fprintln(a.out, "\nSales")
	printOrders(a.out, a.gateway, v.Sales)
	return nil
}
