package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"storefront.org/internal/market"
	"storefront.org/internal/storefront"
)

func printProducts(w io.Writer, products []market.Product) {
	if len(products) == 0 {
		fmt.Fprintln(w, "  (none)")
		return
	}
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  ID\tTITLE\tPRICE\tSTOCK\tCATEGORY\tSTATUS\tIMAGES")
	for _, p := range products {
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%d\t%s\t%s\t%s\n",
			p.ID, p.Title, p.Price.StringFixed(2), p.Stock, p.Category, p.Status, strings.Join(p.Images, ", "))
	}
	_ = tw.Flush()
}

func printOrders(w io.Writer, g *storefront.Gateway, orders []market.Order) {
	if len(orders) == 0 {
		fmt.Fprintln(w, "  (none)")
		return
	}
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  ID\tPRODUCT\tQTY\tTOTAL\tSTATUS\tDATE\tNEXT")
	for _, o := range orders {
		next := make([]string, 0, 3)
		for _, s := range g.AllowedTransitions(o) {
			next = append(next, string(s))
		}
		fmt.Fprintf(tw, "  %d\t%d\t%d\t%s\t%s\t%s\t%s\n",
			o.ID, o.ProductID, o.Quantity, o.TotalPrice.StringFixed(2), o.Status,
			o.OrderDate.Local().Format("2006-01-02 15:04"), strings.Join(next, "|"))
	}
	_ = tw.Flush()
}
