package market

import "github.com/shopspring/decimal"

func init() {
	// The API sends and expects prices as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}
