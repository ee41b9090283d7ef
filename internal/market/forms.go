package market

import (
	"errors"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks the struct tags of an input and reports the first failing
// field as a ValidationError.
func Validate(v any) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return Invalid("", err.Error())
	}
	fe := verrs[0]
	return Invalid(fe.Field(), describe(fe))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "gte":
		return fe.Field() + " must be at least " + fe.Param()
	case "gt":
		return fe.Field() + " must be greater than " + fe.Param()
	case "max":
		return fe.Field() + " is too long"
	default:
		return fe.Field() + " is invalid"
	}
}

// ProductForm is the raw text a user typed into the product editor.
type ProductForm struct {
	Title       string
	Description string
	Price       string
	Stock       string
	Category    string
	Images      string
}

// Parse converts the form into a ProductInput. Price and stock must parse as
// non-negative numbers; images are comma separated.
func (f ProductForm) Parse() (ProductInput, error) {
	in := ProductInput{
		Title:       strings.TrimSpace(f.Title),
		Description: strings.TrimSpace(f.Description),
		Category:    strings.TrimSpace(f.Category),
		Images:      ParseImages(f.Images),
	}
	if in.Title == "" {
		return ProductInput{}, Invalid("title", "title is required")
	}

	price, err := ParsePrice(f.Price)
	if err != nil {
		return ProductInput{}, err
	}
	in.Price = price

	stock, err := ParseStock(f.Stock)
	if err != nil {
		return ProductInput{}, err
	}
	in.Stock = stock

	if err := Validate(in); err != nil {
		return ProductInput{}, err
	}
	return in, nil
}

// ParsePrice parses a non-negative decimal price.
func ParsePrice(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, Invalid("price", "price is required")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, Invalid("price", "price must be a number")
	}
	if d.IsNegative() {
		return decimal.Zero, Invalid("price", "price must not be negative")
	}
	return d, nil
}

// ParseStock parses a non-negative integer stock count.
func ParseStock(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, Invalid("stock", "stock is required")
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, Invalid("stock", "stock must be a whole number")
	}
	if n < 0 {
		return 0, Invalid("stock", "stock must not be negative")
	}
	return n, nil
}

// ParseImages splits a comma separated list of URLs, trimming each item and
// keeping the original order. Empty items are dropped.
func ParseImages(raw string) []string {
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
