package gateway

import "github.com/shopspring/decimal"

// Currency converts store minor units into gateway currency amounts.
//
// Exponent is the store currency's minor-unit exponent (0 for VND, 2 for
// USD). Rate is store currency units per one gateway currency unit.
type Currency struct {
	Code     string
	Exponent int32
	Rate     decimal.Decimal
}

func NewCurrency(code string, exponent int32, rate string) (Currency, error) {
	r := decimal.NewFromInt(1)
	if rate != "" {
		var err error
		if r, err = decimal.NewFromString(rate); err != nil {
			return Currency{}, err
		}
	}
	if code == "" {
		code = "USD"
	}
	return Currency{Code: code, Exponent: exponent, Rate: r}, nil
}

// Convert returns the gateway amount for minor, rounded half away from zero
// to two decimal places.
func (c Currency) Convert(minor int64) decimal.Decimal {
	v := decimal.New(minor, -c.Exponent)
	if c.Rate.IsPositive() {
		v = v.Div(c.Rate)
	}
	return v.Round(2)
}

func (c Currency) Format(d decimal.Decimal) string { return d.StringFixed(2) }
