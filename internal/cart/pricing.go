package cart

import "github.com/shopspring/decimal"

// PricingPolicy supplies the tax and shipping rules applied on top of the
// cart subtotal. It is injected so the derivation stays testable and the
// shop can swap policies without touching the engine.
type PricingPolicy interface {
	Tax(subtotal decimal.Decimal) decimal.Decimal
	Shipping(subtotal decimal.Decimal) decimal.Decimal
}

// ZeroPricing charges no tax and no shipping.
type ZeroPricing struct{}

func (ZeroPricing) Tax(decimal.Decimal) decimal.Decimal      { return decimal.Zero }
func (ZeroPricing) Shipping(decimal.Decimal) decimal.Decimal { return decimal.Zero }

// FlatPricing applies a proportional tax rate and a flat shipping fee
// (waived on an empty subtotal).
type FlatPricing struct {
	TaxRate      decimal.Decimal
	FlatShipping decimal.Decimal
}

func (p FlatPricing) Tax(subtotal decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(p.TaxRate).Round(2)
}

func (p FlatPricing) Shipping(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.IsZero() {
		return decimal.Zero
	}
	return p.FlatShipping
}

type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Shipping decimal.Decimal `json:"shipping"`
	Total    decimal.Decimal `json:"total"`
}

// Priced is one line as the derivation sees it: a quantity at the product's
// current unit price.
type Priced struct {
	Quantity  int
	UnitPrice decimal.Decimal
}

// Derive computes totals from the line snapshot. Pure: no storage access.
func Derive(lines []Priced, policy PricingPolicy) Totals {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	tax := policy.Tax(subtotal)
	shipping := policy.Shipping(subtotal)
	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Total:    subtotal.Add(tax).Add(shipping),
	}
}
