package cart

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestDeriveWithFlatPricing(t *testing.T) {
	policy := FlatPricing{TaxRate: d("0.08"), FlatShipping: d("4.99")}

	totals := Derive([]Priced{
		{Quantity: 2, UnitPrice: d("25.00")},
		{Quantity: 1, UnitPrice: d("9.90")},
	}, policy)

	require.True(t, totals.Subtotal.Equal(d("59.90")), "subtotal %s", totals.Subtotal)
	require.True(t, totals.Tax.Equal(d("4.79")), "tax %s", totals.Tax)
	require.True(t, totals.Shipping.Equal(d("4.99")))
	require.True(t, totals.Total.Equal(d("69.68")), "total %s", totals.Total)
}

func TestDeriveEmptyCartWaivesShipping(t *testing.T) {
	policy := FlatPricing{TaxRate: d("0.08"), FlatShipping: d("4.99")}

	totals := Derive(nil, policy)
	require.True(t, totals.Subtotal.IsZero())
	require.True(t, totals.Shipping.IsZero())
	require.True(t, totals.Total.IsZero())
}

func TestDeriveZeroPricing(t *testing.T) {
	totals := Derive([]Priced{{Quantity: 3, UnitPrice: d("10.00")}}, ZeroPricing{})
	require.True(t, totals.Total.Equal(totals.Subtotal))
	require.True(t, totals.Total.Equal(d("30.00")))
}
