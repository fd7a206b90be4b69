package checkout

import (
	"context"
	"regexp"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/annakotova/braid_shop/internal/cart"
	"github.com/annakotova/braid_shop/internal/catalog"
	"github.com/annakotova/braid_shop/internal/inventory"
	"github.com/annakotova/braid_shop/internal/models"
	"github.com/annakotova/braid_shop/internal/shoperr"
)

type fixture struct {
	db     *gorm.DB
	engine *cart.Engine
	ledger *inventory.Ledger
	orch   *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	engine := cart.NewEngine(db, catalog.NewReader(db, nil),
		cart.FlatPricing{TaxRate: decimal.RequireFromString("0.10"), FlatShipping: decimal.RequireFromString("5.00")})
	ledger := inventory.NewLedger(db)
	return &fixture{
		db:     db,
		engine: engine,
		ledger: ledger,
		orch:   NewOrchestrator(db, engine, ledger, nil),
	}
}

func (f *fixture) product(t *testing.T, slug, price string, stock int) *models.Product {
	t.Helper()
	p := models.Product{
		Slug:      slug,
		Name:      "product " + slug,
		Price:     decimal.RequireFromString(price),
		Available: true,
		Sizes:     []models.ProductSize{{Size: "M"}},
	}
	require.NoError(t, f.db.Create(&p).Error)
	if stock > 0 {
		require.NoError(t, f.ledger.Adjust(context.Background(), f.db, p.ID, stock, models.ReasonRestock, "seed"))
	}
	return &p
}

func (f *fixture) cartWith(t *testing.T, lines ...struct {
	productID uint
	qty       int
}) *models.Cart {
	t.Helper()
	crt, err := f.engine.GetOrCreate(context.Background(), "", nil)
	require.NoError(t, err)
	for _, l := range lines {
		_, err := f.engine.AddOrMerge(context.Background(), crt.ID, l.productID, "M", "", l.qty)
		require.NoError(t, err)
	}
	return crt
}

func (f *fixture) stock(t *testing.T, productID uint) int {
	t.Helper()
	var p models.Product
	require.NoError(t, f.db.First(&p, productID).Error)
	return p.StockQuantity
}

func line(productID uint, qty int) struct {
	productID uint
	qty       int
} {
	return struct {
		productID uint
		qty       int
	}{productID, qty}
}

func validDetails() CustomerDetails {
	return CustomerDetails{
		Name:            "Anna K",
		Email:           "anna@example.com",
		ShippingAddress: "1 Braid Street",
	}
}

var orderNumberPattern = regexp.MustCompile(`^BR-\d{14}-\d{4}$`)

func TestCheckoutHappyPath(t *testing.T) {
	f := newFixture(t)
	a := f.product(t, "braid-a", "25.00", 5)
	b := f.product(t, "braid-b", "10.00", 5)
	crt := f.cartWith(t, line(b.ID, 1), line(a.ID, 2))

	receipt, err := f.orch.Checkout(context.Background(), crt, validDetails())
	require.NoError(t, err)
	require.Regexp(t, orderNumberPattern, receipt.OrderNumber)

	// stock reserved through the ledger
	require.Equal(t, 3, f.stock(t, a.ID))
	require.Equal(t, 4, f.stock(t, b.ID))
	sum, err := f.ledger.Sum(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, 3, sum)

	// cart cleared
	var remaining int64
	require.NoError(t, f.db.Model(&models.CartItem{}).Where("cart_id = ?", crt.ID).Count(&remaining).Error)
	require.Zero(t, remaining)

	var order models.Order
	require.NoError(t, f.db.Preload("Items").First(&order, receipt.OrderID).Error)
	require.Equal(t, models.OrderStatusPending, order.Status)
	require.Len(t, order.Items, 2)
	// items snapshot follows reservation order, ascending product id
	require.Equal(t, a.ID, order.Items[0].ProductID)
	require.Equal(t, b.ID, order.Items[1].ProductID)

	// subtotal 60.00, tax 6.00, shipping 5.00
	require.True(t, order.Subtotal.Equal(decimal.RequireFromString("60.00")), "subtotal %s", order.Subtotal)
	require.True(t, order.Tax.Equal(decimal.RequireFromString("6.00")))
	require.True(t, order.Total.Equal(decimal.RequireFromString("71.00")), "total %s", order.Total)

	// billing defaulted to shipping
	require.Equal(t, "1 Braid Street", order.BillingAddress)
}

func TestCheckoutShortfallRollsBackEverything(t *testing.T) {
	f := newFixture(t)
	plenty := f.product(t, "plenty", "10.00", 10)
	scarce := f.product(t, "scarce", "10.00", 1)
	crt := f.cartWith(t, line(plenty.ID, 2))

	// bypass the engine cap check with a direct update so the cart asks for
	// more than the shelf holds
	_, err := f.engine.AddOrMerge(context.Background(), crt.ID, scarce.ID, "M", "", 1)
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&models.CartItem{}).
		Where("cart_id = ? AND product_id = ?", crt.ID, scarce.ID).
		Update("quantity", 3).Error)

	_, err = f.orch.Checkout(context.Background(), crt, validDetails())
	require.Equal(t, shoperr.KindInsufficientStock, shoperr.KindOf(err))

	var se *shoperr.StockError
	require.ErrorAs(t, err, &se)
	require.Equal(t, scarce.ID, se.ProductID)
	require.Equal(t, 3, se.Requested)
	require.Equal(t, 1, se.Available)

	// the reservation for the earlier line was rolled back too
	require.Equal(t, 10, f.stock(t, plenty.ID))
	require.Equal(t, 1, f.stock(t, scarce.ID))

	var placed int64
	require.NoError(t, f.db.Model(&models.InventoryEvent{}).
		Where("reason = ?", models.ReasonOrderPlaced).Count(&placed).Error)
	require.Zero(t, placed)

	// cart survives for a retry
	var remaining int64
	require.NoError(t, f.db.Model(&models.CartItem{}).Where("cart_id = ?", crt.ID).Count(&remaining).Error)
	require.EqualValues(t, 2, remaining)

	var orders int64
	require.NoError(t, f.db.Model(&models.Order{}).Count(&orders).Error)
	require.Zero(t, orders)
}

func TestCheckoutEmptyCart(t *testing.T) {
	f := newFixture(t)
	crt := f.cartWith(t)

	_, err := f.orch.Checkout(context.Background(), crt, validDetails())
	require.Equal(t, shoperr.KindEmptyCart, shoperr.KindOf(err))
}

func TestCheckoutValidationFailsClosed(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "valid-braid", "10.00", 5)
	crt := f.cartWith(t, line(p.ID, 1))

	cases := []CustomerDetails{
		{Email: "a@b.com", ShippingAddress: "x"},              // no name
		{Name: "A", ShippingAddress: "x"},                     // no email
		{Name: "A", Email: "a@b.com"},                         // no address
		{Name: "A", Email: "not-an-email", ShippingAddress: "x"},
		{Name: "A", Email: "@example.com", ShippingAddress: "x"},
	}
	for _, details := range cases {
		_, err := f.orch.Checkout(context.Background(), crt, details)
		require.Equal(t, shoperr.KindValidation, shoperr.KindOf(err), "details %+v", details)
	}

	// nothing was reserved by any rejected attempt
	require.Equal(t, 5, f.stock(t, p.ID))
}

func TestCheckoutUnavailableProduct(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "pulled-braid", "10.00", 5)
	crt := f.cartWith(t, line(p.ID, 1))

	require.NoError(t, f.db.Model(&models.Product{}).Where("id = ?", p.ID).
		Update("available", false).Error)

	_, err := f.orch.Checkout(context.Background(), crt, validDetails())
	require.Equal(t, shoperr.KindOutOfStock, shoperr.KindOf(err))
	require.Equal(t, 5, f.stock(t, p.ID))
}

func TestOrderSnapshotSurvivesPriceChange(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "fixed-braid", "20.00", 5)
	crt := f.cartWith(t, line(p.ID, 1))

	receipt, err := f.orch.Checkout(context.Background(), crt, validDetails())
	require.NoError(t, err)

	require.NoError(t, f.db.Model(&models.Product{}).Where("id = ?", p.ID).
		Update("price", decimal.RequireFromString("99.00")).Error)

	var order models.Order
	require.NoError(t, f.db.Preload("Items").First(&order, receipt.OrderID).Error)
	require.True(t, order.Items[0].UnitPrice.Equal(decimal.RequireFromString("20.00")))
	require.True(t, order.Subtotal.Equal(decimal.RequireFromString("20.00")))
}

func TestCancelReleasesStock(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "cancel-braid", "10.00", 5)
	crt := f.cartWith(t, line(p.ID, 3))

	receipt, err := f.orch.Checkout(context.Background(), crt, validDetails())
	require.NoError(t, err)
	require.Equal(t, 2, f.stock(t, p.ID))

	require.NoError(t, f.orch.Cancel(context.Background(), receipt.OrderID, nil))
	require.Equal(t, 5, f.stock(t, p.ID))

	sum, err := f.ledger.Sum(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, 5, sum)

	var order models.Order
	require.NoError(t, f.db.First(&order, receipt.OrderID).Error)
	require.Equal(t, models.OrderStatusCancelled, order.Status)

	// a second cancel is rejected, stock stays put
	err = f.orch.Cancel(context.Background(), receipt.OrderID, nil)
	require.Equal(t, shoperr.KindValidation, shoperr.KindOf(err))
	require.Equal(t, 5, f.stock(t, p.ID))
}

func TestCancelEnforcesOwnership(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "owned-braid", "10.00", 5)

	userID := uint(42)
	crt, err := f.engine.GetOrCreate(context.Background(), "", &userID)
	require.NoError(t, err)
	_, err = f.engine.AddOrMerge(context.Background(), crt.ID, p.ID, "M", "", 1)
	require.NoError(t, err)

	receipt, err := f.orch.Checkout(context.Background(), crt, validDetails())
	require.NoError(t, err)

	other := uint(43)
	err = f.orch.Cancel(context.Background(), receipt.OrderID, &other)
	require.Equal(t, shoperr.KindNotFound, shoperr.KindOf(err))

	require.NoError(t, f.orch.Cancel(context.Background(), receipt.OrderID, &userID))
}

func TestUpdateStatusOneStepForward(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "status-braid", "10.00", 5)
	crt := f.cartWith(t, line(p.ID, 1))

	receipt, err := f.orch.Checkout(context.Background(), crt, validDetails())
	require.NoError(t, err)

	// skipping a step is rejected
	err = f.orch.UpdateStatus(context.Background(), receipt.OrderID, models.OrderStatusShipped)
	require.Equal(t, shoperr.KindValidation, shoperr.KindOf(err))

	// cancellation must go through Cancel
	err = f.orch.UpdateStatus(context.Background(), receipt.OrderID, models.OrderStatusCancelled)
	require.Equal(t, shoperr.KindValidation, shoperr.KindOf(err))

	for _, status := range []string{
		models.OrderStatusProcessing,
		models.OrderStatusShipped,
		models.OrderStatusDelivered,
	} {
		require.NoError(t, f.orch.UpdateStatus(context.Background(), receipt.OrderID, status))
	}

	// delivered is terminal
	err = f.orch.UpdateStatus(context.Background(), receipt.OrderID, models.OrderStatusProcessing)
	require.Equal(t, shoperr.KindValidation, shoperr.KindOf(err))
}
