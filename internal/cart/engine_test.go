package cart

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/annakotova/braid_shop/internal/catalog"
	"github.com/annakotova/braid_shop/internal/models"
	"github.com/annakotova/braid_shop/internal/shoperr"
)

func newTestEngine(t *testing.T) (*Engine, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	return NewEngine(db, catalog.NewReader(db, nil), ZeroPricing{}), db
}

func createProduct(t *testing.T, db *gorm.DB, slug, price string, stock int, sizes ...models.ProductSize) *models.Product {
	t.Helper()
	if len(sizes) == 0 {
		sizes = []models.ProductSize{{Size: "M"}}
	}
	p := models.Product{
		Slug:          slug,
		Name:          "product " + slug,
		Price:         decimal.RequireFromString(price),
		StockQuantity: stock,
		Available:     true,
		Sizes:         sizes,
	}
	require.NoError(t, db.Create(&p).Error)
	return &p
}

func newCart(t *testing.T, e *Engine) *models.Cart {
	t.Helper()
	crt, err := e.GetOrCreate(context.Background(), "", nil)
	require.NoError(t, err)
	require.NotEmpty(t, crt.Token)
	return crt
}

func TestAddOrMergeSameKeyMerges(t *testing.T) {
	e, db := newTestEngine(t)
	p := createProduct(t, db, "wave-braid", "25.00", 10)
	crt := newCart(t, e)

	first, err := e.AddOrMerge(context.Background(), crt.ID, p.ID, "M", "", 2)
	require.NoError(t, err)
	second, err := e.AddOrMerge(context.Background(), crt.ID, p.ID, "M", "", 3)
	require.NoError(t, err)
	require.Equal(t, first, second)

	var lines []models.CartItem
	require.NoError(t, db.Where("cart_id = ?", crt.ID).Find(&lines).Error)
	require.Len(t, lines, 1)
	require.Equal(t, 5, lines[0].Quantity)
}

func TestDistinctLengthsDoNotMerge(t *testing.T) {
	e, db := newTestEngine(t)
	p := createProduct(t, db, "long-braid", "30.00", 10,
		models.ProductSize{Size: "M", Lengths: "1.4,1.5"})
	crt := newCart(t, e)

	a, err := e.AddOrMerge(context.Background(), crt.ID, p.ID, "M", "1.4", 1)
	require.NoError(t, err)
	b, err := e.AddOrMerge(context.Background(), crt.ID, p.ID, "M", "1.5", 1)
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	var count int64
	require.NoError(t, db.Model(&models.CartItem{}).Where("cart_id = ?", crt.ID).Count(&count).Error)
	require.EqualValues(t, 2, count)
}

func TestEquivalentLengthFormsMerge(t *testing.T) {
	e, db := newTestEngine(t)
	p := createProduct(t, db, "curl-braid", "30.00", 10,
		models.ProductSize{Size: "M", Lengths: "1.4,1.5"})
	crt := newCart(t, e)

	a, err := e.AddOrMerge(context.Background(), crt.ID, p.ID, "M", "1,4", 1)
	require.NoError(t, err)
	b, err := e.AddOrMerge(context.Background(), crt.ID, p.ID, "M", "1.40cm", 1)
	require.NoError(t, err)
	require.Equal(t, a, b)

	var line models.CartItem
	require.NoError(t, db.First(&line, a).Error)
	require.Equal(t, "1.4", line.Length)
	require.Equal(t, 2, line.Quantity)
}

func TestMergeClampsAtCap(t *testing.T) {
	e, db := newTestEngine(t)
	p := createProduct(t, db, "bulk-braid", "10.00", 100)
	crt := newCart(t, e)

	_, err := e.AddOrMerge(context.Background(), crt.ID, p.ID, "M", "", 7)
	require.NoError(t, err)
	lineID, err := e.AddOrMerge(context.Background(), crt.ID, p.ID, "M", "", 7)
	require.NoError(t, err)

	var line models.CartItem
	require.NoError(t, db.First(&line, lineID).Error)
	require.Equal(t, MaxLineQuantity, line.Quantity)
}

func TestAddValidationFailures(t *testing.T) {
	e, db := newTestEngine(t)
	p := createProduct(t, db, "plain-braid", "12.00", 5,
		models.ProductSize{Size: "M", Lengths: "1.4"})
	soldOut := createProduct(t, db, "sold-out", "12.00", 0)
	crt := newCart(t, e)

	_, err := e.AddOrMerge(context.Background(), crt.ID, 9999, "M", "", 1)
	require.Equal(t, shoperr.KindNotFound, shoperr.KindOf(err))

	_, err = e.AddOrMerge(context.Background(), crt.ID, soldOut.ID, "M", "", 1)
	require.Equal(t, shoperr.KindOutOfStock, shoperr.KindOf(err))

	_, err = e.AddOrMerge(context.Background(), crt.ID, p.ID, "XL", "", 1)
	require.Equal(t, shoperr.KindVariantUnavailable, shoperr.KindOf(err))

	_, err = e.AddOrMerge(context.Background(), crt.ID, p.ID, "M", "2.0", 1)
	require.Equal(t, shoperr.KindVariantUnavailable, shoperr.KindOf(err))

	_, err = e.AddOrMerge(context.Background(), crt.ID, p.ID, "M", "", 1)
	require.Equal(t, shoperr.KindVariantUnavailable, shoperr.KindOf(err))

	// a rejected add leaves no rows behind
	var count int64
	require.NoError(t, db.Model(&models.CartItem{}).Where("cart_id = ?", crt.ID).Count(&count).Error)
	require.Zero(t, count)
}

func TestUpdateQuantity(t *testing.T) {
	e, db := newTestEngine(t)
	p := createProduct(t, db, "tight-braid", "15.00", 5)
	crt := newCart(t, e)

	lineID, err := e.AddOrMerge(context.Background(), crt.ID, p.ID, "M", "", 1)
	require.NoError(t, err)

	require.Equal(t, shoperr.KindInvalidQuantity,
		shoperr.KindOf(e.UpdateQuantity(context.Background(), crt.ID, lineID, 0)))
	require.Equal(t, shoperr.KindInvalidQuantity,
		shoperr.KindOf(e.UpdateQuantity(context.Background(), crt.ID, lineID, 11)))
	require.Equal(t, shoperr.KindNotFound,
		shoperr.KindOf(e.UpdateQuantity(context.Background(), crt.ID, 9999, 2)))

	require.NoError(t, e.UpdateQuantity(context.Background(), crt.ID, lineID, 4))
	var line models.CartItem
	require.NoError(t, db.First(&line, lineID).Error)
	require.Equal(t, 4, line.Quantity)
}

func TestRemoveIsIdempotent(t *testing.T) {
	e, _ := newTestEngine(t)
	crt := newCart(t, e)

	// absent line: already gone, not an error
	require.NoError(t, e.Remove(context.Background(), crt.ID, 12345))
}

func TestBuildViewUsesLiveCatalogPrice(t *testing.T) {
	e, db := newTestEngine(t)
	p := createProduct(t, db, "silk-braid", "20.00", 5)
	crt := newCart(t, e)

	_, err := e.AddOrMerge(context.Background(), crt.ID, p.ID, "M", "", 2)
	require.NoError(t, err)

	require.NoError(t, db.Model(&models.Product{}).Where("id = ?", p.ID).
		Update("price", decimal.RequireFromString("25.00")).Error)

	view, err := e.BuildView(context.Background(), crt)
	require.NoError(t, err)
	require.Len(t, view.Lines, 1)
	require.True(t, view.Lines[0].UnitPrice.Equal(decimal.RequireFromString("25.00")))
	require.True(t, view.Totals.Subtotal.Equal(decimal.RequireFromString("50.00")))
	require.True(t, view.Totals.Total.Equal(view.Totals.Subtotal))
}

func TestMergeGuestCartIntoUser(t *testing.T) {
	e, db := newTestEngine(t)
	p := createProduct(t, db, "merge-braid", "10.00", 20)

	guest := newCart(t, e)
	_, err := e.AddOrMerge(context.Background(), guest.ID, p.ID, "M", "", 2)
	require.NoError(t, err)

	userID := uint(7)
	userCart, err := e.GetOrCreate(context.Background(), "", &userID)
	require.NoError(t, err)
	_, err = e.AddOrMerge(context.Background(), userCart.ID, p.ID, "M", "", 3)
	require.NoError(t, err)

	require.NoError(t, e.MergeGuestIntoUser(context.Background(), guest.Token, userID))

	var lines []models.CartItem
	require.NoError(t, db.Where("cart_id = ?", userCart.ID).Find(&lines).Error)
	require.Len(t, lines, 1)
	require.Equal(t, 5, lines[0].Quantity)

	var gone models.Cart
	err = db.Where("id = ?", guest.ID).First(&gone).Error
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestMergeGuestSkipsStaleLines(t *testing.T) {
	e, db := newTestEngine(t)
	good := createProduct(t, db, "good-braid", "10.00", 20)
	stale := createProduct(t, db, "stale-braid", "10.00", 20)

	guest := newCart(t, e)
	_, err := e.AddOrMerge(context.Background(), guest.ID, good.ID, "M", "", 1)
	require.NoError(t, err)
	_, err = e.AddOrMerge(context.Background(), guest.ID, stale.ID, "M", "", 1)
	require.NoError(t, err)

	// product withdrawn between add and login
	require.NoError(t, db.Model(&models.Product{}).Where("id = ?", stale.ID).
		Update("available", false).Error)

	userID := uint(9)
	require.NoError(t, e.MergeGuestIntoUser(context.Background(), guest.Token, userID))

	userCart, err := e.GetOrCreate(context.Background(), "", &userID)
	require.NoError(t, err)
	var lines []models.CartItem
	require.NoError(t, db.Where("cart_id = ?", userCart.ID).Find(&lines).Error)
	require.Len(t, lines, 1)
	require.Equal(t, good.ID, lines[0].ProductID)
}
