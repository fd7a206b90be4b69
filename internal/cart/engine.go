// Package cart owns cart identity and line state. A line is identified by
// (cart, product, size, canonical length); adding the same variant twice
// merges quantities instead of inserting a second row.
package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/annakotova/braid_shop/internal/catalog"
	"github.com/annakotova/braid_shop/internal/lengths"
	"github.com/annakotova/braid_shop/internal/logging"
	"github.com/annakotova/braid_shop/internal/models"
	"github.com/annakotova/braid_shop/internal/shoperr"
)

// MaxLineQuantity caps every cart line. A merge that would exceed it clamps
// to the cap rather than rejecting; pending product-owner confirmation this
// is the deliberate policy.
const MaxLineQuantity = 10

type Engine struct {
	DB      *gorm.DB
	Catalog *catalog.Reader
	Pricing PricingPolicy

	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

func NewEngine(db *gorm.DB, reader *catalog.Reader, pricing PricingPolicy) *Engine {
	if pricing == nil {
		pricing = ZeroPricing{}
	}
	return &Engine{DB: db, Catalog: reader, Pricing: pricing, locks: make(map[uint]*sync.Mutex)}
}

// lockCart serializes mutations per cart; different carts never contend.
func (e *Engine) lockCart(id uint) func() {
	e.mu.Lock()
	m, ok := e.locks[id]
	if !ok {
		m = &sync.Mutex{}
		e.locks[id] = m
	}
	e.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// GetOrCreate resolves the caller's cart: by owner for authenticated users,
// by opaque token for guests. An empty token mints a new guest cart.
func (e *Engine) GetOrCreate(ctx context.Context, token string, userID *uint) (*models.Cart, error) {
	var cart models.Cart

	if userID != nil {
		err := e.DB.WithContext(ctx).Where("user_id = ?", *userID).First(&cart).Error
		if err == nil {
			return &cart, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("load cart: %w", err)
		}
		cart = models.Cart{Token: uuid.NewString(), UserID: userID}
		if err := e.DB.WithContext(ctx).Create(&cart).Error; err != nil {
			return nil, fmt.Errorf("create cart: %w", err)
		}
		return &cart, nil
	}

	if token != "" {
		err := e.DB.WithContext(ctx).Where("token = ? AND user_id IS NULL", token).First(&cart).Error
		if err == nil {
			return &cart, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("load cart: %w", err)
		}
	}

	cart = models.Cart{Token: uuid.NewString()}
	if err := e.DB.WithContext(ctx).Create(&cart).Error; err != nil {
		return nil, fmt.Errorf("create cart: %w", err)
	}
	return &cart, nil
}

// AddOrMerge validates the requested variant and either merges into the
// matching line or inserts a new one. Quantities clamp to [1,MaxLineQuantity].
// Returns the line id (stable across merges). A rejected add leaves the
// cart untouched.
func (e *Engine) AddOrMerge(ctx context.Context, cartID, productID uint, size, lengthInput string, quantity int) (uint, error) {
	product, err := e.Catalog.ByID(ctx, productID)
	if err != nil {
		return 0, err
	}
	if !product.InStock() {
		return 0, shoperr.E(shoperr.KindOutOfStock, "product %q is not available", product.Slug)
	}

	canonical, err := resolveVariant(product, size, lengthInput)
	if err != nil {
		return 0, err
	}

	if quantity < 1 {
		quantity = 1
	}
	if quantity > MaxLineQuantity {
		quantity = MaxLineQuantity
	}

	unlock := e.lockCart(cartID)
	defer unlock()

	var lineID uint
	err = e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var line models.CartItem
		res := tx.Where("cart_id = ? AND product_id = ? AND size = ? AND length = ?",
			cartID, productID, size, canonical).First(&line)
		switch {
		case res.Error == nil:
			line.Quantity += quantity
			if line.Quantity > MaxLineQuantity {
				line.Quantity = MaxLineQuantity
			}
			if err := tx.Save(&line).Error; err != nil {
				return fmt.Errorf("merge cart line: %w", err)
			}
		case errors.Is(res.Error, gorm.ErrRecordNotFound):
			line = models.CartItem{
				CartID:    cartID,
				ProductID: productID,
				Size:      size,
				Length:    canonical,
				Quantity:  quantity,
			}
			if err := tx.Create(&line).Error; err != nil {
				return fmt.Errorf("insert cart line: %w", err)
			}
		default:
			return fmt.Errorf("find cart line: %w", res.Error)
		}
		lineID = line.ID
		return touchCart(tx, cartID)
	})
	if err != nil {
		return 0, err
	}
	return lineID, nil
}

// resolveVariant checks size membership and resolves the length input
// against the declared set, returning the canonical length ("" for sizes
// without length variants).
func resolveVariant(product *models.Product, size, lengthInput string) (string, error) {
	var ps *models.ProductSize
	for i := range product.Sizes {
		if product.Sizes[i].Size == size {
			ps = &product.Sizes[i]
			break
		}
	}
	if ps == nil {
		return "", shoperr.E(shoperr.KindVariantUnavailable, "product %q has no size %q", product.Slug, size)
	}

	declared := lengths.Normalize(ps.Lengths)
	if len(declared) == 0 {
		if lengthInput != "" && len(lengths.Normalize(lengthInput)) > 0 {
			return "", shoperr.E(shoperr.KindVariantUnavailable,
				"size %q of product %q has no length variants", size, product.Slug)
		}
		return "", nil
	}

	value, ok := lengths.One(lengthInput)
	if !ok {
		return "", shoperr.E(shoperr.KindVariantUnavailable,
			"size %q of product %q requires one of lengths %s", size, product.Slug, ps.Lengths)
	}
	canonical, ok := lengths.Match(value, declared)
	if !ok {
		return "", shoperr.E(shoperr.KindVariantUnavailable,
			"length %s is not declared for size %q of product %q", lengths.Format(value), size, product.Slug)
	}
	return canonical, nil
}

// UpdateQuantity sets an existing line to quantity in [1,MaxLineQuantity].
func (e *Engine) UpdateQuantity(ctx context.Context, cartID, lineID uint, quantity int) error {
	if quantity < 1 || quantity > MaxLineQuantity {
		return shoperr.E(shoperr.KindInvalidQuantity, "quantity must be between 1 and %d, got %d", MaxLineQuantity, quantity)
	}

	unlock := e.lockCart(cartID)
	defer unlock()

	return e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var line models.CartItem
		if err := tx.Where("id = ? AND cart_id = ?", lineID, cartID).First(&line).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return shoperr.E(shoperr.KindNotFound, "cart line %d not found", lineID)
			}
			return fmt.Errorf("find cart line: %w", err)
		}
		line.Quantity = quantity
		if err := tx.Save(&line).Error; err != nil {
			return fmt.Errorf("update cart line: %w", err)
		}
		return touchCart(tx, cartID)
	})
}

// Remove deletes a line. Removing an absent line is not an error: the line
// is already gone, which is the state the caller asked for.
func (e *Engine) Remove(ctx context.Context, cartID, lineID uint) error {
	unlock := e.lockCart(cartID)
	defer unlock()

	return e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND cart_id = ?", lineID, cartID).Delete(&models.CartItem{})
		if res.Error != nil {
			return fmt.Errorf("delete cart line: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return touchCart(tx, cartID)
	})
}

func touchCart(tx *gorm.DB, cartID uint) error {
	return tx.Model(&models.Cart{}).Where("id = ?", cartID).
		UpdateColumn("updated_at", time.Now().UTC()).Error
}

type LineView struct {
	ID          uint            `json:"id"`
	ProductID   uint            `json:"product_id"`
	Slug        string          `json:"slug"`
	Name        string          `json:"name"`
	Size        string          `json:"size"`
	Length      string          `json:"length,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
	Unavailable bool            `json:"unavailable,omitempty"`
}

type View struct {
	Token  string     `json:"cart_token"`
	Lines  []LineView `json:"items"`
	Totals Totals     `json:"totals"`
}

// BuildView joins lines against live catalog prices and derives totals.
// Pre-checkout views always price against the current catalog, never a
// stored snapshot. Lines whose product vanished are flagged unavailable and
// excluded from totals.
func (e *Engine) BuildView(ctx context.Context, cart *models.Cart) (*View, error) {
	var items []models.CartItem
	if err := e.DB.WithContext(ctx).Where("cart_id = ?", cart.ID).Order("id ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("load cart lines: %w", err)
	}

	view := &View{Token: cart.Token, Lines: make([]LineView, 0, len(items))}
	priced := make([]Priced, 0, len(items))
	for _, it := range items {
		lv := LineView{
			ID:        it.ID,
			ProductID: it.ProductID,
			Size:      it.Size,
			Length:    it.Length,
			Quantity:  it.Quantity,
		}
		product, err := e.Catalog.ByID(ctx, it.ProductID)
		if err != nil {
			if shoperr.KindOf(err) == shoperr.KindNotFound {
				lv.Unavailable = true
				view.Lines = append(view.Lines, lv)
				continue
			}
			return nil, err
		}
		lv.Slug = product.Slug
		lv.Name = product.Name
		lv.UnitPrice = product.Price
		lv.LineTotal = product.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
		lv.Unavailable = !product.InStock()
		view.Lines = append(view.Lines, lv)
		priced = append(priced, Priced{Quantity: it.Quantity, UnitPrice: product.Price})
	}
	view.Totals = Derive(priced, e.Pricing)
	return view, nil
}

// MergeGuestIntoUser replays every guest line into the user's cart with
// add-or-merge semantics, then discards the guest cart. Lines whose product
// or variant is no longer sellable are skipped and logged; a stale guest
// line must not block login.
func (e *Engine) MergeGuestIntoUser(ctx context.Context, guestToken string, userID uint) error {
	if guestToken == "" {
		return nil
	}

	var guest models.Cart
	err := e.DB.WithContext(ctx).Preload("Items").
		Where("token = ? AND user_id IS NULL", guestToken).First(&guest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load guest cart: %w", err)
	}

	if len(guest.Items) > 0 {
		target, err := e.GetOrCreate(ctx, "", &userID)
		if err != nil {
			return err
		}
		log := logging.FromContext(ctx)
		for _, it := range guest.Items {
			if _, err := e.AddOrMerge(ctx, target.ID, it.ProductID, it.Size, it.Length, it.Quantity); err != nil {
				log.Warn("guest cart line skipped on merge",
					"product_id", it.ProductID, "size", it.Size, "length", it.Length, "err", err)
			}
		}
	}

	return e.DB.WithContext(ctx).Select("Items").Delete(&guest).Error
}
