// Package inventory owns every stock mutation. Quantities are never written
// directly: each change is a signed delta appended to inventory_events, and
// products.stock_quantity is a cached projection that must equal the sum of
// deltas at all times.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"

	"github.com/annakotova/braid_shop/internal/models"
	"github.com/annakotova/braid_shop/internal/shoperr"
)

type Ledger struct {
	DB *gorm.DB

	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{DB: db, locks: make(map[uint]*sync.Mutex)}
}

// lockProduct serializes in-process mutations per product. The guarded
// UPDATE below is what actually prevents oversell across instances; this
// keeps a single instance from burning conflict retries against itself.
func (l *Ledger) lockProduct(id uint) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// Reserve atomically checks that quantity units are available and takes
// them, appending an order-placed event. On shortfall nothing is applied
// and the error carries the product id, requested and available amounts.
// db may be an open transaction (checkout reserves inside its own tx).
func (l *Ledger) Reserve(ctx context.Context, db *gorm.DB, productID uint, quantity int, referenceID string) error {
	if quantity <= 0 {
		return shoperr.E(shoperr.KindInvalidQuantity, "reserve quantity must be positive, got %d", quantity)
	}
	unlock := l.lockProduct(productID)
	defer unlock()

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Product{}).
			Where("id = ? AND stock_quantity >= ?", productID, quantity).
			UpdateColumn("stock_quantity", gorm.Expr("stock_quantity - ?", quantity))
		if res.Error != nil {
			return fmt.Errorf("reserve stock: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			var p models.Product
			if err := tx.Select("id", "stock_quantity").First(&p, productID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return shoperr.E(shoperr.KindNotFound, "product %d not found", productID)
				}
				return fmt.Errorf("reserve stock: %w", err)
			}
			return &shoperr.StockError{ProductID: productID, Requested: quantity, Available: p.StockQuantity}
		}
		return l.append(tx, productID, -quantity, models.ReasonOrderPlaced, referenceID)
	})
}

// Release is the positive-delta inverse used when an order is cancelled.
// It does not fail on overflow.
func (l *Ledger) Release(ctx context.Context, db *gorm.DB, productID uint, quantity int, referenceID string) error {
	if quantity <= 0 {
		return shoperr.E(shoperr.KindInvalidQuantity, "release quantity must be positive, got %d", quantity)
	}
	unlock := l.lockProduct(productID)
	defer unlock()

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Product{}).
			Where("id = ?", productID).
			UpdateColumn("stock_quantity", gorm.Expr("stock_quantity + ?", quantity))
		if res.Error != nil {
			return fmt.Errorf("release stock: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return shoperr.E(shoperr.KindNotFound, "product %d not found", productID)
		}
		return l.append(tx, productID, quantity, models.ReasonOrderCancelled, referenceID)
	})
}

// Adjust applies an admin delta (restock or manual adjustment). A negative
// delta that would take the projection below zero is rejected.
func (l *Ledger) Adjust(ctx context.Context, db *gorm.DB, productID uint, delta int, reason, referenceID string) error {
	if delta == 0 {
		return shoperr.E(shoperr.KindInvalidQuantity, "adjustment delta must be non-zero")
	}
	if reason != models.ReasonRestock && reason != models.ReasonManualAdjustment {
		return shoperr.E(shoperr.KindValidation, "unknown inventory reason %q", reason)
	}
	unlock := l.lockProduct(productID)
	defer unlock()

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&models.Product{}).Where("id = ?", productID)
		if delta < 0 {
			q = q.Where("stock_quantity >= ?", -delta)
		}
		res := q.UpdateColumn("stock_quantity", gorm.Expr("stock_quantity + ?", delta))
		if res.Error != nil {
			return fmt.Errorf("adjust stock: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			var p models.Product
			if err := tx.Select("id", "stock_quantity").First(&p, productID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return shoperr.E(shoperr.KindNotFound, "product %d not found", productID)
				}
				return fmt.Errorf("adjust stock: %w", err)
			}
			return &shoperr.StockError{ProductID: productID, Requested: -delta, Available: p.StockQuantity}
		}
		return l.append(tx, productID, delta, reason, referenceID)
	})
}

// append writes the ledger row for a projection change already applied in tx.
func (l *Ledger) append(tx *gorm.DB, productID uint, delta int, reason, referenceID string) error {
	var p models.Product
	if err := tx.Select("id", "stock_quantity").First(&p, productID).Error; err != nil {
		return fmt.Errorf("read back stock: %w", err)
	}
	ev := models.InventoryEvent{
		ProductID:        productID,
		Delta:            delta,
		PreviousQuantity: p.StockQuantity - delta,
		NewQuantity:      p.StockQuantity,
		Reason:           reason,
		ReferenceID:      referenceID,
	}
	if err := tx.Create(&ev).Error; err != nil {
		return fmt.Errorf("append inventory event: %w", err)
	}
	return nil
}

// Sum folds the ledger for one product. The cached projection must equal it.
func (l *Ledger) Sum(ctx context.Context, productID uint) (int, error) {
	var total int
	err := l.DB.WithContext(ctx).Model(&models.InventoryEvent{}).
		Where("product_id = ?", productID).
		Select("COALESCE(SUM(delta), 0)").
		Scan(&total).Error
	return total, err
}

// History returns the audit trail for a product, newest first.
func (l *Ledger) History(ctx context.Context, productID uint) ([]models.InventoryEvent, error) {
	var events []models.InventoryEvent
	err := l.DB.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("id DESC").
		Find(&events).Error
	return events, err
}
