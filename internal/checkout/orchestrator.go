// Package checkout turns a cart into a durable order. Validation,
// reservation, the order snapshot and the cart clear run inside one
// database transaction: a failure at any point rolls the whole attempt
// back, so no partial reservation or half-cleared cart is ever visible.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/annakotova/braid_shop/internal/cart"
	"github.com/annakotova/braid_shop/internal/inventory"
	"github.com/annakotova/braid_shop/internal/logging"
	"github.com/annakotova/braid_shop/internal/metrics"
	"github.com/annakotova/braid_shop/internal/models"
	"github.com/annakotova/braid_shop/internal/mykafka"
	"github.com/annakotova/braid_shop/internal/shoperr"
)

type Orchestrator struct {
	DB       *gorm.DB
	Engine   *cart.Engine
	Ledger   *inventory.Ledger
	Producer *mykafka.Producer
}

func NewOrchestrator(db *gorm.DB, engine *cart.Engine, ledger *inventory.Ledger, producer *mykafka.Producer) *Orchestrator {
	return &Orchestrator{DB: db, Engine: engine, Ledger: ledger, Producer: producer}
}

type CustomerDetails struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	ShippingAddress string `json:"shipping_address"`
	BillingAddress  string `json:"billing_address"`
}

// validate fails closed: missing or malformed fields reject the checkout
// before anything is reserved.
func (d *CustomerDetails) validate() error {
	var missing []string
	if strings.TrimSpace(d.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(d.ShippingAddress) == "" {
		missing = append(missing, "shipping_address")
	}
	email := strings.TrimSpace(d.Email)
	if email == "" {
		missing = append(missing, "email")
	}
	if len(missing) > 0 {
		return shoperr.E(shoperr.KindValidation, "missing required fields: %s", strings.Join(missing, ", "))
	}
	if !strings.Contains(email, "@") || strings.HasPrefix(email, "@") || strings.HasSuffix(email, "@") {
		return shoperr.E(shoperr.KindValidation, "invalid email %q", email)
	}
	if strings.TrimSpace(d.BillingAddress) == "" {
		d.BillingAddress = d.ShippingAddress
	}
	return nil
}

type Receipt struct {
	OrderID     uint   `json:"order_id"`
	OrderNumber string `json:"order_number"`
}

// Checkout reserves stock for every cart line, freezes the order snapshot
// from current prices and derived totals, and clears the cart. Reservations
// proceed in ascending product-id order so concurrent checkouts never
// acquire row locks in conflicting order.
func (o *Orchestrator) Checkout(ctx context.Context, crt *models.Cart, details CustomerDetails) (*Receipt, error) {
	if err := details.validate(); err != nil {
		return nil, err
	}

	log := logging.FromContext(ctx)
	var order models.Order

	txErr := o.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var items []models.CartItem
		if err := tx.Where("cart_id = ?", crt.ID).Find(&items).Error; err != nil {
			return fmt.Errorf("load cart lines: %w", err)
		}
		if len(items) == 0 {
			return shoperr.E(shoperr.KindEmptyCart, "cart has no items")
		}
		sort.Slice(items, func(i, j int) bool {
			if items[i].ProductID != items[j].ProductID {
				return items[i].ProductID < items[j].ProductID
			}
			return items[i].ID < items[j].ID
		})

		number, err := o.pickOrderNumber(tx)
		if err != nil {
			return err
		}

		// Reserving: any shortfall aborts the transaction, which also
		// undoes reservations already made for earlier lines.
		orderItems := make([]models.OrderItem, 0, len(items))
		priced := make([]cart.Priced, 0, len(items))
		for _, it := range items {
			var product models.Product
			if err := tx.First(&product, it.ProductID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return shoperr.E(shoperr.KindNotFound, "product %d no longer exists", it.ProductID)
				}
				return fmt.Errorf("load product: %w", err)
			}
			if !product.Available {
				return shoperr.E(shoperr.KindOutOfStock, "product %q is not available", product.Slug)
			}
			if err := o.Ledger.Reserve(ctx, tx, it.ProductID, it.Quantity, number); err != nil {
				return err
			}
			orderItems = append(orderItems, models.OrderItem{
				ProductID: product.ID,
				Name:      product.Name,
				Size:      it.Size,
				Length:    it.Length,
				UnitPrice: product.Price,
				Quantity:  it.Quantity,
			})
			priced = append(priced, cart.Priced{Quantity: it.Quantity, UnitPrice: product.Price})
		}

		// Persisting: totals are frozen into the order now and never
		// recomputed. A failure here happens after reservations, so it is
		// fatal-class: surfaced loudly, never swallowed. The enclosing
		// rollback is what keeps the ledger consistent.
		totals := cart.Derive(priced, o.Engine.Pricing)
		order = models.Order{
			OrderNumber:     number,
			UserID:          crt.UserID,
			Name:            details.Name,
			Email:           details.Email,
			Phone:           details.Phone,
			ShippingAddress: details.ShippingAddress,
			BillingAddress:  details.BillingAddress,
			Subtotal:        totals.Subtotal,
			Tax:             totals.Tax,
			Shipping:        totals.Shipping,
			Total:           totals.Total,
			Status:          models.OrderStatusPending,
			Items:           orderItems,
		}
		if err := tx.Create(&order).Error; err != nil {
			log.Error("order insert failed after reservation, rolling back", "order_number", number, "err", err)
			return shoperr.Wrap(shoperr.KindFatal, err, "persist order %s", number)
		}

		if err := tx.Where("cart_id = ?", crt.ID).Delete(&models.CartItem{}).Error; err != nil {
			log.Error("cart clear failed after order insert, rolling back", "order_number", number, "err", err)
			return shoperr.Wrap(shoperr.KindFatal, err, "clear cart for order %s", number)
		}
		return tx.Model(&models.Cart{}).Where("id = ?", crt.ID).
			UpdateColumn("updated_at", time.Now().UTC()).Error
	})
	if txErr != nil {
		if shoperr.KindOf(txErr) == shoperr.KindInsufficientStock {
			metrics.InsufficientStockTotal.Inc()
		}
		return nil, txErr
	}

	metrics.OrdersPlacedTotal.Inc()
	o.publish(ctx, map[string]any{
		"type":         "order_created",
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"total":        order.Total,
	})
	return &Receipt{OrderID: order.ID, OrderNumber: order.OrderNumber}, nil
}

// Cancel moves a pending or processing order to cancelled and releases its
// stock back through the ledger, all in one transaction.
func (o *Orchestrator) Cancel(ctx context.Context, orderID uint, userID *uint) error {
	var order models.Order
	txErr := o.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Preload("Items").Where("id = ?", orderID)
		if userID != nil {
			q = q.Where("user_id = ?", *userID)
		}
		if err := q.First(&order).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return shoperr.E(shoperr.KindNotFound, "order %d not found", orderID)
			}
			return fmt.Errorf("load order: %w", err)
		}
		if order.Status != models.OrderStatusPending && order.Status != models.OrderStatusProcessing {
			return shoperr.E(shoperr.KindValidation, "order %s cannot be cancelled in status %q", order.OrderNumber, order.Status)
		}

		if err := tx.Model(&models.Order{}).Where("id = ?", order.ID).
			Updates(map[string]any{"status": models.OrderStatusCancelled, "updated_at": time.Now().UTC()}).Error; err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		for _, it := range order.Items {
			if err := o.Ledger.Release(ctx, tx, it.ProductID, it.Quantity, order.OrderNumber); err != nil {
				return err
			}
		}
		return nil
	})
	if txErr != nil {
		return txErr
	}

	metrics.OrdersCancelledTotal.Inc()
	o.publish(ctx, map[string]any{
		"type":         "order_cancelled",
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
	})
	return nil
}

var statusNext = map[string]string{
	models.OrderStatusPending:    models.OrderStatusProcessing,
	models.OrderStatusProcessing: models.OrderStatusShipped,
	models.OrderStatusShipped:    models.OrderStatusDelivered,
}

// UpdateStatus advances an order one step along
// pending -> processing -> shipped -> delivered. Cancellation goes through
// Cancel so the stock release is never skipped.
func (o *Orchestrator) UpdateStatus(ctx context.Context, orderID uint, status string) error {
	if status == models.OrderStatusCancelled {
		return shoperr.E(shoperr.KindValidation, "use the cancel operation to cancel an order")
	}
	return o.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.First(&order, orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return shoperr.E(shoperr.KindNotFound, "order %d not found", orderID)
			}
			return fmt.Errorf("load order: %w", err)
		}
		if statusNext[order.Status] != status {
			return shoperr.E(shoperr.KindValidation,
				"order %s cannot move from %q to %q", order.OrderNumber, order.Status, status)
		}
		return tx.Model(&models.Order{}).Where("id = ?", order.ID).
			Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()}).Error
	})
}

// pickOrderNumber derives a human-readable number from the timestamp and
// retries on collision instead of trusting the clock to be unique.
func (o *Orchestrator) pickOrderNumber(tx *gorm.DB) (string, error) {
	for attempt := 0; attempt < 3; attempt++ {
		number := fmt.Sprintf("BR-%s-%04d", time.Now().UTC().Format("20060102150405"), rand.IntN(10000))
		var count int64
		if err := tx.Model(&models.Order{}).Where("order_number = ?", number).Count(&count).Error; err != nil {
			return "", fmt.Errorf("check order number: %w", err)
		}
		if count == 0 {
			return number, nil
		}
	}
	return "", shoperr.E(shoperr.KindInternal, "could not allocate a unique order number")
}

func (o *Orchestrator) publish(ctx context.Context, event map[string]any) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.Producer.PublishEvent(pubCtx, "order_events", fmt.Sprint(event["order_number"]), event); err != nil {
		logging.FromContext(ctx).Error("kafka publish failed", "err", err)
	}
}
