package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID            uint            `gorm:"primaryKey;autoIncrement"      json:"id"`
	Slug          string          `gorm:"uniqueIndex;not null"          json:"slug"`
	Name          string          `gorm:"not null"                      json:"name"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `gorm:"type:decimal(12,2);not null"   json:"price"`
	StockQuantity int             `gorm:"not null;default:0"            json:"stock_quantity"`
	Available     bool            `gorm:"not null;default:true"         json:"available"`
	Sizes         []ProductSize   `gorm:"constraint:OnDelete:CASCADE"   json:"sizes"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// InStock is the sellable flag: the explicit switch plus a live quantity.
func (p *Product) InStock() bool {
	return p.Available && p.StockQuantity > 0
}

// ProductSize is one size code of a product. Lengths holds the declared
// length variants for that size as a canonical comma-joined list
// ("1.4,1.5"), empty when the size has no length variants.
type ProductSize struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"                 json:"id"`
	ProductID uint   `gorm:"index;not null;uniqueIndex:idx_prod_size" json:"product_id"`
	Size      string `gorm:"not null;uniqueIndex:idx_prod_size"       json:"size"`
	Lengths   string `json:"lengths"`
}

// Cart belongs either to a guest (Token only) or to a user. A user has at
// most one cart.
type Cart struct {
	ID        uint       `gorm:"primaryKey;autoIncrement"    json:"id"`
	Token     string     `gorm:"uniqueIndex;not null"        json:"token"`
	UserID    *uint      `gorm:"uniqueIndex"                 json:"user_id,omitempty"`
	Items     []CartItem `gorm:"constraint:OnDelete:CASCADE" json:"items"`
	UpdatedAt time.Time  `json:"updated_at"`
	CreatedAt time.Time  `json:"created_at"`
}

// CartItem is one cart line. (CartID, ProductID, Size, Length) is the merge
// key: adding the same variant again bumps Quantity instead of inserting a
// second row. Length is the canonical 4-decimal form, "" when the variant
// has no length.
type CartItem struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"                      json:"id"`
	CartID    uint   `gorm:"index;not null;uniqueIndex:idx_cart_line"      json:"cart_id"`
	ProductID uint   `gorm:"not null;uniqueIndex:idx_cart_line"            json:"product_id"`
	Size      string `gorm:"not null;uniqueIndex:idx_cart_line"            json:"size"`
	Length    string `gorm:"not null;default:'';uniqueIndex:idx_cart_line" json:"length"`
	Quantity  int    `gorm:"not null;check:quantity>0"                     json:"quantity"`
}

const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
)

// Order is a frozen snapshot: line prices and totals are copied out of the
// catalog at checkout time and never recomputed afterwards.
type Order struct {
	ID              uint            `gorm:"primaryKey;autoIncrement"    json:"id"`
	OrderNumber     string          `gorm:"uniqueIndex;not null"        json:"order_number"`
	UserID          *uint           `gorm:"index"                       json:"user_id,omitempty"`
	Name            string          `gorm:"not null"                    json:"name"`
	Email           string          `gorm:"not null"                    json:"email"`
	Phone           string          `json:"phone"`
	ShippingAddress string          `gorm:"not null"                    json:"shipping_address"`
	BillingAddress  string          `gorm:"not null"                    json:"billing_address"`
	Subtotal        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"subtotal"`
	Tax             decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"tax"`
	Shipping        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"shipping"`
	Total           decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total"`
	Status          string          `gorm:"not null;default:pending"    json:"status"`
	Items           []OrderItem     `gorm:"constraint:OnDelete:CASCADE" json:"items"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type OrderItem struct {
	ID        uint            `gorm:"primaryKey;autoIncrement"    json:"id"`
	OrderID   uint            `gorm:"index;not null"              json:"order_id"`
	ProductID uint            `gorm:"not null"                    json:"product_id"`
	Name      string          `gorm:"not null"                    json:"name"`
	Size      string          `gorm:"not null"                    json:"size"`
	Length    string          `json:"length"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"unit_price"`
	Quantity  int             `gorm:"not null"                    json:"quantity"`
}

const (
	ReasonOrderPlaced      = "order-placed"
	ReasonOrderCancelled   = "order-cancelled"
	ReasonManualAdjustment = "manual-adjustment"
	ReasonRestock          = "restock"
)

// InventoryEvent is an append-only ledger row. Product.StockQuantity is a
// cached projection and must always equal the sum of deltas for the product.
type InventoryEvent struct {
	ID               uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID        uint      `gorm:"index;not null"           json:"product_id"`
	Delta            int       `gorm:"not null"                 json:"delta"`
	PreviousQuantity int       `gorm:"not null"                 json:"previous_quantity"`
	NewQuantity      int       `gorm:"not null"                 json:"new_quantity"`
	Reason           string    `gorm:"not null"                 json:"reason"`
	ReferenceID      string    `gorm:"index"                    json:"reference_id"`
	CreatedAt        time.Time `json:"created_at"`
}

type User struct {
	ID           uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string `gorm:"unique;not null"          json:"username"`
	PasswordHash string `gorm:"not null"                 json:"-"`
	Role         string `gorm:"not null;default:user"    json:"role"`
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"      json:"id"`
	Token     string    `gorm:"unique;not null" json:"token"`
	UserID    uint      `gorm:"index;not null"  json:"user_id"`
	ExpiresAt time.Time `gorm:"not null"        json:"expires_at"`
	Revoked   bool      `gorm:"default:false"   json:"revoked"`
}

// All is the migration set in dependency order.
func All() []any {
	return []any{
		&Product{}, &ProductSize{},
		&User{}, &RefreshToken{},
		&Cart{}, &CartItem{},
		&Order{}, &OrderItem{},
		&InventoryEvent{},
	}
}
