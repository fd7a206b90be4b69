package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersPlacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shop_orders_placed_total",
		Help: "Orders successfully placed",
	})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shop_orders_cancelled_total",
		Help: "Orders cancelled",
	})

	CartItemsAddedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shop_cart_items_added_total",
		Help: "Cart add-or-merge operations accepted",
	})

	InsufficientStockTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shop_insufficient_stock_total",
		Help: "Reservations rejected for lack of stock",
	})
)
