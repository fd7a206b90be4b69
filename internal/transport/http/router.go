package httpserver

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/annakotova/braid_shop/internal/handlers"
	"github.com/annakotova/braid_shop/internal/handlers/cart"
	"github.com/annakotova/braid_shop/internal/service/token"
)

type Deps struct {
	DB             *gorm.DB
	AuthHandler    *handlers.AuthHandler
	ProductHandler *handlers.ProductHandler
	OrderHandler   *handlers.OrderHandler
	CartHandler    *cart.CartHandler
	SearchHandler  *handlers.SearchHandler
	TokenService   *token.TokenService
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(200) })
	e.GET("/health/ready", func(c echo.Context) error { return c.NoContent(200) })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := e.Group("/api/v1")

	v1.POST("/register", d.AuthHandler.Register)
	v1.POST("/login", d.AuthHandler.Login)
	v1.POST("/logout", d.AuthHandler.LogOut)

	if d.SearchHandler != nil {
		v1.GET("/search", d.SearchHandler.Search)
	}

	products := v1.Group("/products")
	products.GET("", d.ProductHandler.GetProducts)
	products.GET("/:id", d.ProductHandler.GetProduct)

	// Cart and checkout serve guests and users alike; identity is the
	// cartToken cookie plus an optional access token.
	crt := v1.Group("/cart", d.TokenService.OptionalAuth)
	crt.GET("", d.CartHandler.GetCart)
	crt.POST("", d.CartHandler.AddToCart)
	crt.PATCH("/items/:id", d.CartHandler.UpdateLine)
	crt.DELETE("/items/:id", d.CartHandler.RemoveLine)

	v1.POST("/checkout", d.CartHandler.Checkout, d.TokenService.OptionalAuth)

	orders := v1.Group("/orders", d.TokenService.AutoRefreshMiddleware)
	orders.GET("", d.OrderHandler.ListOrders)
	orders.GET("/:id", d.OrderHandler.GetOrder)
	orders.POST("/:id/cancel", d.OrderHandler.CancelOrder)

	admin := v1.Group("/admin", d.TokenService.AutoRefreshMiddlewareAdmin)
	admin.POST("/products", d.ProductHandler.CreateProduct)
	admin.PATCH("/products/:id", d.ProductHandler.PatchProduct)
	admin.DELETE("/products/:id", d.ProductHandler.DeleteProduct)
	admin.POST("/products/:id/restock", d.ProductHandler.Restock)
	admin.GET("/products/:id/inventory", d.ProductHandler.InventoryHistory)
	admin.PATCH("/orders/:id/status", d.OrderHandler.UpdateStatus)
}
