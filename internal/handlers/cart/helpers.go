package cart

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/annakotova/braid_shop/internal/models"
	"github.com/annakotova/braid_shop/internal/shoperr"
)

const cartCookieTTL = 30 * 24 * time.Hour

func userIDFromCtx(c echo.Context) *uint {
	if v, ok := c.Get("userID").(uint); ok && v != 0 {
		return &v
	}
	return nil
}

// resolveCart finds the caller's cart: the authenticated user's own cart,
// or the guest cart named by the cartToken cookie (minted here on first
// use). The token is the only cart identity there is; no ambient state.
func (h *CartHandler) resolveCart(c echo.Context) (*models.Cart, error) {
	var token string
	if ck, err := c.Cookie("cartToken"); err == nil {
		token = ck.Value
	}

	crt, err := h.Engine.GetOrCreate(c.Request().Context(), token, userIDFromCtx(c))
	if err != nil {
		return nil, err
	}
	if crt.UserID == nil && crt.Token != token {
		c.SetCookie(&http.Cookie{
			Name:     "cartToken",
			Value:    crt.Token,
			Path:     "/",
			Expires:  time.Now().Add(cartCookieTTL),
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return crt, nil
}

func (h *CartHandler) publish(c echo.Context, event map[string]any) {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Producer.PublishEvent(ctx, "cart_events", fmt.Sprint(event["cart_id"]), event); err != nil {
		c.Logger().Errorf("Kafka publish error: %v", err)
	}
}

// respond maps domain error kinds to specific HTTP responses so the caller
// always learns why, not just that something failed.
func respond(c echo.Context, err error) error {
	kind := shoperr.KindOf(err)
	body := map[string]any{"error": string(kind), "message": err.Error()}
	var se *shoperr.StockError
	if errors.As(err, &se) {
		body["product_id"] = se.ProductID
		body["requested"] = se.Requested
		body["available"] = se.Available
	}
	if kind == shoperr.KindInternal || kind == shoperr.KindFatal {
		c.Logger().Errorf("internal error: %v", err)
		body["message"] = "internal error"
	}
	return c.JSON(shoperr.HTTPStatus(kind), body)
}
