package cart

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/annakotova/braid_shop/internal/cart"
	"github.com/annakotova/braid_shop/internal/checkout"
	"github.com/annakotova/braid_shop/internal/metrics"
	"github.com/annakotova/braid_shop/internal/mykafka"
)

type CartHandler struct {
	Engine       *cart.Engine
	Orchestrator *checkout.Orchestrator
	Producer     *mykafka.Producer
}

func (h *CartHandler) GetCart(c echo.Context) error {
	crt, err := h.resolveCart(c)
	if err != nil {
		return respond(c, err)
	}
	view, err := h.Engine.BuildView(c.Request().Context(), crt)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *CartHandler) AddToCart(c echo.Context) error {
	var req struct {
		ProductID uint   `json:"product_id"`
		Size      string `json:"size"`
		Length    string `json:"length"`
		Quantity  int    `json:"quantity"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	crt, err := h.resolveCart(c)
	if err != nil {
		return respond(c, err)
	}

	lineID, err := h.Engine.AddOrMerge(c.Request().Context(), crt.ID, req.ProductID, req.Size, req.Length, req.Quantity)
	if err != nil {
		return respond(c, err)
	}

	metrics.CartItemsAddedTotal.Inc()
	h.publish(c, map[string]any{
		"type":       "cart_item_added",
		"cart_id":    crt.ID,
		"product_id": req.ProductID,
		"size":       req.Size,
		"length":     req.Length,
		"line_id":    lineID,
	})
	return c.JSON(http.StatusOK, map[string]any{
		"cart_token": crt.Token,
		"line_id":    lineID,
	})
}

func (h *CartHandler) UpdateLine(c echo.Context) error {
	lineID, err := strconv.Atoi(c.Param("id"))
	if err != nil || lineID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid line id")
	}
	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	crt, err := h.resolveCart(c)
	if err != nil {
		return respond(c, err)
	}
	if err := h.Engine.UpdateQuantity(c.Request().Context(), crt.ID, uint(lineID), req.Quantity); err != nil {
		return respond(c, err)
	}

	h.publish(c, map[string]any{
		"type":     "cart_line_updated",
		"cart_id":  crt.ID,
		"line_id":  lineID,
		"quantity": req.Quantity,
	})
	view, err := h.Engine.BuildView(c.Request().Context(), crt)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *CartHandler) RemoveLine(c echo.Context) error {
	lineID, err := strconv.Atoi(c.Param("id"))
	if err != nil || lineID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid line id")
	}

	crt, err := h.resolveCart(c)
	if err != nil {
		return respond(c, err)
	}
	if err := h.Engine.Remove(c.Request().Context(), crt.ID, uint(lineID)); err != nil {
		return respond(c, err)
	}

	h.publish(c, map[string]any{
		"type":    "cart_line_removed",
		"cart_id": crt.ID,
		"line_id": lineID,
	})
	view, err := h.Engine.BuildView(c.Request().Context(), crt)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

// Checkout assumes payment is already confirmed upstream; both payment
// adapters feed this same entry point.
func (h *CartHandler) Checkout(c echo.Context) error {
	var details checkout.CustomerDetails
	if err := c.Bind(&details); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	crt, err := h.resolveCart(c)
	if err != nil {
		return respond(c, err)
	}

	receipt, err := h.Orchestrator.Checkout(c.Request().Context(), crt, details)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(http.StatusOK, receipt)
}
