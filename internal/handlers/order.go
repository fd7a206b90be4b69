package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/annakotova/braid_shop/internal/checkout"
	"github.com/annakotova/braid_shop/internal/models"
	"github.com/annakotova/braid_shop/internal/shoperr"
)

type OrderHandler struct {
	DB           *gorm.DB
	Orchestrator *checkout.Orchestrator
}

func userIDFromCtx(c echo.Context) *uint {
	if v, ok := c.Get("userID").(uint); ok && v != 0 {
		return &v
	}
	return nil
}

func (h *OrderHandler) ListOrders(c echo.Context) error {
	userID := userIDFromCtx(c)
	if userID == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "login required")
	}
	var orders []models.Order
	if err := h.DB.Preload("Items").Where("user_id = ?", *userID).
		Order("id DESC").Find(&orders).Error; err != nil {
		return respond(c, err)
	}
	return c.JSON(http.StatusOK, orders)
}

func (h *OrderHandler) GetOrder(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	q := h.DB.Preload("Items").Where("id = ?", id)
	if role, _ := c.Get("role").(string); role != "admin" {
		userID := userIDFromCtx(c)
		if userID == nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "login required")
		}
		q = q.Where("user_id = ?", *userID)
	}

	var order models.Order
	if err := q.First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return respond(c, shoperr.E(shoperr.KindNotFound, "order %d not found", id))
		}
		return respond(c, err)
	}
	return c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) CancelOrder(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	userID := userIDFromCtx(c)
	if role, _ := c.Get("role").(string); role == "admin" {
		userID = nil
	} else if userID == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "login required")
	}

	if err := h.Orchestrator.Cancel(c.Request().Context(), uint(id), userID); err != nil {
		return respond(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *OrderHandler) UpdateStatus(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := h.Orchestrator.UpdateStatus(c.Request().Context(), uint(id), req.Status); err != nil {
		return respond(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
