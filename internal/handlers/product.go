package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v9"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/annakotova/braid_shop/internal/catalog"
	"github.com/annakotova/braid_shop/internal/inventory"
	"github.com/annakotova/braid_shop/internal/lengths"
	"github.com/annakotova/braid_shop/internal/models"
	"github.com/annakotova/braid_shop/internal/mykafka"
	"github.com/annakotova/braid_shop/internal/service/search"
	"github.com/annakotova/braid_shop/internal/shoperr"
	"github.com/annakotova/braid_shop/internal/util"
)

type ProductHandler struct {
	DB       *gorm.DB
	Catalog  *catalog.Reader
	Ledger   *inventory.Ledger
	Producer *mykafka.Producer
	ES       *elasticsearch.Client
	Index    string
}

// respond maps domain error kinds to HTTP; see shoperr.
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

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return def
}

func (h *ProductHandler) publish(c echo.Context, event map[string]any) {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Producer.PublishEvent(ctx, "product_events", fmt.Sprint(event["product_id"]), event); err != nil {
		c.Logger().Errorf("Kafka publish error: %v", err)
	}
}

// GetProduct accepts a numeric id or a slug.
func (h *ProductHandler) GetProduct(c echo.Context) error {
	param := c.Param("id")
	ctx := c.Request().Context()

	var (
		product *models.Product
		err     error
	)
	if id, convErr := strconv.Atoi(param); convErr == nil && id > 0 {
		product, err = h.Catalog.ByID(ctx, uint(id))
	} else {
		product, err = h.Catalog.BySlug(ctx, param)
	}
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(http.StatusOK, product)
}

func (h *ProductHandler) GetProducts(c echo.Context) error {
	page := parseIntDefault(c.QueryParam("page"), 1)
	size := parseIntDefault(c.QueryParam("size"), util.DefaultPageSize)
	offset, limit := util.Calculate(page, size)

	var total int64
	if err := h.DB.Model(&models.Product{}).Count(&total).Error; err != nil {
		return respond(c, err)
	}

	var items []models.Product
	if err := h.DB.Preload("Sizes").Order("id ASC").Offset(offset).Limit(limit).Find(&items).Error; err != nil {
		return respond(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"data": items,
		"meta": map[string]any{
			"page":        page,
			"size":        limit,
			"total":       total,
			"total_pages": (total + int64(limit) - 1) / int64(limit),
			"has_prev":    page > 1,
			"has_next":    int64(offset+limit) < total,
		},
	})
}

var validSizes = map[string]bool{
	"XS": true, "S": true, "M": true, "L": true, "XL": true, "XXL": true,
}

type sizeInput struct {
	Size    string `json:"size"`
	Lengths string `json:"lengths"`
}

type productInput struct {
	Slug         string          `json:"slug"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Price        decimal.Decimal `json:"price"`
	InitialStock int             `json:"initial_stock"`
	Available    *bool           `json:"available"`
	Sizes        []sizeInput     `json:"sizes"`
}

// buildSizes canonicalizes admin length input per size and rejects unknown
// size codes. Fails closed: a malformed payload never stores a half-parsed
// product.
func buildSizes(inputs []sizeInput) ([]models.ProductSize, error) {
	if len(inputs) == 0 {
		return nil, shoperr.E(shoperr.KindValidation, "at least one size is required")
	}
	seen := make(map[string]bool, len(inputs))
	out := make([]models.ProductSize, 0, len(inputs))
	for _, in := range inputs {
		code := strings.ToUpper(strings.TrimSpace(in.Size))
		if !validSizes[code] {
			return nil, shoperr.E(shoperr.KindValidation, "unknown size code %q", in.Size)
		}
		if seen[code] {
			return nil, shoperr.E(shoperr.KindValidation, "duplicate size code %q", code)
		}
		seen[code] = true
		canonical := lengths.Canonical(lengths.Normalize(in.Lengths))
		if strings.TrimSpace(in.Lengths) != "" && canonical == "" {
			return nil, shoperr.E(shoperr.KindValidation, "no valid lengths in %q for size %q", in.Lengths, code)
		}
		out = append(out, models.ProductSize{Size: code, Lengths: canonical})
	}
	return out, nil
}

func (h *ProductHandler) CreateProduct(c echo.Context) error {
	var req productInput
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	req.Slug = strings.TrimSpace(req.Slug)
	req.Name = strings.TrimSpace(req.Name)
	if req.Slug == "" || req.Name == "" {
		return respond(c, shoperr.E(shoperr.KindValidation, "slug and name are required"))
	}
	if !req.Price.IsPositive() {
		return respond(c, shoperr.E(shoperr.KindValidation, "price must be greater than zero"))
	}
	if req.InitialStock < 0 {
		return respond(c, shoperr.E(shoperr.KindValidation, "initial_stock must not be negative"))
	}
	sizes, err := buildSizes(req.Sizes)
	if err != nil {
		return respond(c, err)
	}

	available := true
	if req.Available != nil {
		available = *req.Available
	}
	prod := models.Product{
		Slug:        req.Slug,
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Available:   available,
		Sizes:       sizes,
	}

	ctx := c.Request().Context()
	txErr := h.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&prod).Error; err != nil {
			return fmt.Errorf("create product: %w", err)
		}
		// Initial stock goes through the ledger so the projection equals
		// the ledger sum from the product's first day.
		if req.InitialStock > 0 {
			return h.Ledger.Adjust(ctx, tx, prod.ID, req.InitialStock, models.ReasonRestock, "product-created")
		}
		return nil
	})
	if txErr != nil {
		return respond(c, txErr)
	}
	prod.StockQuantity = req.InitialStock

	h.afterWrite(c, &prod)
	h.publish(c, map[string]any{"type": "product_created", "product_id": prod.ID, "slug": prod.Slug})
	return c.JSON(http.StatusCreated, prod)
}

type productPatch struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Price       *decimal.Decimal `json:"price"`
	Available   *bool            `json:"available"`
	Sizes       []sizeInput      `json:"sizes"`
}

// PatchProduct edits product metadata. Stock is deliberately absent here:
// only the inventory ledger changes quantities. Price edits do not touch
// existing order snapshots.
func (h *ProductHandler) PatchProduct(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req productPatch
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var prod models.Product
	if err := h.DB.Preload("Sizes").First(&prod, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return respond(c, shoperr.E(shoperr.KindNotFound, "product %d not found", id))
		}
		return respond(c, err)
	}

	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			return respond(c, shoperr.E(shoperr.KindValidation, "name must not be empty"))
		}
		prod.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		prod.Description = *req.Description
	}
	if req.Price != nil {
		if !req.Price.IsPositive() {
			return respond(c, shoperr.E(shoperr.KindValidation, "price must be greater than zero"))
		}
		prod.Price = *req.Price
	}
	if req.Available != nil {
		prod.Available = *req.Available
	}

	txErr := h.DB.WithContext(c.Request().Context()).Transaction(func(tx *gorm.DB) error {
		if req.Sizes != nil {
			sizes, err := buildSizes(req.Sizes)
			if err != nil {
				return err
			}
			if err := tx.Where("product_id = ?", prod.ID).Delete(&models.ProductSize{}).Error; err != nil {
				return fmt.Errorf("replace sizes: %w", err)
			}
			for i := range sizes {
				sizes[i].ProductID = prod.ID
			}
			if len(sizes) > 0 {
				if err := tx.Create(&sizes).Error; err != nil {
					return fmt.Errorf("replace sizes: %w", err)
				}
			}
			prod.Sizes = sizes
		}
		return tx.Omit("Sizes").Save(&prod).Error
	})
	if txErr != nil {
		return respond(c, txErr)
	}

	h.afterWrite(c, &prod)
	h.publish(c, map[string]any{"type": "product_updated", "product_id": prod.ID, "slug": prod.Slug})
	return c.JSON(http.StatusOK, prod)
}

func (h *ProductHandler) DeleteProduct(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var prod models.Product
	if err := h.DB.First(&prod, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return respond(c, shoperr.E(shoperr.KindNotFound, "product %d not found", id))
		}
		return respond(c, err)
	}
	if err := h.DB.Select("Sizes").Delete(&prod).Error; err != nil {
		return respond(c, err)
	}

	h.Catalog.Invalidate(c.Request().Context(), prod.ID, prod.Slug)
	if h.ES != nil {
		if err := search.DeleteProduct(c.Request().Context(), h.ES, h.Index, prod.ID); err != nil {
			c.Logger().Errorf("ES delete error: %v", err)
		}
	}
	h.publish(c, map[string]any{"type": "product_deleted", "product_id": prod.ID})
	return c.NoContent(http.StatusNoContent)
}

// Restock applies an admin stock delta through the ledger.
func (h *ProductHandler) Restock(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req struct {
		Delta  int    `json:"delta"`
		Reason string `json:"reason"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Reason == "" {
		req.Reason = models.ReasonRestock
	}

	ctx := c.Request().Context()
	ref := "admin-" + uuid.NewString()
	if err := h.Ledger.Adjust(ctx, h.DB, uint(id), req.Delta, req.Reason, ref); err != nil {
		return respond(c, err)
	}

	prod, err := h.refreshAfterStock(c, uint(id))
	if err != nil {
		return respond(c, err)
	}
	h.publish(c, map[string]any{
		"type":       "product_restocked",
		"product_id": prod.ID,
		"delta":      req.Delta,
		"stock":      prod.StockQuantity,
		"reference":  ref,
	})
	return c.JSON(http.StatusOK, prod)
}

// InventoryHistory exposes the audit trail for one product.
func (h *ProductHandler) InventoryHistory(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	events, err := h.Ledger.History(c.Request().Context(), uint(id))
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(http.StatusOK, events)
}

func (h *ProductHandler) refreshAfterStock(c echo.Context, id uint) (*models.Product, error) {
	h.Catalog.Invalidate(c.Request().Context(), id, "")
	var prod models.Product
	if err := h.DB.Preload("Sizes").First(&prod, id).Error; err != nil {
		return nil, err
	}
	h.Catalog.Invalidate(c.Request().Context(), prod.ID, prod.Slug)
	return &prod, nil
}

func (h *ProductHandler) afterWrite(c echo.Context, prod *models.Product) {
	h.Catalog.Invalidate(c.Request().Context(), prod.ID, prod.Slug)
	if h.ES != nil {
		if err := search.IndexProduct(c.Request().Context(), h.ES, h.Index, prod); err != nil {
			c.Logger().Errorf("ES index error: %v", err)
		}
	}
}
