// Package catalog is the read side of the product store. Stock is never
// written here: every stock mutation goes through the inventory ledger.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"github.com/annakotova/braid_shop/internal/logging"
	"github.com/annakotova/braid_shop/internal/models"
	"github.com/annakotova/braid_shop/internal/shoperr"
)

const cacheTTL = 60 * time.Second

type Reader struct {
	DB    *gorm.DB
	Cache *redis.Client // nil disables caching
}

func NewReader(db *gorm.DB, cache *redis.Client) *Reader {
	return &Reader{DB: db, Cache: cache}
}

func (r *Reader) ByID(ctx context.Context, id uint) (*models.Product, error) {
	return r.lookup(ctx, fmt.Sprintf("product:id:%d", id), func(p *models.Product) error {
		return r.DB.WithContext(ctx).Preload("Sizes").First(p, id).Error
	})
}

func (r *Reader) BySlug(ctx context.Context, slug string) (*models.Product, error) {
	return r.lookup(ctx, "product:slug:"+slug, func(p *models.Product) error {
		return r.DB.WithContext(ctx).Preload("Sizes").Where("slug = ?", slug).First(p).Error
	})
}

func (r *Reader) lookup(ctx context.Context, key string, load func(*models.Product) error) (*models.Product, error) {
	var p models.Product
	if r.Cache != nil {
		if raw, err := r.Cache.Get(ctx, key).Bytes(); err == nil {
			if err := json.Unmarshal(raw, &p); err == nil {
				return &p, nil
			}
		}
	}

	if err := load(&p); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shoperr.E(shoperr.KindNotFound, "product not found")
		}
		return nil, fmt.Errorf("catalog lookup: %w", err)
	}

	if r.Cache != nil {
		if raw, err := json.Marshal(&p); err == nil {
			if err := r.Cache.Set(ctx, key, raw, cacheTTL).Err(); err != nil {
				logging.FromContext(ctx).Warn("catalog cache set failed", "key", key, "err", err)
			}
		}
	}
	return &p, nil
}

// Invalidate drops the cached entries after an admin write or a stock
// mutation. Safe to call with a nil cache.
func (r *Reader) Invalidate(ctx context.Context, id uint, slug string) {
	if r.Cache == nil {
		return
	}
	keys := []string{fmt.Sprintf("product:id:%d", id)}
	if slug != "" {
		keys = append(keys, "product:slug:"+slug)
	}
	if err := r.Cache.Del(ctx, keys...).Err(); err != nil {
		logging.FromContext(ctx).Warn("catalog cache invalidate failed", "err", err)
	}
}

func NewCache(addr, password string) (*redis.Client, error) {
	if addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}
