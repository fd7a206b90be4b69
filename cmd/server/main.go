package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/shopspring/decimal"

	cartengine "github.com/annakotova/braid_shop/internal/cart"
	"github.com/annakotova/braid_shop/internal/catalog"
	"github.com/annakotova/braid_shop/internal/checkout"
	"github.com/annakotova/braid_shop/internal/config"
	"github.com/annakotova/braid_shop/internal/es"
	"github.com/annakotova/braid_shop/internal/handlers"
	carthandlers "github.com/annakotova/braid_shop/internal/handlers/cart"
	"github.com/annakotova/braid_shop/internal/inventory"
	"github.com/annakotova/braid_shop/internal/logging"
	"github.com/annakotova/braid_shop/internal/mykafka"
	"github.com/annakotova/braid_shop/internal/service/token"
	httpserver "github.com/annakotova/braid_shop/internal/transport/http"
	"github.com/annakotova/braid_shop/pkg/db"
)

func main() {
	configuration, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := logging.New(configuration.LOG_LEVEL)
	slog.SetDefault(logger)

	ctx := context.Background()
	database, err := db.Open(ctx, configuration.DatabaseURL())
	if err != nil {
		log.Fatalf("database init: %v", err)
	}

	prod, err := mykafka.NewProducer([]string{configuration.KAFKA_ADDRESS})
	if err != nil {
		logger.Warn("kafka disabled", "err", err)
		prod = &mykafka.Producer{}
	}

	cache, err := catalog.NewCache(configuration.REDIS_ADDR, configuration.REDIS_PASSWORD)
	if err != nil {
		logger.Warn("redis cache disabled", "err", err)
	}

	var searchHandler *handlers.SearchHandler
	esClient, err := es.NewClient(configuration)
	if err != nil {
		logger.Warn("elasticsearch disabled", "err", err)
		esClient = nil
	} else {
		searchHandler = &handlers.SearchHandler{ES: esClient, Index: "product"}
	}

	taxRate, err := decimal.NewFromString(configuration.TAX_RATE)
	if err != nil {
		log.Fatalf("invalid TAX_RATE: %v", err)
	}
	flatShipping, err := decimal.NewFromString(configuration.SHIPPING_FLAT)
	if err != nil {
		log.Fatalf("invalid SHIPPING_FLAT: %v", err)
	}

	reader := catalog.NewReader(database, cache)
	engine := cartengine.NewEngine(database, reader, cartengine.FlatPricing{TaxRate: taxRate, FlatShipping: flatShipping})
	ledger := inventory.NewLedger(database)
	orchestrator := checkout.NewOrchestrator(database, engine, ledger, prod)

	jwtSecret := []byte(configuration.JWT_SECRET)
	refreshSecret := []byte(configuration.REFRESH_SECRET)
	tokenService := &token.TokenService{DB: database, JWTSecret: jwtSecret, RefreshSecret: refreshSecret}

	e := echo.New()
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover(), middleware.RequestID())

	deps := httpserver.Deps{
		DB: database,
		AuthHandler: &handlers.AuthHandler{
			DB: database, JWTSecret: jwtSecret, RefreshSecret: refreshSecret,
			Producer: prod, Engine: engine,
		},
		ProductHandler: &handlers.ProductHandler{
			DB: database, Catalog: reader, Ledger: ledger,
			Producer: prod, ES: esClient, Index: "product",
		},
		OrderHandler:  &handlers.OrderHandler{DB: database, Orchestrator: orchestrator},
		CartHandler:   &carthandlers.CartHandler{Engine: engine, Orchestrator: orchestrator, Producer: prod},
		SearchHandler: searchHandler,
		TokenService:  tokenService,
	}
	httpserver.Register(e, &deps)

	srv := &http.Server{
		Addr:         configuration.HTTP_ADDR,
		Handler:      e,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "err", err)
	}
	if sqlDB, err := database.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			logger.Error("db close error", "err", err)
		}
	}
	if err := prod.Close(); err != nil {
		logger.Error("kafka close error", "err", err)
	}
	if cache != nil {
		if err := cache.Close(); err != nil {
			logger.Error("redis close error", "err", err)
		}
	}

	logger.Info("shutdown complete")
}
