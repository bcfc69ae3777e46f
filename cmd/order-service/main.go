package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/storefront-labs/checkout/internal/cart"
	"github.com/storefront-labs/checkout/internal/catalog"
	"github.com/storefront-labs/checkout/internal/config"
	"github.com/storefront-labs/checkout/internal/db"
	"github.com/storefront-labs/checkout/internal/gateway"
	"github.com/storefront-labs/checkout/internal/loyalty"
	"github.com/storefront-labs/checkout/internal/notify"
	"github.com/storefront-labs/checkout/internal/order"
	"github.com/storefront-labs/checkout/internal/search"
	"github.com/storefront-labs/checkout/internal/voucher"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.With().Str("service", "order-service").Logger()

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection failed")
	}
	defer pool.Close()

	ledger := catalog.NewPGLedger(pool)
	points := loyalty.NewPGStore(pool)
	carts := cart.NewPGRepo(pool)
	orderRepo := order.NewPGRepo(pool, ledger, points, carts)

	gw := gateway.NewClient(cfg.Gateway)
	if !gw.Configured() {
		log.Warn().Msg("payment gateway not configured, online methods disabled")
	}

	dispatcher := notify.NewDispatcher(pool, cfg.RedisAddr)
	index := search.NewOrderIndex(cfg.MeiliHost, cfg.MeiliKey, cfg.MeiliIndex)

	orders := order.NewService(orderRepo, carts, gw, dispatcher, index,
		cfg.Pricing, cfg.Loyalty, cfg.ClientURL)
	vouchers := voucher.NewService(voucher.NewPGRepo(pool))

	// Catch the index up with whatever happened while we were down.
	go orders.ReindexAll(ctx)

	r := newRouter(routerDeps{
		orders:   orders,
		vouchers: vouchers,
		points:   points,
		notes:    dispatcher,
		carts:    carts,
		products: ledger,
		health:   pool.Ping,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("order-service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		os.Exit(1)
	}
}
