package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/Dialogue/internal/adapters/auth"
	router "github.com/dkeye/Dialogue/internal/adapters/http"
	"github.com/dkeye/Dialogue/internal/adapters/rtc"
	wssignal "github.com/dkeye/Dialogue/internal/adapters/signal"
	"github.com/dkeye/Dialogue/internal/adapters/store"
	"github.com/dkeye/Dialogue/internal/app"
	"github.com/dkeye/Dialogue/internal/app/calls"
	"github.com/dkeye/Dialogue/internal/app/orch"
	"github.com/dkeye/Dialogue/internal/config"
	"github.com/dkeye/Dialogue/internal/core"
	"github.com/dkeye/Dialogue/internal/metrics"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	convs, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer closeStore()

	m := metrics.New()
	reg := app.NewRegistry()
	dispatcher := app.NewDispatcher(reg, app.SimplePolicy{}, m)
	coordinator := calls.NewCoordinator(dispatcher, cfg.CallTimeout, m)
	defer coordinator.Close()

	offers := wssignal.NewOfferLimiter(cfg.OfferRate, cfg.OfferBurst)
	lifecycle := &app.Lifecycle{Registry: reg, Calls: coordinator, Metrics: m}
	o := &orch.Orchestrator{
		Registry:   reg,
		Dispatcher: dispatcher,
		Lifecycle:  lifecycle,
		Calls:      coordinator,
		Store:      convs,
		Offers:     offers,
		Metrics:    m,
	}
	lifecycle.OnPresence = o.OnPresence

	ctrl := &wssignal.SignalWSController{
		Orch:       o,
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		SendBuffer: cfg.SendBuffer,
		ICE:        rtc.ICEConfig(cfg.ICEServers),

		AllowedOrigins: cfg.AllowedOrigins,
	}
	r := router.SetupRouter(ctx, cfg, router.Deps{
		Orch:    o,
		Auth:    auth.NewJWTGate(cfg.JWTSecret),
		Signal:  ctrl,
		Metrics: m,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("Dialogue server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		lifecycle.Reap(gctx, cfg.PingPeriod, cfg.IdleTimeout)
		return nil
	})
	g.Go(func() error {
		offers.Run(gctx, time.Minute)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
		return
	}
	log.Info().Msg("Server exited gracefully")
}

func openStore(ctx context.Context, cfg config.StoreConfig) (core.ConversationStore, func(), error) {
	if cfg.Driver != "redis" {
		log.Warn().Str("module", "main").Msg("using in-memory conversation store")
		return store.NewMemory(), func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	s := store.NewRedis(rdb)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.Ping(pingCtx); err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	log.Info().Str("module", "main").Str("addr", cfg.RedisAddr).Msg("connected to redis")
	return s, func() { _ = rdb.Close() }, nil
}
