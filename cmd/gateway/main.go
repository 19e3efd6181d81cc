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

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/archivepay/archive-gateway/internal/chain"
	"github.com/archivepay/archive-gateway/internal/config"
	"github.com/archivepay/archive-gateway/internal/gateway"
	"github.com/archivepay/archive-gateway/internal/invoice"
	"github.com/archivepay/archive-gateway/internal/pricing"
	"github.com/archivepay/archive-gateway/internal/provider"
	"github.com/archivepay/archive-gateway/internal/proxy"
	"github.com/archivepay/archive-gateway/internal/settle"
	"github.com/archivepay/archive-gateway/internal/verify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback, _ := zap.NewProduction()
		fallback.Fatal("config load failed", zap.Error(err))
	}

	log := newLogger(cfg.Server.LogLevel)
	defer log.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Invoice store (Redis with in-memory fallback) ─────────────────────────
	store := invoice.New(ctx, cfg.Store.URL, time.Duration(cfg.Store.TTLSeconds)*time.Second, log)

	// ── Pricing ───────────────────────────────────────────────────────────────
	policy, err := pricing.NewPolicy(cfg.Pricing.PricePerQuery, cfg.Pricing.Overrides, cfg.Payment.TokenDecimals)
	if err != nil {
		log.Fatal("pricing policy init failed", zap.Error(err))
	}

	// ── Chain client + verifier ───────────────────────────────────────────────
	onchain := chain.NewClient(cfg.Chain.RPCURL, log)
	var facilitator *verify.FacilitatorClient
	if cfg.Facilitator.VerifyURL != "" {
		facilitator = verify.NewFacilitatorClient(cfg.Facilitator.VerifyURL)
	}
	verifier := verify.New(onchain, facilitator, log)

	// ── Provider registry ─────────────────────────────────────────────────────
	registry := provider.NewRegistry(log)
	registry.Add(provider.Provider{
		ID:              "default",
		Name:            "Default archive",
		URL:             cfg.Upstream.DefaultURL,
		Tier:            provider.TierPremium,
		PriceMultiplier: 0,
		Reputation:      90,
		Uptime:          99,
		LatencyMs:       120,
		Features:        []string{provider.FeatureHistorical},
	})
	if cfg.Upstream.UseFallback && cfg.Upstream.FallbackURL != "" {
		registry.Add(provider.Provider{
			ID:              "fallback",
			Name:            "Fallback archive",
			URL:             cfg.Upstream.FallbackURL,
			Tier:            provider.TierPublic,
			PriceMultiplier: 0,
			Reputation:      70,
			Uptime:          95,
			LatencyMs:       250,
			Features:        []string{provider.FeatureHistorical},
		})
	}

	forwarder := proxy.NewForwarder(registry, log)
	notifier := settle.NewNotifier(cfg.Facilitator.SettleURL, cfg.Chain.Tag, log)

	// ── HTTP server ───────────────────────────────────────────────────────────
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	h := gateway.NewHandler(gateway.Config{
		Store:         store,
		Policy:        policy,
		Verifier:      verifier,
		Forwarder:     forwarder,
		Notifier:      notifier,
		Registry:      registry,
		WalletAddress: cfg.Payment.WalletAddress,
		Mint:          cfg.Payment.Mint,
		TokenSymbol:   cfg.Payment.TokenSymbol,
		ChainTag:      cfg.Chain.Tag,
	}, log)
	h.Register(r)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Info("HTTP server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("store", store.Backend()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
}

func newLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	log, _ := cfg.Build()
	return log
}
