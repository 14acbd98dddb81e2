package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/idopools/sale-engine/internal/auth"
	"github.com/idopools/sale-engine/internal/config"
	"github.com/idopools/sale-engine/internal/metrics"
	"github.com/idopools/sale-engine/internal/sale"
	"github.com/idopools/sale-engine/internal/store"
	"github.com/idopools/sale-engine/internal/token"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Token ledger ---
	bank := token.NewBank()
	tokens, err := cfg.ParseTokens()
	if err != nil {
		slog.Error("invalid TOKENS", "err", err)
		os.Exit(1)
	}
	for sym, decimals := range tokens {
		bank.RegisterToken(sym, decimals)
		slog.Info("token registered", "symbol", sym, "decimals", decimals)
	}

	// --- Privileged-caller gate ---
	gate := auth.NewOwnerGate(cfg.OwnerKey)

	// --- WebSocket hub ---
	wsHub := sale.NewWSHub()
	go wsHub.Run()

	// --- Sale service ---
	saleSvc := sale.NewService(st, bank, gate, cfg.PoolAccount, cfg.TreasuryAccount, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"sale-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time round events.
		r.Get("/ws", wsHub.HandleWS)

		// Round lifecycle.
		r.Get("/rounds", saleSvc.ListRounds)
		r.Post("/rounds", saleSvc.CreateRound)
		r.Get("/rounds/{roundID}", saleSvc.GetRound)
		r.Post("/rounds/{roundID}/finalize", saleSvc.FinalizeRound)
		r.Post("/rounds/{roundID}/delay-end", saleSvc.DelayEndTime)
		r.Post("/rounds/{roundID}/delay-claimable", saleSvc.DelayClaimableTime)
		r.Post("/rounds/{roundID}/whitelist-status", saleSvc.SetWhitelistStatus)
		r.Post("/rounds/{roundID}/whitelist", saleSvc.ModifyWhitelist)
		r.Post("/rounds/{roundID}/secondary-cap", saleSvc.SetSecondaryCap)
		r.Post("/rounds/{roundID}/spec", saleSvc.SetRoundSpec)

		// Funding and settlement.
		r.Post("/rounds/{roundID}/participate", saleSvc.Participate)
		r.Post("/rounds/{roundID}/claim", saleSvc.Claim)
		r.Post("/rounds/{roundID}/withdraw-spare", saleSvc.WithdrawSpare)
		r.Get("/rounds/{roundID}/positions/{participant}", saleSvc.GetPosition)

		// MetaIDO grouping and eligibility.
		r.Post("/metaidos", saleSvc.CreateMetaIDO)
		r.Get("/metaidos/{metaID}", saleSvc.GetMetaIDO)
		r.Post("/metaidos/{metaID}/rounds", saleSvc.ManageRound)
		r.Post("/metaidos/{metaID}/register", saleSvc.Register)
		r.Get("/eligibility", saleSvc.GetEligibility)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("sale-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down sale-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("sale-engine stopped")
}
