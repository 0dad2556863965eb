package main

import (
	"context"
	"flag"
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

	"github.com/tallymarket/clob-engine/internal/api"
	"github.com/tallymarket/clob-engine/internal/auth"
	"github.com/tallymarket/clob-engine/internal/batch"
	"github.com/tallymarket/clob-engine/internal/config"
	"github.com/tallymarket/clob-engine/internal/curve"
	"github.com/tallymarket/clob-engine/internal/engine"
	"github.com/tallymarket/clob-engine/internal/ledger"
	"github.com/tallymarket/clob-engine/internal/metrics"
	"github.com/tallymarket/clob-engine/internal/store"
)

// maxBatchOrders is the hard cap on orders per batch call.
const maxBatchOrders = 2

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := cfg.Storage.DatabaseURL; dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := cfg.Storage.RedisURL; redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid redis url", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL())
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("database_url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Pricing and engine ---
	maker, err := curve.NewMaker(cfg.Fees.TradeRate)
	if err != nil {
		slog.Error("invalid trade fee rate", "err", err)
		os.Exit(1)
	}

	eng := engine.New(engine.Config{
		Store:             st,
		Registry:          auth.NewRegistry(cfg.Roles.Owner, cfg.Roles.Custodians),
		Ledger:            ledger.NewMemoryAdapter(), // TODO: swap for the settlement-rail adapter once its endpoint ships
		Maker:             maker,
		Batch:             batch.NewValidator(maxBatchOrders),
		FeeAccount:        cfg.Roles.FeeAccount,
		ResolutionFeeRate: cfg.Fees.ResolutionRate,
		WithdrawFeeRate:   cfg.Fees.WithdrawRate,
		SlippageTolerance: cfg.Fees.SlippageTolerance,
	})

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run()

	srv := api.NewServer(eng, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(cfg.Timeout()))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Caller-ID")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"clob-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", srv.Routes)

	// --- Server ---
	httpSrv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("clob-engine listening", "port", cfg.Server.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

	slog.Info("shutting down clob-engine...")
	if err := httpSrv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("clob-engine stopped")
}
