package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/lending-backend/api/routes"
	"github.com/angelmondragon/lending-backend/internal/books"
	"github.com/angelmondragon/lending-backend/internal/borrows"
	"github.com/angelmondragon/lending-backend/internal/lending"
	"github.com/angelmondragon/lending-backend/internal/members"
	"github.com/angelmondragon/lending-backend/pkg/config"
	"github.com/angelmondragon/lending-backend/pkg/db"
	"github.com/angelmondragon/lending-backend/pkg/logger"
	"github.com/angelmondragon/lending-backend/pkg/metrics"
	"github.com/angelmondragon/lending-backend/pkg/migrate"
	"github.com/angelmondragon/lending-backend/pkg/outbox"
	"github.com/angelmondragon/lending-backend/pkg/redis"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	bookRepo := books.NewRepository(dbClient.DB())
	memberRepo := members.NewRepository(dbClient.DB())
	borrowRepo := borrows.NewRepository(dbClient.DB())

	// catalog edits and lending share one locker so a delete cannot interleave with a borrow
	locker := lending.NewKeyedLocker(cfg.Lending.LockWaitTimeout)

	bookService, err := books.NewService(books.ServiceParams{
		DB:      dbClient,
		Repo:    bookRepo,
		Borrows: borrowRepo,
		Locker:  locker,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create book service", err)
		os.Exit(1)
	}

	memberService, err := members.NewService(members.ServiceParams{
		DB:      dbClient,
		Repo:    memberRepo,
		Borrows: borrowRepo,
		Locker:  locker,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create member service", err)
		os.Exit(1)
	}

	lendingService, err := lending.NewService(lending.ServiceParams{
		Config:  cfg.Lending,
		DB:      dbClient,
		Members: memberRepo,
		Books:   bookRepo,
		Borrows: borrowRepo,
		Outbox:  outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Locker:  locker,
		Metrics: metrics.NewLendingMetrics(promRegistry),
		Logger:  logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create lending service", err)
		os.Exit(1)
	}

	addr := ":" + cfg.App.Port
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":                cfg.App.Env,
		"addr":               addr,
		"max_active_borrows": cfg.Lending.MaxActiveBorrows,
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, dbClient, redisClient, promRegistry, bookService, memberService, lendingService),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "api server shutdown failed", err)
		}
	}()

	logg.Info(ctx, "starting api server")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server shut down gracefully")
}
