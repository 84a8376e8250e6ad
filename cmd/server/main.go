package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/joaovsf/fitbook/internal/app"
	"github.com/joaovsf/fitbook/internal/config"
	"github.com/joaovsf/fitbook/internal/database"
	"github.com/joaovsf/fitbook/internal/engine"
	"github.com/joaovsf/fitbook/internal/handler"
	"github.com/joaovsf/fitbook/internal/middleware"
	"github.com/joaovsf/fitbook/internal/queue"
	"github.com/joaovsf/fitbook/internal/repository"
	"github.com/joaovsf/fitbook/internal/router"
)

func main() {
	// .env is a development convenience; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	cfg := config.Load()
	logger := app.NewLogger(cfg.Env)
	defer logger.Sync()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}
	if v, err := database.MigrationVersion(ctx, db); err == nil {
		logger.Info("schema ready", zap.Int64("version", v))
	}

	rdb := config.NewRedisClient()
	if rdb == nil {
		logger.Warn("redis unavailable, rate limiting and policy cache disabled")
	}

	var publisher queue.Publisher = queue.NopPublisher{}
	if cfg.AMQPURL != "" {
		publisher = queue.NewAMQPPublisher(cfg.AMQPURL, logger)
	}

	store := repository.NewStore(db)
	policies := repository.NewPolicyRepo(store.DB(), rdb, cfg.PolicyCacheTTL)

	eng := engine.New(store, policies, publisher, logger,
		engine.WithOpTimeout(cfg.OpTimeout))

	sweeper := engine.NewSweeper(eng, cfg.SweepInterval, logger)
	go sweeper.Run(ctx)

	e := echo.New()
	e.HideBanner = true

	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, logger)
	router.Register(e, router.Handlers{
		Booking: handler.NewBookingHandler(eng),
		Slot:    handler.NewSlotHandler(eng),
		Ledger:  handler.NewLedgerHandler(eng),
		Policy:  handler.NewPolicyHandler(policies),
	}, cfg.JWTSecret, limiter)

	addr := ":" + cfg.Port
	logger.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))

	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}
