package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/lqvu/vending-machine/config"
	"github.com/lqvu/vending-machine/internal/adapter/handler"
	"github.com/lqvu/vending-machine/internal/adapter/storage"
	"github.com/lqvu/vending-machine/internal/core/service"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	initLogger(cfg.Logger)
	defer zap.L().Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// MySQL
	db, err := sql.Open("mysql", cfg.Database.DSN)
	if err != nil {
		zap.S().Fatalf("failed to open mysql: %v", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		zap.S().Fatalf("failed to ping mysql: %v", err)
	}
	zap.L().Info("connected to mysql")

	repo := storage.NewMySQLAdapter(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		zap.S().Fatalf("failed to ensure schema: %v", err)
	}

	// Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		zap.S().Fatalf("failed to connect redis: %v", err)
	}
	zap.L().Info("connected to redis")
	cache := storage.NewRedisAdapter(rdb)

	svc, err := service.NewVendingService(repo, cache, cfg.Denominations)
	if err != nil {
		zap.S().Fatalf("invalid denomination config: %v", err)
	}

	// Periodic slot counter reconciliation
	sched := cron.New()
	if _, err := sched.AddFunc(cfg.ReconcileCron, func() {
		jobCtx, jobCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer jobCancel()
		if _, err := svc.ReconcileSlotCounts(jobCtx); err != nil {
			zap.L().Error("slot reconciliation failed", zap.Error(err))
		}
	}); err != nil {
		zap.S().Fatalf("invalid reconcile schedule %q: %v", cfg.ReconcileCron, err)
	}
	sched.Start()

	// HTTP server
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	handler.NewHTTPHandler(svc).RegisterRoutes(e)

	go func() {
		zap.S().Infof("HTTP server listening on %s", cfg.Server.Addr)
		if err := e.Start(cfg.Server.Addr); err != nil && err != http.ErrServerClosed {
			zap.S().Fatalf("HTTP server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zap.L().Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("HTTP shutdown error", zap.Error(err))
	}
	zap.L().Info("HTTP server stopped")

	sched.Stop()
	rdb.Close()
	db.Close()
	zap.L().Info("connections closed")
}

func initLogger(cfg config.LoggerConfig) {
	var zapConfig zap.Config
	if cfg.Mode == "production" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	var logger *zap.Logger
	if cfg.FileEnable && cfg.Filename != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    64,
			MaxBackups: 7,
			MaxAge:     7,
		}
		core := zapcore.NewTee(
			zapcore.NewCore(
				zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
				zapcore.AddSync(rotating),
				zapConfig.Level,
			),
			zapcore.NewCore(
				zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
				zapcore.AddSync(os.Stdout),
				zapConfig.Level,
			),
		)
		logger = zap.New(core, zap.AddCaller())
	} else {
		var err error
		logger, err = zapConfig.Build(zap.AddCaller())
		if err != nil {
			panic(err)
		}
	}
	zap.ReplaceGlobals(logger)
}
