package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/YeonwooSung/ticketing-system/internal/metrics"
	"github.com/YeonwooSung/ticketing-system/internal/repository"
	"github.com/YeonwooSung/ticketing-system/internal/service"
	"github.com/YeonwooSung/ticketing-system/internal/worker"
	"github.com/YeonwooSung/ticketing-system/pkg/config"
	"github.com/YeonwooSung/ticketing-system/pkg/database"
	"github.com/YeonwooSung/ticketing-system/pkg/lock"
	"github.com/YeonwooSung/ticketing-system/pkg/logger"
	pkgredis "github.com/YeonwooSung/ticketing-system/pkg/redis"
	"github.com/YeonwooSung/ticketing-system/pkg/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(2)
	}

	logCfg := &logger.Config{
		Level:       "info",
		ServiceName: "sweeper",
		Development: cfg.IsDevelopment(),
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting expiry sweeper...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    "sweeper",
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
	}); err != nil {
		appLog.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer telemetry.Shutdown(context.Background())

	if err := metrics.Init(); err != nil {
		appLog.Fatal("Failed to initialize metrics", zap.Error(err))
	}

	db, err := database.NewPostgres(ctx, &database.PostgresConfig{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnectTimeout:  10 * time.Second,
		MaxRetries:      3,
		RetryInterval:   2 * time.Second,
	})
	if err != nil {
		appLog.Fatal("Failed to connect to Postgres", zap.Error(err))
	}
	defer db.Close()
	appLog.Info("Postgres connected")

	redis, err := pkgredis.NewClient(ctx, &pkgredis.Config{
		Host:          cfg.Redis.Host,
		Port:          cfg.Redis.Port,
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.DB,
		PoolSize:      cfg.Redis.PoolSize,
		MinIdleConns:  cfg.Redis.MinIdleConns,
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
	})
	if err != nil {
		appLog.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redis.Close()
	appLog.Info("Redis connected")

	pool := db.Pool()
	eventRepo := repository.NewPostgresEventRepository(pool)
	seatRepo := repository.NewPostgresSeatRepository(pool)
	reservationRepo := repository.NewPostgresReservationRepository(pool)
	txRunner := repository.NewPgxTxRunner(pool)

	locker := lock.NewManager(redis, lock.Options{
		TTL:        cfg.Lock.TTL,
		RetryDelay: cfg.Lock.RetryDelay,
		MaxWait:    cfg.Lock.MaxWait,
	})
	if err := locker.LoadScripts(ctx); err != nil {
		appLog.Warn("Failed to load lock scripts", zap.Error(err))
	}

	engine := service.NewReservationService(
		eventRepo, seatRepo, reservationRepo, txRunner, locker,
		&service.ReservationServiceConfig{
			HoldTimeout:        cfg.Reservation.Timeout,
			MaxSeatsPerBooking: cfg.Reservation.MaxSeatsPerBooking,
		},
	)

	sweeper := worker.NewSweeper(engine, &worker.SweeperConfig{
		ScanInterval: cfg.Sweeper.Interval,
		BatchSize:    cfg.Sweeper.BatchSize,
	})

	if err := sweeper.Start(ctx); err != nil {
		appLog.Fatal("Failed to start sweeper", zap.Error(err))
	}
	appLog.Info("Expiry sweeper started")

	go reportMetrics(ctx, sweeper, appLog)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down sweeper...")
	sweeper.Stop()
	cancel()
	appLog.Info("Sweeper stopped")
}

// reportMetrics periodically logs sweeper counters
func reportMetrics(ctx context.Context, w *worker.Sweeper, log *logger.Logger) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := w.GetStats()
			if stats.TotalExpired > 0 {
				log.Info("Sweeper metrics",
					zap.Int64("total_expired", stats.TotalExpired),
					zap.Int("last_batch", stats.LastExpiredCount),
					zap.Time("last_scan", stats.LastScanTime),
				)
			}
		}
	}
}
