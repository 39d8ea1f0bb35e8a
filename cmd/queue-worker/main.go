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
	"github.com/YeonwooSung/ticketing-system/internal/notify"
	"github.com/YeonwooSung/ticketing-system/internal/queue"
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
		ServiceName: "queue-worker",
		Development: cfg.IsDevelopment(),
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting queue worker...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    "queue-worker",
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

	statusStore := queue.NewRedisStatusStore(redis, cfg.Queue.StatusTTL)
	if err := statusStore.LoadScripts(ctx); err != nil {
		appLog.Warn("Failed to load status scripts", zap.Error(err))
	}

	engine := service.NewReservationService(
		eventRepo, seatRepo, reservationRepo, txRunner, locker,
		&service.ReservationServiceConfig{
			HoldTimeout:        cfg.Reservation.Timeout,
			MaxSeatsPerBooking: cfg.Reservation.MaxSeatsPerBooking,
		},
	)

	// Distinct consumer names keep each process's pending entries separate
	// within the shared group
	hostname, err := os.Hostname()
	if err != nil {
		hostname = fmt.Sprintf("pid-%d", os.Getpid())
	}
	workerCfg := &worker.QueueWorkerConfig{
		ConsumerName:         fmt.Sprintf("%s-%s", cfg.Queue.ConsumerPrefix, hostname),
		ReadBlock:            cfg.Queue.ReadBlock,
		ReclaimInterval:      30 * time.Second,
		ReclaimIdle:          cfg.Queue.ReclaimIdle,
		MaxDeliveries:        int64(cfg.Queue.MaxDeliveries),
		EventRefreshInterval: 10 * time.Second,
	}

	appLog.Info("Worker configuration",
		zap.String("consumer", workerCfg.ConsumerName),
		zap.Duration("read_block", workerCfg.ReadBlock),
		zap.Duration("reclaim_idle", workerCfg.ReclaimIdle),
		zap.Int64("max_deliveries", workerCfg.MaxDeliveries),
	)

	queueWorker := worker.NewQueueWorker(
		queue.NewRedisQueue(redis),
		statusStore,
		notify.NewRedisNotifier(redis),
		engine,
		workerCfg,
	)

	if err := queueWorker.Start(ctx); err != nil {
		appLog.Fatal("Failed to start queue worker", zap.Error(err))
	}
	appLog.Info("Queue worker started")

	go reportMetrics(ctx, queueWorker, appLog)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down queue worker...")
	queueWorker.Stop()
	cancel()
	appLog.Info("Queue worker stopped")
}

// reportMetrics periodically logs worker counters
func reportMetrics(ctx context.Context, w *worker.QueueWorker, log *logger.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := w.GetStats()
			if stats.TotalProcessed > 0 || stats.TotalFailed > 0 || stats.TotalDeadLettered > 0 {
				log.Info("Worker metrics",
					zap.Int64("processed", stats.TotalProcessed),
					zap.Int64("failed", stats.TotalFailed),
					zap.Int64("dead_lettered", stats.TotalDeadLettered),
				)
			}
		}
	}
}
