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

	"github.com/YeonwooSung/ticketing-system/internal/di"
	"github.com/YeonwooSung/ticketing-system/internal/metrics"
	"github.com/YeonwooSung/ticketing-system/internal/notify"
	"github.com/YeonwooSung/ticketing-system/pkg/config"
	"github.com/YeonwooSung/ticketing-system/pkg/database"
	"github.com/YeonwooSung/ticketing-system/pkg/logger"
	"github.com/YeonwooSung/ticketing-system/pkg/middleware"
	redispkg "github.com/YeonwooSung/ticketing-system/pkg/redis"
	"github.com/YeonwooSung/ticketing-system/pkg/retry"
	"github.com/YeonwooSung/ticketing-system/pkg/telemetry"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 2
	}

	logLevel := "info"
	if cfg.App.Debug {
		logLevel = "debug"
	}
	if err := logger.Init(&logger.Config{
		Level:       logLevel,
		ServiceName: cfg.App.Name,
		Development: cfg.IsDevelopment(),
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		return 1
	}
	log := logger.Get()
	defer logger.Sync()

	log.Info("starting api server",
		zap.String("environment", cfg.App.Environment),
		zap.String("version", cfg.App.Version),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry first so every client below traces from startup
	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
	}); err != nil {
		log.Error("failed to init telemetry", zap.Error(err))
		return 1
	}
	defer telemetry.Shutdown(context.Background())

	if err := metrics.Init(); err != nil {
		log.Error("failed to init metrics", zap.Error(err))
		return 1
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
		log.Error("failed to connect to postgres", zap.Error(err))
		return 1
	}
	defer db.Close()

	redisClient, err := redispkg.NewClient(ctx, &redispkg.Config{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		MaxRetries:   3,
	})
	if err != nil {
		log.Error("failed to connect to redis", zap.Error(err))
		return 1
	}
	defer redisClient.Close()

	container := di.NewContainer(cfg, db, redisClient)
	if err := container.LoadScripts(ctx); err != nil {
		log.Error("failed to load redis scripts", zap.Error(err))
		return 1
	}

	// Bridge Redis pub/sub into the in-process hub so WebSocket clients on
	// this instance see notifications published by workers elsewhere. The
	// subscription drops when Redis restarts; reconnect with backoff.
	bridge := notify.NewBridge(redisClient, container.Hub, log)
	go func() {
		result := retry.Do(ctx, &retry.Config{
			MaxRetries:      10,
			InitialInterval: time.Second,
			MaxInterval:     30 * time.Second,
			Multiplier:      2.0,
			JitterFactor:    0.1,
		}, func(ctx context.Context) error {
			return bridge.Run(ctx)
		})
		if result.Err != nil && !errors.Is(result.Err, retry.ErrContextCanceled) {
			log.Error("notification bridge stopped", zap.Error(result.Err))
		}
	}()

	router := setupRouter(cfg, container, redisClient)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Error("http server failed", zap.Error(err))
		return 1
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	container.Hub.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
		return 1
	}

	log.Info("server stopped")
	return 0
}

func setupRouter(cfg *config.Config, c *di.Container, redisClient *redispkg.Client) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger())
	if cfg.OTel.Enabled {
		router.Use(telemetry.TracingMiddleware(cfg.OTel.ServiceName))
	}

	router.GET("/health/live", c.HealthHandler.Live)
	router.GET("/health/ready", c.HealthHandler.Ready)
	router.GET("/health/stats", c.HealthHandler.Stats)

	idempotency := middleware.Idempotency(&middleware.IdempotencyConfig{
		Redis:         redisClient.Client(),
		TTL:           middleware.DefaultIdempotencyTTL,
		ProcessingTTL: 60 * time.Second,
	})

	events := router.Group("/events", middleware.RequireUser())
	{
		events.GET("", c.EventHandler.ListEvents)
		events.GET("/:id", c.EventHandler.GetEvent)
		events.GET("/:id/seats", c.EventHandler.ListSeats)
		events.GET("/:id/seats/available", c.EventHandler.GetAvailability)

		events.POST("", c.EventHandler.CreateEvent)
		events.PATCH("/:id", c.EventHandler.UpdateEvent)
		events.POST("/:id/start-sale", c.EventHandler.StartSale)
		events.POST("/:id/seats", c.EventHandler.CreateSeats)
	}

	reservations := router.Group("/reservations", middleware.RequireUser())
	{
		reservations.POST("", idempotency, c.ReservationHandler.Reserve)
		reservations.GET("", c.ReservationHandler.ListReservations)
		reservations.GET("/:id", c.ReservationHandler.GetReservation)
		reservations.POST("/:id/extend", c.ReservationHandler.ExtendReservation)
		reservations.DELETE("/:id", c.ReservationHandler.CancelReservation)
		reservations.DELETE("", c.ReservationHandler.CancelBatch)
	}

	bookings := router.Group("/bookings", middleware.RequireUser())
	{
		bookings.POST("", idempotency, c.BookingHandler.CreateBooking)
		bookings.GET("", c.BookingHandler.ListBookings)
		bookings.GET("/:id", c.BookingHandler.GetBooking)
		bookings.GET("/reference/:ref", c.BookingHandler.GetBookingByReference)
		bookings.POST("/:id/confirm-payment", c.BookingHandler.ConfirmPayment)
		bookings.POST("/:id/fail-payment", c.BookingHandler.FailPayment)
		bookings.POST("/:id/cancel", c.BookingHandler.CancelBooking)
	}

	v2 := router.Group("/v2")
	{
		async := v2.Group("/reservations", middleware.RequireUser())
		{
			async.POST("", idempotency, c.QueueHandler.Submit)
			async.GET("/:id", c.QueueHandler.GetStatus)
			async.DELETE("/:id", c.QueueHandler.CancelRequest)
		}

		v2.GET("/queue/stats/:id", middleware.RequireUser(), c.QueueHandler.GetStats)
		v2.GET("/queue/health", c.HealthHandler.Ready)

		ws := v2.Group("/ws", middleware.RequireUser())
		{
			ws.GET("/reservation/:id", c.WSHandler.WatchRequest)
			ws.GET("/user/:user_id", c.WSHandler.WatchUser)
		}
	}

	return router
}
