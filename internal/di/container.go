package di

import (
	"context"

	"github.com/YeonwooSung/ticketing-system/internal/handler"
	"github.com/YeonwooSung/ticketing-system/internal/notify"
	"github.com/YeonwooSung/ticketing-system/internal/queue"
	"github.com/YeonwooSung/ticketing-system/internal/repository"
	"github.com/YeonwooSung/ticketing-system/internal/service"
	"github.com/YeonwooSung/ticketing-system/pkg/config"
	"github.com/YeonwooSung/ticketing-system/pkg/database"
	"github.com/YeonwooSung/ticketing-system/pkg/lock"
	"github.com/YeonwooSung/ticketing-system/pkg/logger"
	"github.com/YeonwooSung/ticketing-system/pkg/redis"
)

// Container holds all dependencies for the API server
type Container struct {
	// Infrastructure
	DB    *database.PostgresDB
	Redis *redis.Client

	// Repositories
	EventRepo       repository.EventRepository
	SeatRepo        repository.SeatRepository
	ReservationRepo repository.ReservationRepository
	BookingRepo     repository.BookingRepository
	TxRunner        repository.TxRunner

	// Coordination
	Locker      *lock.Manager
	Queue       queue.Queue
	StatusStore *queue.RedisStatusStore
	Hub         *notify.Hub
	Notifier    notify.Notifier

	// Services
	EventService       service.EventService
	ReservationService service.ReservationService
	BookingService     service.BookingService
	QueueService       service.QueueService

	// Handlers
	HealthHandler      *handler.HealthHandler
	EventHandler       *handler.EventHandler
	ReservationHandler *handler.ReservationHandler
	BookingHandler     *handler.BookingHandler
	QueueHandler       *handler.QueueHandler
	WSHandler          *handler.WSHandler
}

// NewContainer wires the full dependency graph from infrastructure clients
// and configuration
func NewContainer(cfg *config.Config, db *database.PostgresDB, redisClient *redis.Client) *Container {
	c := &Container{
		DB:    db,
		Redis: redisClient,
	}

	pool := db.Pool()
	c.EventRepo = repository.NewPostgresEventRepository(pool)
	c.SeatRepo = repository.NewPostgresSeatRepository(pool)
	c.ReservationRepo = repository.NewPostgresReservationRepository(pool)
	c.BookingRepo = repository.NewPostgresBookingRepository(pool)
	c.TxRunner = repository.NewPgxTxRunner(pool)

	c.Locker = lock.NewManager(redisClient, lock.Options{
		TTL:        cfg.Lock.TTL,
		RetryDelay: cfg.Lock.RetryDelay,
		MaxWait:    cfg.Lock.MaxWait,
	})

	c.Queue = queue.NewRedisQueue(redisClient)
	c.StatusStore = queue.NewRedisStatusStore(redisClient, cfg.Queue.StatusTTL)
	c.Hub = notify.NewHub(logger.Get())
	c.Notifier = notify.NewRedisNotifier(redisClient)

	c.EventService = service.NewEventService(c.EventRepo, c.SeatRepo, c.TxRunner)
	c.ReservationService = service.NewReservationService(
		c.EventRepo, c.SeatRepo, c.ReservationRepo, c.TxRunner, c.Locker,
		&service.ReservationServiceConfig{
			HoldTimeout:        cfg.Reservation.Timeout,
			MaxSeatsPerBooking: cfg.Reservation.MaxSeatsPerBooking,
		},
	)
	c.BookingService = service.NewBookingService(
		c.EventRepo, c.SeatRepo, c.ReservationRepo, c.BookingRepo, c.TxRunner, c.Locker,
	)
	c.QueueService = service.NewQueueService(
		c.EventRepo, c.Queue, c.StatusStore, c.Notifier, logger.Get(),
		&service.QueueServiceConfig{
			MaxSeatsPerBooking: cfg.Reservation.MaxSeatsPerBooking,
		},
	)

	c.HealthHandler = handler.NewHealthHandler(c.DB, c.Redis)
	c.EventHandler = handler.NewEventHandler(c.EventService)
	c.ReservationHandler = handler.NewReservationHandler(c.ReservationService)
	c.BookingHandler = handler.NewBookingHandler(c.BookingService)
	c.QueueHandler = handler.NewQueueHandler(c.QueueService)
	c.WSHandler = handler.NewWSHandler(c.Hub, c.QueueService, cfg.WebSocket.IdleTimeout)

	return c
}

// LoadScripts preloads the Lua scripts used by the lock manager and status
// store so the first requests do not pay the EVAL fallback
func (c *Container) LoadScripts(ctx context.Context) error {
	if err := c.Locker.LoadScripts(ctx); err != nil {
		return err
	}
	return c.StatusStore.LoadScripts(ctx)
}
