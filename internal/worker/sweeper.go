package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/YeonwooSung/ticketing-system/internal/service"
	"github.com/YeonwooSung/ticketing-system/pkg/logger"
)

// SweeperConfig contains configuration for the expiry sweeper
type SweeperConfig struct {
	// ScanInterval is the interval between scans for lapsed reservations
	ScanInterval time.Duration
	// BatchSize caps how many reservations one scan expires
	BatchSize int
}

// DefaultSweeperConfig returns default configuration
func DefaultSweeperConfig() *SweeperConfig {
	return &SweeperConfig{
		ScanInterval: 30 * time.Second,
		BatchSize:    100,
	}
}

// Sweeper periodically returns lapsed reservation holds to the available
// pool. Multiple sweepers can run concurrently; the row locks are taken with
// SKIP LOCKED so they never contend on the same batch.
type Sweeper struct {
	reservations service.ReservationService
	config       *SweeperConfig
	log          *logger.Logger
	stopCh       chan struct{}
	wg           sync.WaitGroup
	mu           sync.Mutex
	running      bool

	// Stats
	totalExpired     int64
	lastScanTime     time.Time
	lastExpiredCount int
}

// NewSweeper creates a sweeper
func NewSweeper(reservations service.ReservationService, config *SweeperConfig) *Sweeper {
	if config == nil {
		config = DefaultSweeperConfig()
	}
	return &Sweeper{
		reservations: reservations,
		config:       config,
		log:          logger.Get(),
		stopCh:       make(chan struct{}),
	}
}

// Start starts the sweeper loop
func (w *Sweeper) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("sweeper already running")
	}
	w.running = true
	w.mu.Unlock()

	w.log.Info("Starting expiry sweeper",
		zap.Duration("scan_interval", w.config.ScanInterval),
		zap.Int("batch_size", w.config.BatchSize),
	)

	w.wg.Add(1)
	go w.scan(ctx)

	return nil
}

// Stop stops the sweeper and waits for the current scan to finish
func (w *Sweeper) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.log.Info("Stopping expiry sweeper")
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("Expiry sweeper stopped")
}

func (w *Sweeper) scan(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.ScanInterval)
	defer ticker.Stop()

	// Run immediately on start
	w.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep keeps expiring batches until one comes back short, so a backlog
// larger than BatchSize still drains within a single cycle
func (w *Sweeper) sweep(ctx context.Context) {
	w.mu.Lock()
	w.lastScanTime = time.Now()
	w.mu.Unlock()

	total := 0
	for {
		expired, err := w.reservations.ExpireBatch(ctx, w.config.BatchSize)
		if err != nil {
			w.log.Error("Failed to expire reservations", zap.Error(err))
			break
		}
		total += expired
		if expired < w.config.BatchSize {
			break
		}

		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}
	}

	w.mu.Lock()
	w.lastExpiredCount = total
	w.totalExpired += int64(total)
	w.mu.Unlock()

	if total > 0 {
		w.log.Info("Expired lapsed reservations", zap.Int("count", total))
	}
}

// GetStats returns sweeper statistics
func (w *Sweeper) GetStats() *SweeperStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return &SweeperStats{
		IsRunning:        w.running,
		TotalExpired:     w.totalExpired,
		LastScanTime:     w.lastScanTime,
		LastExpiredCount: w.lastExpiredCount,
	}
}

// SweeperStats contains sweeper statistics
type SweeperStats struct {
	IsRunning        bool      `json:"is_running"`
	TotalExpired     int64     `json:"total_expired"`
	LastScanTime     time.Time `json:"last_scan_time"`
	LastExpiredCount int       `json:"last_expired_count"`
}
