package metrics

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"
)

// StatusCounter reports the number of stored broadcasts per status
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[string]int, error)
}

// Collector periodically refreshes gauges that are sampled rather than
// incremented.
type Collector struct {
	metrics   *Metrics
	statuses  StatusCounter
	dbPath    string
	interval  time.Duration
	startTime time.Time
	logger    *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCollector creates a collector. statuses may be nil.
func NewCollector(m *Metrics, statuses StatusCounter, dbPath string, interval time.Duration, logger *slog.Logger) *Collector {
	if interval == 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		metrics:   m,
		statuses:  statuses,
		dbPath:    dbPath,
		interval:  interval,
		startTime: time.Now(),
		logger:    logger.With("component", "metrics-collector"),
		stopCh:    make(chan struct{}),
	}
}

// Start begins sampling in the background
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.loop(ctx)
}

// Stop stops sampling and waits for the loop to exit
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Collector) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Collect(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.Collect(ctx)
		}
	}
}

// Collect samples every gauge once
func (c *Collector) Collect(ctx context.Context) {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.dbPath != "" && c.dbPath != ":memory:" {
		if info, err := os.Stat(c.dbPath); err == nil {
			c.metrics.DatabaseSizeBytes.Set(float64(info.Size()))
		}
	}

	if c.statuses == nil {
		return
	}
	counts, err := c.statuses.CountByStatus(ctx)
	if err != nil {
		c.logger.Warn("failed to count broadcasts by status", "error", err)
		return
	}
	c.metrics.BroadcastsByStatus.Reset()
	for status, n := range counts {
		c.metrics.BroadcastsByStatus.WithLabelValues(status).Set(float64(n))
	}
}
