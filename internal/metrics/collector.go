package metrics

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// OutboxStats contains outbox statistics for metrics
type OutboxStats struct {
	Pending int
	Claimed int
}

// OutboxStatsProvider provides outbox statistics for metrics
type OutboxStatsProvider interface {
	OutboxStats(ctx context.Context) (*OutboxStats, error)
}

// Collector periodically refreshes system and outbox gauges
type Collector struct {
	metrics   *Metrics
	outbox    OutboxStatsProvider
	interval  time.Duration
	startTime time.Time

	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewCollector creates a new gauge collector. outbox may be nil.
func NewCollector(m *Metrics, outbox OutboxStatsProvider, interval time.Duration) *Collector {
	if interval == 0 {
		interval = 5 * time.Second
	}
	return &Collector{
		metrics:   m,
		outbox:    outbox,
		interval:  interval,
		startTime: time.Now(),
		stopCh:    make(chan struct{}),
	}
}

// Start begins the collector background loop
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.loop(ctx)
}

// Stop stops the collector and waits for the loop to exit
func (c *Collector) Stop() {
	c.once.Do(func() { close(c.stopCh) })
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

// Collect updates all gauges once
func (c *Collector) Collect(ctx context.Context) {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.outbox != nil {
		stats, err := c.outbox.OutboxStats(ctx)
		if err == nil {
			c.metrics.OutboxPending.Set(float64(stats.Pending))
			c.metrics.OutboxClaimed.Set(float64(stats.Claimed))
		}
	}
}
