package telemetry

import (
	"sync"
	"time"
)

// StatsProvider is implemented by the runner
type StatsProvider interface {
	PendingRequestCount() int
	LiveQueries() int64
	OpenDatabaseCount() int
}

// MetricsCollector periodically samples runner stats into telemetry gauges
type MetricsCollector struct {
	provider StatsProvider
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(provider StatsProvider, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		provider: provider,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic collection
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop stops the collector
func (mc *MetricsCollector) Stop() {
	mc.stopOnce.Do(func() { close(mc.stopCh) })
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collect()

	for {
		select {
		case <-ticker.C:
			mc.collect()
		case <-mc.stopCh:
			mc.collect()
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	if mc.provider == nil {
		return
	}

	PendingRequests.Set(float64(mc.provider.PendingRequestCount()))
	LiveQueries.Set(float64(mc.provider.LiveQueries()))
	OpenDatabases.Set(float64(mc.provider.OpenDatabaseCount()))
}
