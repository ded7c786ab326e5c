package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// metricsKey is the Redis key holding dispatch-service metrics.
	metricsKey = "metrics:dispatch-service"
	// metricsTTL is how long metrics stay in Redis if not refreshed.
	metricsTTL = 2 * time.Minute
	// defaultReportInterval is the default interval for writing metrics to Redis.
	defaultReportInterval = 30 * time.Second
)

// PipelineMetrics is the snapshot written to Redis.
type PipelineMetrics struct {
	ServiceName string    `json:"service_name"`
	StartedAt   time.Time `json:"started_at"`
	LastUpdated time.Time `json:"last_updated"`

	AlertsReceived       uint64 `json:"alerts_received"`
	AlertsProcessed      uint64 `json:"alerts_processed"`
	EventsPublished      uint64 `json:"events_published"`
	ProcessingErrors     uint64 `json:"processing_errors"`
	MessagesAcked        uint64 `json:"messages_acked"`
	MessagesNaked        uint64 `json:"messages_naked"`
	InvalidDiscarded     uint64 `json:"invalid_discarded"`
	LowSeveritySkipped   uint64 `json:"low_severity_skipped"`
	DuplicatesSuppressed uint64 `json:"duplicates_suppressed"`

	AvgProcessingLatencyNs float64 `json:"avg_processing_latency_ns"`
}

// Collector collects pipeline counters and reports them to Redis.
type Collector struct {
	redis          *redis.Client
	startedAt      time.Time
	reportInterval time.Duration

	received   atomic.Uint64
	processed  atomic.Uint64
	published  atomic.Uint64
	errors     atomic.Uint64
	acked      atomic.Uint64
	naked      atomic.Uint64
	discarded  atomic.Uint64
	skipped    atomic.Uint64
	duplicates atomic.Uint64

	totalLatencyNs atomic.Uint64
	latencyCount   atomic.Uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewCollector creates a metrics collector reporting to the given Redis client.
func NewCollector(redisClient *redis.Client) *Collector {
	return &Collector{
		redis:          redisClient,
		startedAt:      time.Now().UTC(),
		reportInterval: defaultReportInterval,
		stopCh:         make(chan struct{}),
	}
}

// SetReportInterval sets the interval for writing metrics to Redis.
func (c *Collector) SetReportInterval(interval time.Duration) {
	c.reportInterval = interval
}

// Start begins periodic metrics reporting. Stops when the context is
// cancelled or Stop is called; a final write happens on shutdown.
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				c.writeMetrics(context.Background())
				return
			case <-c.stopCh:
				c.writeMetrics(context.Background())
				return
			case <-ticker.C:
				c.writeMetrics(ctx)
			}
		}
	}()
}

// Stop stops the metrics reporting.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Collector) RecordReceived() { c.received.Add(1) }

func (c *Collector) RecordProcessed(latency time.Duration) {
	c.processed.Add(1)
	c.totalLatencyNs.Add(uint64(latency.Nanoseconds()))
	c.latencyCount.Add(1)
}

func (c *Collector) RecordPublished() { c.published.Add(1) }
func (c *Collector) RecordError()     { c.errors.Add(1) }
func (c *Collector) RecordAcked()     { c.acked.Add(1) }
func (c *Collector) RecordNaked()     { c.naked.Add(1) }
func (c *Collector) RecordDiscarded() { c.discarded.Add(1) }
func (c *Collector) RecordSkipped()   { c.skipped.Add(1) }
func (c *Collector) RecordDuplicate() { c.duplicates.Add(1) }

// GetSnapshot returns current metrics without writing to Redis.
func (c *Collector) GetSnapshot() *PipelineMetrics {
	var avgLatencyNs float64
	if n := c.latencyCount.Load(); n > 0 {
		avgLatencyNs = float64(c.totalLatencyNs.Load()) / float64(n)
	}

	return &PipelineMetrics{
		ServiceName:            "dispatch-service",
		StartedAt:              c.startedAt,
		LastUpdated:            time.Now().UTC(),
		AlertsReceived:         c.received.Load(),
		AlertsProcessed:        c.processed.Load(),
		EventsPublished:        c.published.Load(),
		ProcessingErrors:       c.errors.Load(),
		MessagesAcked:          c.acked.Load(),
		MessagesNaked:          c.naked.Load(),
		InvalidDiscarded:       c.discarded.Load(),
		LowSeveritySkipped:     c.skipped.Load(),
		DuplicatesSuppressed:   c.duplicates.Load(),
		AvgProcessingLatencyNs: avgLatencyNs,
	}
}

// writeMetrics writes current metrics to Redis.
func (c *Collector) writeMetrics(ctx context.Context) {
	if c.redis == nil {
		return
	}

	data, err := json.Marshal(c.GetSnapshot())
	if err != nil {
		slog.Error("Failed to marshal metrics", "error", err)
		return
	}

	if err := c.redis.Set(ctx, metricsKey, data, metricsTTL).Err(); err != nil {
		slog.Error("Failed to write metrics to Redis", "error", err)
		return
	}

	slog.Debug("Metrics written to Redis", "key", metricsKey)
}

// Ensure Collector implements Recorder.
var _ Recorder = (*Collector)(nil)
