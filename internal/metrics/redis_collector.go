package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
)

// Key names mirror internal/repository; importing it here would cycle.
const (
	keyQueueReady   = "hookq:q:ready"
	keyQueueDelayed = "hookq:q:delayed"
	keyQueueInprog  = "hookq:q:inprog"
	keySubsHash     = "hookq:subs"
)

type redisCollector struct {
	rdb    *redis.Client
	logger *slog.Logger

	queueDepthDesc    *prometheus.Desc
	subscriptionsDesc *prometheus.Desc
}

func newRedisCollector(rdb *redis.Client, logger *slog.Logger) *redisCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisCollector{
		rdb:    rdb,
		logger: logger,
		queueDepthDesc: prometheus.NewDesc(
			"hookq_queue_depth",
			"Current delivery queue depth by state.",
			[]string{"queue"},
			nil,
		),
		subscriptionsDesc: prometheus.NewDesc(
			"hookq_subscriptions",
			"Current number of stored webhook subscriptions.",
			nil,
			nil,
		),
	}
}

func (c *redisCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queueDepthDesc
	ch <- c.subscriptionsDesc
}

func (c *redisCollector) Collect(ch chan<- prometheus.Metric) {
	if c.rdb == nil {
		return
	}

	// Keep Redis reads bounded so scrapes do not hang.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pipe := c.rdb.Pipeline()
	ready := pipe.LLen(ctx, keyQueueReady)
	delayed := pipe.ZCard(ctx, keyQueueDelayed)
	inprog := pipe.SCard(ctx, keyQueueInprog)
	subs := pipe.HLen(ctx, keySubsHash)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		c.logger.Warn("prometheus redis collector failed", "err", err)
		return
	}

	emitGauge(ch, c.queueDepthDesc, float64(ready.Val()), "ready")
	emitGauge(ch, c.queueDepthDesc, float64(delayed.Val()), "delayed")
	emitGauge(ch, c.queueDepthDesc, float64(inprog.Val()), "in_progress")
	emitGauge(ch, c.subscriptionsDesc, float64(subs.Val()))
}

func emitGauge(ch chan<- prometheus.Metric, desc *prometheus.Desc, v float64, labelValues ...string) {
	m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, v, labelValues...)
	if err != nil {
		return
	}
	ch <- m
}

var registerRedisCollectorOnce sync.Once

func RegisterRedisCollector(rdb *redis.Client, logger *slog.Logger) {
	registerRedisCollectorOnce.Do(func() {
		prometheus.MustRegister(newRedisCollector(rdb, logger))
	})
}
