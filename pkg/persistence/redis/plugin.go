package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/osvaldoandrade/hookq/pkg/domain"
	"github.com/osvaldoandrade/hookq/pkg/persistence"

	"github.com/go-redis/redis/v8"
)

const (
	defaultHistoryLimit = 100
	defaultRetention    = 7 * 24 * time.Hour
)

// Config holds Redis-specific configuration. Addr is ignored when the
// application shares its client.
type Config struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
}

// Plugin stores attempts in Redis lists: one capped list per subscription,
// one list per event, both expiring after the retention window.
type Plugin struct {
	client       *redis.Client
	ownsClient   bool
	historyLimit int
	retention    time.Duration
}

// NewPlugin creates a new Redis attempt storage
func NewPlugin(config persistence.PluginConfig) (persistence.AttemptStorage, error) {
	var cfg Config
	if len(config.Config) > 0 {
		if err := json.Unmarshal(config.Config, &cfg); err != nil {
			return nil, err
		}
	}

	p := &Plugin{
		client:       config.Redis,
		historyLimit: config.HistoryLimit,
		retention:    config.Retention,
	}
	if p.client == nil {
		if cfg.Addr == "" {
			return nil, fmt.Errorf("redis attempt storage: addr is required without a shared client")
		}
		p.client = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
		})
		p.ownsClient = true
	}
	if p.historyLimit <= 0 {
		p.historyLimit = defaultHistoryLimit
	}
	if p.retention <= 0 {
		p.retention = defaultRetention
	}
	return p, nil
}

func init() {
	persistence.RegisterProvider("redis", NewPlugin)
}

func keySub(id string) string   { return "hookq:attempts:sub:" + id }
func keyEvent(id string) string { return "hookq:attempts:event:" + id }
func keyIndex() string          { return "hookq:attempts:index" } // ZSET sub id -> last attempt ms

func (p *Plugin) Record(ctx context.Context, attempt domain.DeliveryAttempt) error {
	b, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("marshal attempt: %w", err)
	}
	pipe := p.client.TxPipeline()
	pipe.LPush(ctx, keySub(attempt.SubscriptionID), b)
	pipe.LTrim(ctx, keySub(attempt.SubscriptionID), 0, int64(p.historyLimit-1))
	pipe.PExpire(ctx, keySub(attempt.SubscriptionID), p.retention)
	pipe.RPush(ctx, keyEvent(attempt.EventID), b)
	pipe.PExpire(ctx, keyEvent(attempt.EventID), p.retention)
	pipe.ZAdd(ctx, keyIndex(), &redis.Z{Score: float64(attempt.AttemptedAt.UnixMilli()), Member: attempt.SubscriptionID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis record attempt: %w", err)
	}
	return nil
}

func (p *Plugin) ListBySubscription(ctx context.Context, subscriptionID string, limit int) ([]domain.DeliveryAttempt, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	vals, err := p.client.LRange(ctx, keySub(subscriptionID), 0, stop).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis LRANGE attempts: %w", err)
	}
	return decodeAll(vals), nil
}

func (p *Plugin) ListByEvent(ctx context.Context, eventID string) ([]domain.DeliveryAttempt, error) {
	vals, err := p.client.LRange(ctx, keyEvent(eventID), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis LRANGE event attempts: %w", err)
	}
	return decodeAll(vals), nil
}

func (p *Plugin) DeleteBySubscription(ctx context.Context, subscriptionID string) error {
	pipe := p.client.TxPipeline()
	pipe.Del(ctx, keySub(subscriptionID))
	pipe.ZRem(ctx, keyIndex(), subscriptionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete attempts: %w", err)
	}
	return nil
}

// Purge drops the histories of subscriptions whose newest attempt is older
// than before. Partially stale lists age out through LTRIM and key expiry.
func (p *Plugin) Purge(ctx context.Context, before time.Time) (int, error) {
	maxScore := strconv.FormatInt(before.UnixMilli(), 10)
	ids, err := p.client.ZRangeByScore(ctx, keyIndex(), &redis.ZRangeBy{Min: "-inf", Max: "(" + maxScore, Count: 1000}).Result()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("redis ZRANGEBYSCORE attempts index: %w", err)
	}
	removed := 0
	for _, id := range ids {
		n, err := p.client.LLen(ctx, keySub(id)).Result()
		if err != nil && err != redis.Nil {
			return removed, fmt.Errorf("redis LLEN attempts: %w", err)
		}
		if err := p.DeleteBySubscription(ctx, id); err != nil {
			return removed, err
		}
		removed += int(n)
	}
	return removed, nil
}

func (p *Plugin) Health(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *Plugin) Close() error {
	if p.ownsClient {
		return p.client.Close()
	}
	return nil
}

func decodeAll(vals []string) []domain.DeliveryAttempt {
	out := make([]domain.DeliveryAttempt, 0, len(vals))
	for _, v := range vals {
		var a domain.DeliveryAttempt
		if err := json.Unmarshal([]byte(v), &a); err != nil {
			continue
		}
		out = append(out, a)
	}
	return out
}
