package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/osvaldoandrade/hookq/pkg/domain"

	"github.com/go-redis/redis/v8"
)

var (
	ErrNotFound     = errors.New("not-found")
	ErrDuplicateURL = errors.New("duplicate-url")
	ErrScopeLimit   = errors.New("scope-limit")
)

const maxTxRetries = 8

type SubscriptionRepository interface {
	// Create stores sub atomically. ErrDuplicateURL and ErrScopeLimit report
	// per-scope conflicts; maxPerScope <= 0 disables the limit.
	Create(ctx context.Context, sub domain.Subscription, maxPerScope int) (*domain.Subscription, error)
	Get(ctx context.Context, id string) (*domain.Subscription, error)
	// ListPage returns one page of a project's subscriptions, newest first.
	ListPage(ctx context.Context, projectID string, offset, count int64) ([]domain.Subscription, error)
	ListActiveByTrigger(ctx context.Context, projectID string, trigger domain.TriggerType) ([]domain.Subscription, error)
	SetActive(ctx context.Context, id string, active bool) (*domain.Subscription, error)
	Delete(ctx context.Context, id string) (*domain.Subscription, error)
}

type subscriptionRedisRepo struct {
	rdb *redis.Client
	tz  *time.Location
}

func NewSubscriptionRepository(rdb *redis.Client, tz *time.Location) SubscriptionRepository {
	if tz == nil {
		tz = time.UTC
	}
	return &subscriptionRedisRepo{rdb: rdb, tz: tz}
}

// subscriptionRecord is the stored form. It is the only place the sealed
// secret and the numeric key are serialized.
type subscriptionRecord struct {
	ID        string               `json:"id"`
	Seq       int64                `json:"seq"`
	ProjectID string               `json:"projectId"`
	BotID     string               `json:"botId,omitempty"`
	URL       string               `json:"url"`
	Triggers  []domain.TriggerType `json:"triggers"`
	Secret    string               `json:"secret"`
	IsActive  bool                 `json:"isActive"`
	CreatedAt time.Time            `json:"createdAt"`
}

func toRecord(s domain.Subscription) subscriptionRecord {
	return subscriptionRecord{
		ID:        s.ID,
		Seq:       s.Seq,
		ProjectID: s.ProjectID,
		BotID:     s.BotID,
		URL:       s.URL,
		Triggers:  s.Triggers,
		Secret:    s.SealedSecret,
		IsActive:  s.IsActive,
		CreatedAt: s.CreatedAt,
	}
}

func (r subscriptionRecord) toDomain() domain.Subscription {
	return domain.Subscription{
		ID:           r.ID,
		Seq:          r.Seq,
		ProjectID:    r.ProjectID,
		BotID:        r.BotID,
		URL:          r.URL,
		Triggers:     r.Triggers,
		SealedSecret: r.Secret,
		IsActive:     r.IsActive,
		CreatedAt:    r.CreatedAt,
	}
}

// ===== Keys =====
func (r *subscriptionRedisRepo) keySubsHash() string { return "hookq:subs" }     // HASH id -> record JSON
func (r *subscriptionRedisRepo) keySeq() string      { return "hookq:subs:seq" } // INCR internal key

func (r *subscriptionRedisRepo) keyProject(projectID string) string {
	return fmt.Sprintf("hookq:subs:project:%s", projectID) // ZSET id, score = seq
}

func (r *subscriptionRedisRepo) keyScope(projectID, botID string) string {
	if botID == "" {
		botID = "_"
	}
	return fmt.Sprintf("hookq:subs:scope:%s:%s", projectID, botID) // HASH url -> id
}

func (r *subscriptionRedisRepo) keyActive(projectID string, trigger domain.TriggerType) string {
	return fmt.Sprintf("hookq:subs:active:%s:%s", projectID, trigger) // SET of active ids
}

func (r *subscriptionRedisRepo) now() time.Time { return time.Now().In(r.tz) }

func (r *subscriptionRedisRepo) withWatch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := r.rdb.Watch(ctx, fn, keys...)
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return fmt.Errorf("redis transaction contention on %v", keys)
}

func (r *subscriptionRedisRepo) Create(ctx context.Context, sub domain.Subscription, maxPerScope int) (*domain.Subscription, error) {
	scopeKey := r.keyScope(sub.ProjectID, sub.BotID)
	var out domain.Subscription

	err := r.withWatch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.HExists(ctx, scopeKey, sub.URL).Result()
		if err != nil {
			return fmt.Errorf("redis HEXISTS scope: %w", err)
		}
		if exists {
			return ErrDuplicateURL
		}
		if maxPerScope > 0 {
			n, err := tx.HLen(ctx, scopeKey).Result()
			if err != nil {
				return fmt.Errorf("redis HLEN scope: %w", err)
			}
			if n >= int64(maxPerScope) {
				return ErrScopeLimit
			}
		}
		seq, err := tx.Incr(ctx, r.keySeq()).Result()
		if err != nil {
			return fmt.Errorf("redis INCR seq: %w", err)
		}

		rec := sub
		rec.Seq = seq
		rec.CreatedAt = r.now()
		js := marshal(toRecord(rec))

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, r.keySubsHash(), rec.ID, js)
			pipe.HSet(ctx, scopeKey, rec.URL, rec.ID)
			pipe.ZAdd(ctx, r.keyProject(rec.ProjectID), &redis.Z{Score: float64(seq), Member: rec.ID})
			if rec.IsActive {
				for _, t := range rec.Triggers {
					pipe.SAdd(ctx, r.keyActive(rec.ProjectID, t), rec.ID)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = rec
		return nil
	}, scopeKey)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *subscriptionRedisRepo) Get(ctx context.Context, id string) (*domain.Subscription, error) {
	js, err := r.rdb.HGet(ctx, r.keySubsHash(), id).Result()
	if err == redis.Nil || (err == nil && js == "") {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis HGET sub: %w", err)
	}
	rec, err := unmarshalSubscription(js)
	if err != nil {
		return nil, fmt.Errorf("unmarshal sub: %w", err)
	}
	sub := rec.toDomain()
	return &sub, nil
}

func (r *subscriptionRedisRepo) ListPage(ctx context.Context, projectID string, offset, count int64) ([]domain.Subscription, error) {
	if count <= 0 {
		count = 100
	}
	ids, err := r.rdb.ZRevRange(ctx, r.keyProject(projectID), offset, offset+count-1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis ZREVRANGE project: %w", err)
	}
	return r.loadMany(ctx, ids)
}

func (r *subscriptionRedisRepo) ListActiveByTrigger(ctx context.Context, projectID string, trigger domain.TriggerType) ([]domain.Subscription, error) {
	ids, err := r.rdb.SMembers(ctx, r.keyActive(projectID, trigger)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis SMEMBERS active: %w", err)
	}
	subs, err := r.loadMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := subs[:0]
	for _, s := range subs {
		if s.IsActive && s.HasTrigger(trigger) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (r *subscriptionRedisRepo) loadMany(ctx context.Context, ids []string) ([]domain.Subscription, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	vals, err := r.rdb.HMGet(ctx, r.keySubsHash(), ids...).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis HMGET subs: %w", err)
	}
	out := make([]domain.Subscription, 0, len(vals))
	for _, v := range vals {
		js, ok := v.(string)
		if !ok || js == "" {
			// deleted between index read and load
			continue
		}
		rec, err := unmarshalSubscription(js)
		if err != nil {
			continue
		}
		out = append(out, rec.toDomain())
	}
	return out, nil
}

func (r *subscriptionRedisRepo) SetActive(ctx context.Context, id string, active bool) (*domain.Subscription, error) {
	var out domain.Subscription
	err := r.withWatch(ctx, func(tx *redis.Tx) error {
		js, err := tx.HGet(ctx, r.keySubsHash(), id).Result()
		if err == redis.Nil || (err == nil && js == "") {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("redis HGET sub: %w", err)
		}
		rec, err := unmarshalSubscription(js)
		if err != nil {
			return fmt.Errorf("unmarshal sub: %w", err)
		}
		rec.IsActive = active
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, r.keySubsHash(), id, marshal(rec))
			for _, t := range rec.Triggers {
				if active {
					pipe.SAdd(ctx, r.keyActive(rec.ProjectID, t), id)
				} else {
					pipe.SRem(ctx, r.keyActive(rec.ProjectID, t), id)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = rec.toDomain()
		return nil
	}, r.keySubsHash())
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *subscriptionRedisRepo) Delete(ctx context.Context, id string) (*domain.Subscription, error) {
	var out domain.Subscription
	err := r.withWatch(ctx, func(tx *redis.Tx) error {
		js, err := tx.HGet(ctx, r.keySubsHash(), id).Result()
		if err == redis.Nil || (err == nil && js == "") {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("redis HGET sub: %w", err)
		}
		rec, err := unmarshalSubscription(js)
		if err != nil {
			return fmt.Errorf("unmarshal sub: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, r.keySubsHash(), id)
			pipe.HDel(ctx, r.keyScope(rec.ProjectID, rec.BotID), rec.URL)
			pipe.ZRem(ctx, r.keyProject(rec.ProjectID), id)
			for _, t := range rec.Triggers {
				pipe.SRem(ctx, r.keyActive(rec.ProjectID, t), id)
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = rec.toDomain()
		return nil
	}, r.keySubsHash())
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func unmarshalSubscription(js string) (subscriptionRecord, error) {
	var rec subscriptionRecord
	err := json.Unmarshal([]byte(js), &rec)
	return rec, err
}
