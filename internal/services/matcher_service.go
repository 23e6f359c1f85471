package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/osvaldoandrade/hookq/internal/metrics"
	"github.com/osvaldoandrade/hookq/internal/repository"
	"github.com/osvaldoandrade/hookq/pkg/domain"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type MatcherService interface {
	// Match returns the active subscriptions that must receive an event of
	// trigger emitted in projectID (and, when set, by botID).
	Match(ctx context.Context, projectID, botID string, trigger domain.TriggerType) ([]domain.Subscription, error)
	Invalidate(projectID string)
}

type matcherService struct {
	repo  repository.SubscriptionRepository
	cache *expirable.LRU[string, []domain.Subscription]

	// gens counts invalidations per project. A store read only fills the
	// cache if its project generation did not move during the read.
	mu   sync.Mutex
	gens map[string]uint64
}

// NewMatcherService builds a matcher. ttl <= 0 disables caching.
func NewMatcherService(repo repository.SubscriptionRepository, size int, ttl time.Duration) MatcherService {
	m := &matcherService{repo: repo, gens: make(map[string]uint64)}
	if ttl > 0 {
		if size <= 0 {
			size = 1024
		}
		m.cache = expirable.NewLRU[string, []domain.Subscription](size, nil, ttl)
	}
	return m
}

func cacheKey(projectID string, trigger domain.TriggerType) string {
	return projectID + "|" + string(trigger)
}

func (m *matcherService) Match(ctx context.Context, projectID, botID string, trigger domain.TriggerType) ([]domain.Subscription, error) {
	all, err := m.active(ctx, projectID, trigger)
	if err != nil {
		return nil, err
	}

	// bot-level subscriptions take the event exclusively when the bot has any
	if botID != "" {
		var botSubs []domain.Subscription
		for _, s := range all {
			if s.BotID == botID {
				botSubs = append(botSubs, s)
			}
		}
		if len(botSubs) > 0 {
			return botSubs, nil
		}
	}

	var out []domain.Subscription
	for _, s := range all {
		if !s.BotLevel() {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *matcherService) active(ctx context.Context, projectID string, trigger domain.TriggerType) ([]domain.Subscription, error) {
	if m.cache == nil {
		return m.repo.ListActiveByTrigger(ctx, projectID, trigger)
	}
	key := cacheKey(projectID, trigger)
	if subs, ok := m.cache.Get(key); ok {
		metrics.MatcherCacheTotal.WithLabelValues("hit").Inc()
		return subs, nil
	}
	metrics.MatcherCacheTotal.WithLabelValues("miss").Inc()

	m.mu.Lock()
	gen := m.gens[projectID]
	m.mu.Unlock()

	subs, err := m.repo.ListActiveByTrigger(ctx, projectID, trigger)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.gens[projectID] == gen {
		m.cache.Add(key, subs)
	}
	m.mu.Unlock()
	return subs, nil
}

func (m *matcherService) Invalidate(projectID string) {
	if m.cache == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gens[projectID]++
	prefix := projectID + "|"
	for _, k := range m.cache.Keys() {
		if strings.HasPrefix(k, prefix) {
			m.cache.Remove(k)
		}
	}
}
