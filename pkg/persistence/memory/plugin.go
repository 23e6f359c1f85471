package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/osvaldoandrade/hookq/pkg/domain"
	"github.com/osvaldoandrade/hookq/pkg/persistence"
)

const defaultHistoryLimit = 100

// Plugin keeps attempts in process memory.
// This is primarily for testing and single-node dev runs.
type Plugin struct {
	mu           sync.RWMutex
	bySub        map[string][]domain.DeliveryAttempt // newest first
	historyLimit int
}

// NewPlugin creates a new in-memory attempt storage
func NewPlugin(config persistence.PluginConfig) (persistence.AttemptStorage, error) {
	limit := config.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &Plugin{
		bySub:        make(map[string][]domain.DeliveryAttempt),
		historyLimit: limit,
	}, nil
}

func init() {
	persistence.RegisterProvider("memory", NewPlugin)
}

func (p *Plugin) Record(ctx context.Context, attempt domain.DeliveryAttempt) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	list := append([]domain.DeliveryAttempt{attempt}, p.bySub[attempt.SubscriptionID]...)
	if len(list) > p.historyLimit {
		list = list[:p.historyLimit]
	}
	p.bySub[attempt.SubscriptionID] = list
	return nil
}

func (p *Plugin) ListBySubscription(ctx context.Context, subscriptionID string, limit int) ([]domain.DeliveryAttempt, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	list := p.bySub[subscriptionID]
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return append([]domain.DeliveryAttempt(nil), list...), nil
}

func (p *Plugin) ListByEvent(ctx context.Context, eventID string) ([]domain.DeliveryAttempt, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []domain.DeliveryAttempt
	for _, list := range p.bySub {
		for _, a := range list {
			if a.EventID == eventID {
				out = append(out, a)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AttemptedAt.Before(out[j].AttemptedAt) })
	return out, nil
}

func (p *Plugin) DeleteBySubscription(ctx context.Context, subscriptionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.bySub, subscriptionID)
	return nil
}

func (p *Plugin) Purge(ctx context.Context, before time.Time) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for id, list := range p.bySub {
		keep := list[:0]
		for _, a := range list {
			if a.AttemptedAt.Before(before) {
				removed++
				continue
			}
			keep = append(keep, a)
		}
		if len(keep) == 0 {
			delete(p.bySub, id)
			continue
		}
		p.bySub[id] = keep
	}
	return removed, nil
}

// Health always returns nil for in-memory storage
func (p *Plugin) Health(ctx context.Context) error {
	return nil
}

// Close is a no-op for in-memory storage
func (p *Plugin) Close() error {
	return nil
}
