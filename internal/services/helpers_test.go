package services

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/osvaldoandrade/hookq/internal/repository"
	"github.com/osvaldoandrade/hookq/internal/secrets"
	"github.com/osvaldoandrade/hookq/pkg/persistence"
	"github.com/osvaldoandrade/hookq/pkg/persistence/memory"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

type testEnv struct {
	ctx      context.Context
	mr       *miniredis.Miniredis
	rdb      *redis.Client
	repo     repository.SubscriptionRepository
	queue    repository.DeliveryQueue
	events   repository.EventRepository
	attempts persistence.AttemptStorage
	sealer   secrets.Sealer
	matcher  MatcherService
	subs     SubscriptionService
	logger   *slog.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	attempts, err := memory.NewPlugin(persistence.PluginConfig{})
	if err != nil {
		t.Fatalf("memory attempt store: %v", err)
	}
	sealer, err := secrets.NewSealer("AAECAwQFBgcICQoLDA0ODxAREhMUFRYXGBkaGxwdHh8=")
	if err != nil {
		t.Fatalf("NewSealer() error = %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := repository.NewSubscriptionRepository(rdb, time.UTC)
	matcher := NewMatcherService(repo, 64, time.Minute)

	env := &testEnv{
		ctx:      context.Background(),
		mr:       mr,
		rdb:      rdb,
		repo:     repo,
		queue:    repository.NewDeliveryQueue(rdb, time.UTC),
		events:   repository.NewEventRepository(rdb, time.Hour),
		attempts: attempts,
		sealer:   sealer,
		matcher:  matcher,
		logger:   logger,
	}
	env.subs = NewSubscriptionService(repo, matcher, attempts, sealer, logger, SubscriptionServiceOptions{MaxPerScope: 2})
	return env
}

func (e *testEnv) mustCreate(t *testing.T, projectID, botID, url string, triggers ...string) *CreatedSubscription {
	t.Helper()
	created, err := e.subs.Create(e.ctx, CreateSubscriptionInput{ProjectID: projectID, BotID: botID, URL: url, Triggers: triggers})
	if err != nil {
		t.Fatalf("Create(%s) error = %v", url, err)
	}
	return created
}
