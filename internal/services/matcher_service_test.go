package services

import (
	"context"
	"testing"
	"time"

	"github.com/osvaldoandrade/hookq/internal/repository"
	"github.com/osvaldoandrade/hookq/pkg/domain"
)

func TestMatcherBotLevelRouting(t *testing.T) {
	env := newTestEnv(t)
	project := env.mustCreate(t, "proj", "", "https://example.com/project", "bot.state_change", "transcript.update")
	bot1 := env.mustCreate(t, "proj", "bot_1", "https://example.com/bot1", "bot.state_change")

	tests := []struct {
		name    string
		botID   string
		trigger domain.TriggerType
		want    []string
	}{
		{"bot with own subscription", "bot_1", domain.TriggerBotStateChange, []string{bot1.ID}},
		{"bot subscription lacks trigger", "bot_1", domain.TriggerTranscriptUpdate, []string{project.ID}},
		{"other bot falls back to project", "bot_2", domain.TriggerBotStateChange, []string{project.ID}},
		{"event without bot", "", domain.TriggerBotStateChange, []string{project.ID}},
		{"no subscriber for trigger", "", domain.TriggerChatMessagesUpdate, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := env.matcher.Match(env.ctx, "proj", tt.botID, tt.trigger)
			if err != nil {
				t.Fatalf("Match() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Match() = %d subs, want %v", len(got), tt.want)
			}
			for i := range got {
				if got[i].ID != tt.want[i] {
					t.Fatalf("Match()[%d] = %s, want %s", i, got[i].ID, tt.want[i])
				}
			}
		})
	}
}

func TestMatcherCacheServesUntilInvalidated(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreate(t, "proj", "", "https://example.com/a", "bot.state_change")

	m := NewMatcherService(env.repo, 16, time.Hour)
	if got, _ := m.Match(env.ctx, "proj", "", domain.TriggerBotStateChange); len(got) != 1 {
		t.Fatalf("expected 1 match, got %d", len(got))
	}

	// written behind the matcher's back
	if _, err := env.repo.Create(env.ctx, domain.Subscription{
		ID: "webhook_direct", ProjectID: "proj", URL: "https://example.com/b",
		Triggers: []domain.TriggerType{domain.TriggerBotStateChange}, SealedSecret: "plain:x", IsActive: true,
	}, 0); err != nil {
		t.Fatalf("repo.Create() error = %v", err)
	}
	if got, _ := m.Match(env.ctx, "proj", "", domain.TriggerBotStateChange); len(got) != 1 {
		t.Fatalf("expected cached result, got %d", len(got))
	}

	m.Invalidate("other")
	if got, _ := m.Match(env.ctx, "proj", "", domain.TriggerBotStateChange); len(got) != 1 {
		t.Fatal("invalidating another project must not drop this one")
	}

	m.Invalidate("proj")
	if got, _ := m.Match(env.ctx, "proj", "", domain.TriggerBotStateChange); len(got) != 2 {
		t.Fatalf("expected fresh result after invalidate, got %d", len(got))
	}
}

func TestMatcherWithoutCache(t *testing.T) {
	env := newTestEnv(t)
	m := NewMatcherService(env.repo, 0, 0)
	if got, _ := m.Match(env.ctx, "proj", "", domain.TriggerBotStateChange); len(got) != 0 {
		t.Fatalf("expected no matches, got %d", len(got))
	}
	env.mustCreate(t, "proj", "", "https://example.com/a", "bot.state_change")
	if got, _ := m.Match(env.ctx, "proj", "", domain.TriggerBotStateChange); len(got) != 1 {
		t.Fatalf("uncached matcher should see writes immediately, got %d", len(got))
	}
	m.Invalidate("proj")
}

// hookedRepo runs afterList once, right after the first trigger index read.
type hookedRepo struct {
	repository.SubscriptionRepository
	afterList func()
}

func (r *hookedRepo) ListActiveByTrigger(ctx context.Context, projectID string, trigger domain.TriggerType) ([]domain.Subscription, error) {
	subs, err := r.SubscriptionRepository.ListActiveByTrigger(ctx, projectID, trigger)
	if fn := r.afterList; fn != nil {
		r.afterList = nil
		fn()
	}
	return subs, err
}

func TestMatcherDeleteDuringReadIsNotCached(t *testing.T) {
	env := newTestEnv(t)
	repo := &hookedRepo{SubscriptionRepository: env.repo}
	m := NewMatcherService(repo, 16, time.Hour)
	svc := NewSubscriptionService(env.repo, m, env.attempts, env.sealer, env.logger, SubscriptionServiceOptions{})

	created, err := svc.Create(env.ctx, CreateSubscriptionInput{ProjectID: "proj", URL: "https://example.com/a", Triggers: []string{"bot.state_change"}})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	repo.afterList = func() {
		if err := svc.Delete(env.ctx, "proj", created.ID); err != nil {
			t.Errorf("Delete() error = %v", err)
		}
	}

	// the in-flight read may still see the subscription
	if _, err := m.Match(env.ctx, "proj", "", domain.TriggerBotStateChange); err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	got, err := m.Match(env.ctx, "proj", "", domain.TriggerBotStateChange)
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("deleted subscription %s still matched from cache", got[0].ID)
	}
}
