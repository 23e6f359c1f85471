package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/url"
	"strings"

	"github.com/osvaldoandrade/hookq/internal/metrics"
	"github.com/osvaldoandrade/hookq/internal/repository"
	"github.com/osvaldoandrade/hookq/internal/secrets"
	"github.com/osvaldoandrade/hookq/pkg/domain"
	"github.com/osvaldoandrade/hookq/pkg/persistence"
)

const (
	subscriptionIDPrefix = "webhook"
	listPageSize         = 100
)

type CreateSubscriptionInput struct {
	ProjectID string
	BotID     string
	URL       string
	Triggers  []string
}

// CreatedSubscription is the only value that ever carries the plaintext secret.
type CreatedSubscription struct {
	ID     string `json:"subscriptionId"`
	Secret string `json:"secret"`
}

type SubscriptionService interface {
	Create(ctx context.Context, in CreateSubscriptionInput) (*CreatedSubscription, error)
	List(ctx context.Context, projectID string) iter.Seq2[domain.Subscription, error]
	Get(ctx context.Context, projectID, id string) (*domain.Subscription, error)
	Delete(ctx context.Context, projectID, id string) error
	SetActive(ctx context.Context, projectID, id string, active bool) (*domain.Subscription, error)
	Attempts(ctx context.Context, projectID, id string, limit int) ([]domain.DeliveryAttempt, error)
}

type subscriptionService struct {
	repo        repository.SubscriptionRepository
	matcher     MatcherService
	attempts    persistence.AttemptStorage
	sealer      secrets.Sealer
	entropy     io.Reader
	logger      *slog.Logger
	maxPerScope int
}

type SubscriptionServiceOptions struct {
	MaxPerScope int
	// Entropy overrides crypto/rand for secrets and IDs.
	Entropy io.Reader
}

func NewSubscriptionService(repo repository.SubscriptionRepository, matcher MatcherService, attempts persistence.AttemptStorage, sealer secrets.Sealer, logger *slog.Logger, opts SubscriptionServiceOptions) SubscriptionService {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxPerScope == 0 {
		opts.MaxPerScope = 2
	}
	return &subscriptionService{
		repo:        repo,
		matcher:     matcher,
		attempts:    attempts,
		sealer:      sealer,
		entropy:     opts.Entropy,
		logger:      logger,
		maxPerScope: opts.MaxPerScope,
	}
}

func validateWebhookURL(raw string) error {
	if !strings.HasPrefix(raw, "https://") {
		return &domain.ValidationError{Message: "webhook URL must start with https://"}
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return &domain.ValidationError{Field: "url", Message: "invalid webhook URL"}
	}
	return nil
}

func (s *subscriptionService) Create(ctx context.Context, in CreateSubscriptionInput) (*CreatedSubscription, error) {
	if in.ProjectID == "" {
		return nil, &domain.ValidationError{Field: "projectId", Message: "project scope is required"}
	}
	triggers, err := domain.ParseTriggers(in.Triggers)
	if err != nil {
		return nil, err
	}
	endpoint := strings.TrimSpace(in.URL)
	if err := validateWebhookURL(endpoint); err != nil {
		return nil, err
	}

	secret, err := secrets.Generate(s.entropy)
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	sealed, err := s.sealer.Seal(secret)
	if err != nil {
		return nil, fmt.Errorf("seal secret: %w", err)
	}
	id, err := secrets.NewObjectID(subscriptionIDPrefix, s.entropy)
	if err != nil {
		return nil, fmt.Errorf("generate subscription id: %w", err)
	}

	sub := domain.Subscription{
		ID:           id,
		ProjectID:    in.ProjectID,
		BotID:        strings.TrimSpace(in.BotID),
		URL:          endpoint,
		Triggers:     triggers,
		SealedSecret: sealed,
		IsActive:     true,
	}
	created, err := s.repo.Create(ctx, sub, s.maxPerScope)
	switch {
	case errors.Is(err, repository.ErrDuplicateURL):
		if sub.BotLevel() {
			return nil, &domain.ValidationError{Message: "URL already subscribed for this bot"}
		}
		return nil, &domain.ValidationError{Message: "URL already subscribed"}
	case errors.Is(err, repository.ErrScopeLimit):
		if sub.BotLevel() {
			return nil, &domain.ValidationError{Message: "You have reached the maximum number of webhooks for a single bot"}
		}
		return nil, &domain.ValidationError{Message: "You have reached the maximum number of webhooks"}
	case err != nil:
		return nil, err
	}

	s.matcher.Invalidate(created.ProjectID)
	scope := "project"
	if created.BotLevel() {
		scope = "bot"
	}
	metrics.SubscriptionsCreatedTotal.WithLabelValues(scope).Inc()
	s.logger.Info("webhook subscription created",
		"subscriptionId", created.ID, "projectId", created.ProjectID, "botId", created.BotID, "triggers", len(created.Triggers))

	return &CreatedSubscription{ID: created.ID, Secret: secret}, nil
}

// List yields the project's subscriptions newest first. Each range over the
// returned sequence reads the store again.
func (s *subscriptionService) List(ctx context.Context, projectID string) iter.Seq2[domain.Subscription, error] {
	return func(yield func(domain.Subscription, error) bool) {
		var offset int64
		for {
			page, err := s.repo.ListPage(ctx, projectID, offset, listPageSize)
			if err != nil {
				yield(domain.Subscription{}, err)
				return
			}
			for _, sub := range page {
				if !yield(sub.Redacted(), nil) {
					return
				}
			}
			if len(page) < listPageSize {
				return
			}
			offset += listPageSize
		}
	}
}

// load returns the stored subscription only when it belongs to projectID.
func (s *subscriptionService) load(ctx context.Context, projectID, id string) (*domain.Subscription, error) {
	sub, err := s.repo.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &domain.NotFoundError{Resource: "webhook", ID: id}
	}
	if err != nil {
		return nil, err
	}
	if sub.ProjectID != projectID {
		return nil, &domain.NotFoundError{Resource: "webhook", ID: id}
	}
	return sub, nil
}

func (s *subscriptionService) Get(ctx context.Context, projectID, id string) (*domain.Subscription, error) {
	sub, err := s.load(ctx, projectID, id)
	if err != nil {
		return nil, err
	}
	out := sub.Redacted()
	return &out, nil
}

func (s *subscriptionService) Delete(ctx context.Context, projectID, id string) error {
	if _, err := s.load(ctx, projectID, id); err != nil {
		return err
	}
	deleted, err := s.repo.Delete(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return &domain.NotFoundError{Resource: "webhook", ID: id}
	}
	if err != nil {
		return err
	}
	s.matcher.Invalidate(deleted.ProjectID)
	metrics.SubscriptionsDeletedTotal.Inc()

	if s.attempts != nil {
		if err := s.attempts.DeleteBySubscription(ctx, id); err != nil {
			s.logger.Warn("attempt history cleanup failed", "subscriptionId", id, "err", err)
		}
	}
	s.logger.Info("webhook subscription deleted", "subscriptionId", id, "projectId", deleted.ProjectID)
	return nil
}

func (s *subscriptionService) SetActive(ctx context.Context, projectID, id string, active bool) (*domain.Subscription, error) {
	if _, err := s.load(ctx, projectID, id); err != nil {
		return nil, err
	}
	updated, err := s.repo.SetActive(ctx, id, active)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &domain.NotFoundError{Resource: "webhook", ID: id}
	}
	if err != nil {
		return nil, err
	}
	s.matcher.Invalidate(updated.ProjectID)
	s.logger.Info("webhook subscription updated", "subscriptionId", id, "isActive", active)
	out := updated.Redacted()
	return &out, nil
}

func (s *subscriptionService) Attempts(ctx context.Context, projectID, id string, limit int) ([]domain.DeliveryAttempt, error) {
	if _, err := s.load(ctx, projectID, id); err != nil {
		return nil, err
	}
	if s.attempts == nil {
		return []domain.DeliveryAttempt{}, nil
	}
	return s.attempts.ListBySubscription(ctx, id, limit)
}
