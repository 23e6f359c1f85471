package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/osvaldoandrade/hookq/internal/metrics"
	"github.com/osvaldoandrade/hookq/internal/repository"
	"github.com/osvaldoandrade/hookq/internal/tracing"
	"github.com/osvaldoandrade/hookq/pkg/domain"

	"github.com/google/uuid"
)

type EmitInput struct {
	ProjectID string
	BotID     string
	Trigger   string
	Data      json.RawMessage
	// EventID is optional; supplying it makes the emission idempotent.
	EventID string
}

type EmitResult struct {
	EventID   string `json:"eventId"`
	Matched   int    `json:"matched"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// NotifierService is the entry point for the host platform. It never waits on
// delivery; failures past enqueue are the dispatcher's concern.
type NotifierService interface {
	Emit(ctx context.Context, in EmitInput) (*EmitResult, error)
}

type notifierService struct {
	matcher     MatcherService
	queue       repository.DeliveryQueue
	events      repository.EventRepository
	logger      *slog.Logger
	maxAttempts int
	now         func() time.Time
}

func NewNotifierService(matcher MatcherService, queue repository.DeliveryQueue, events repository.EventRepository, logger *slog.Logger, maxAttempts int) NotifierService {
	if logger == nil {
		logger = slog.Default()
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &notifierService{
		matcher:     matcher,
		queue:       queue,
		events:      events,
		logger:      logger,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

func (n *notifierService) Emit(ctx context.Context, in EmitInput) (*EmitResult, error) {
	if in.ProjectID == "" {
		return nil, &domain.ValidationError{Field: "projectId", Message: "project scope is required"}
	}
	trigger := domain.TriggerType(strings.TrimSpace(in.Trigger))
	if !trigger.Valid() {
		return nil, &domain.ValidationError{Message: "Invalid webhook trigger type: " + in.Trigger}
	}
	if len(in.Data) > 0 && !json.Valid(in.Data) {
		return nil, &domain.ValidationError{Field: "data", Message: "must be valid JSON"}
	}

	eventID := strings.TrimSpace(in.EventID)
	if eventID == "" {
		eventID = uuid.NewString()
	} else if n.events != nil {
		first, err := n.events.Reserve(ctx, in.ProjectID, eventID)
		if err != nil {
			return nil, err
		}
		if !first {
			n.logger.Info("duplicate event emission ignored", "eventId", eventID, "projectId", in.ProjectID)
			return &EmitResult{EventID: eventID, Duplicate: true}, nil
		}
	}

	event := domain.NewEvent(eventID, trigger, in.ProjectID, strings.TrimSpace(in.BotID), in.Data, n.now())
	body, err := event.Body()
	if err != nil {
		n.release(ctx, in, eventID)
		return nil, fmt.Errorf("encode event: %w", err)
	}

	subs, err := n.matcher.Match(ctx, event.ProjectID, event.BotID, trigger)
	if err != nil {
		n.release(ctx, in, eventID)
		return nil, fmt.Errorf("match subscriptions: %w", err)
	}

	traceParent, traceState := tracing.TraceContextStrings(ctx)
	jobs := make([]domain.DeliveryJob, 0, len(subs))
	for _, sub := range subs {
		jobs = append(jobs, domain.DeliveryJob{
			EventID:        event.ID,
			Trigger:        trigger,
			SubscriptionID: sub.ID,
			ProjectID:      sub.ProjectID,
			URL:            sub.URL,
			SealedSecret:   sub.SealedSecret,
			Body:           body,
			MaxAttempts:    n.maxAttempts,
			TraceParent:    traceParent,
			TraceState:     traceState,
		})
	}
	// all jobs or none; a failed fan-out frees the event ID for the host's retry
	if _, err := n.queue.EnqueueBatch(ctx, jobs); err != nil {
		n.release(ctx, in, eventID)
		n.logger.Error("enqueue deliveries failed", "eventId", event.ID, "matched", len(jobs), "err", err)
		return nil, fmt.Errorf("enqueue deliveries: %w", err)
	}

	metrics.EventsEmittedTotal.WithLabelValues(string(trigger)).Inc()
	n.logger.Debug("event emitted", "eventId", event.ID, "trigger", trigger, "projectId", event.ProjectID, "matched", len(jobs))
	return &EmitResult{EventID: event.ID, Matched: len(jobs)}, nil
}

// release frees a caller-supplied event ID reserved by Emit.
func (n *notifierService) release(ctx context.Context, in EmitInput, eventID string) {
	if strings.TrimSpace(in.EventID) == "" || n.events == nil {
		return
	}
	if err := n.events.Release(context.WithoutCancel(ctx), in.ProjectID, eventID); err != nil {
		n.logger.Warn("release event id failed", "eventId", eventID, "err", err)
	}
}
