package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/osvaldoandrade/hookq/internal/backoff"
	"github.com/osvaldoandrade/hookq/internal/metrics"
	"github.com/osvaldoandrade/hookq/internal/repository"
	"github.com/osvaldoandrade/hookq/internal/secrets"
	"github.com/osvaldoandrade/hookq/internal/tracing"
	"github.com/osvaldoandrade/hookq/pkg/domain"
	"github.com/osvaldoandrade/hookq/pkg/persistence"
	"github.com/osvaldoandrade/hookq/pkg/signature"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	responseBodyLimit = 4 << 10
	userAgent         = "hookq/1"
	promoteBatch      = 200
)

type DispatcherConfig struct {
	Workers         int
	Lease           time.Duration
	Timeout         time.Duration
	PromoteInterval time.Duration
	BackoffPolicy   backoff.Policy
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	// HTTPClient overrides the delivery client; Timeout still applies per request.
	HTTPClient *http.Client
}

type DispatcherService interface {
	// Run blocks until ctx is cancelled and in-flight deliveries finish.
	Run(ctx context.Context) error
	// DeliverOnce signs and POSTs job a single time without touching the
	// queue or the attempt ledger.
	DeliverOnce(ctx context.Context, job domain.DeliveryJob) (*domain.DeliveryAttempt, error)
}

type dispatcherService struct {
	queue    repository.DeliveryQueue
	subs     repository.SubscriptionRepository
	attempts persistence.AttemptStorage
	sealer   secrets.Sealer
	logger   *slog.Logger
	cfg      DispatcherConfig
	client   *http.Client
	tracer   trace.Tracer

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewDispatcherService(queue repository.DeliveryQueue, subs repository.SubscriptionRepository, attempts persistence.AttemptStorage, sealer secrets.Sealer, logger *slog.Logger, cfg DispatcherConfig) DispatcherService {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Lease <= cfg.Timeout {
		cfg.Lease = cfg.Timeout + 15*time.Second
	}
	if cfg.PromoteInterval <= 0 {
		cfg.PromoteInterval = time.Second
	}
	if cfg.BackoffPolicy == "" {
		cfg.BackoffPolicy = backoff.ExpFullJitter
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 300 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			// redirects are reported as the final response
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		}
	}
	return &dispatcherService{
		queue:    queue,
		subs:     subs,
		attempts: attempts,
		sealer:   sealer,
		logger:   logger,
		cfg:      cfg,
		client:   client,
		tracer:   otel.Tracer("hookq/dispatcher"),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (d *dispatcherService) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		workerID := fmt.Sprintf("dispatcher-%d-%s", i, uuid.NewString()[:8])
		g.Go(func() error {
			d.work(gctx, workerID)
			return nil
		})
	}
	g.Go(func() error {
		d.promote(gctx)
		return nil
	})
	d.logger.Info("dispatcher started", "workers", d.cfg.Workers, "lease", d.cfg.Lease, "timeout", d.cfg.Timeout)
	err := g.Wait()
	d.logger.Info("dispatcher stopped")
	return err
}

func (d *dispatcherService) work(ctx context.Context, workerID string) {
	for ctx.Err() == nil {
		job, ok, err := d.queue.Claim(ctx, workerID, d.cfg.Lease)
		if err != nil {
			if ctx.Err() == nil {
				d.logger.Warn("claim delivery job failed", "worker", workerID, "err", err)
			}
			_ = sleepOrDone(ctx, d.cfg.PromoteInterval)
			continue
		}
		if !ok {
			_ = sleepOrDone(ctx, d.cfg.PromoteInterval)
			continue
		}
		// finish the current job even when shutdown starts mid-request
		d.process(context.WithoutCancel(ctx), job)
	}
}

func (d *dispatcherService) promote(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PromoteInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.queue.MoveDue(ctx, promoteBatch); err != nil && ctx.Err() == nil {
				d.logger.Warn("promote delayed deliveries failed", "err", err)
			}
			n, err := d.queue.RequeueExpired(ctx, promoteBatch)
			if err != nil && ctx.Err() == nil {
				d.logger.Warn("requeue expired leases failed", "err", err)
			}
			if n > 0 {
				d.logger.Warn("requeued deliveries with expired leases", "count", n)
			}
		}
	}
}

func (d *dispatcherService) process(ctx context.Context, job *domain.DeliveryJob) {
	logger := d.logger.With("jobId", job.ID, "eventId", job.EventID, "subscriptionId", job.SubscriptionID, "attempt", job.Attempts)

	if job.Attempts > job.MaxAttempts {
		// a lease expired after the last attempt was already made
		d.finish(ctx, logger, job, d.terminal(job, "max attempts exhausted"))
		return
	}

	if job.Attempts > 1 {
		sub, err := d.subs.Get(ctx, job.SubscriptionID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			logger.Debug("subscription deleted; dropping delivery")
			d.complete(ctx, logger, job)
			return
		case err != nil:
			logger.Warn("reload subscription failed", "err", err)
			d.retry(ctx, logger, job, d.nextDelay(job, 0), err.Error())
			return
		case !sub.IsActive:
			d.finish(ctx, logger, job, d.terminal(job, "subscription inactive"))
			return
		}
	}

	attempt, retryAfter, err := d.deliver(ctx, *job)
	final := true
	if err != nil {
		var fatal *domain.FatalConfigurationError
		switch {
		case errors.As(err, &fatal):
			metrics.SigningFailuresTotal.Inc()
			logger.Error("delivery cannot be signed", "err", err, "alert", true)
		case domain.IsTransient(err) && job.Attempts < job.MaxAttempts:
			final = false
		case domain.IsTransient(err):
			attempt.Outcome = domain.OutcomePermanentFailure
			attempt.Error = fmt.Sprintf("%s (max attempts %d reached)", attempt.Error, job.MaxAttempts)
		}
	}
	attempt.Final = final
	d.record(ctx, logger, attempt)

	if !final {
		d.retry(ctx, logger, job, d.nextDelay(job, retryAfter), attempt.Error)
		return
	}
	metrics.WebhookDeliveriesTotal.WithLabelValues(string(job.Trigger), string(attempt.Outcome)).Inc()
	if attempt.Outcome == domain.OutcomeSuccess {
		logger.Debug("webhook delivered", "status", attempt.StatusCode, "latencyMs", attempt.LatencyMs)
	} else {
		logger.Warn("webhook delivery failed permanently", "status", attempt.StatusCode, "err", attempt.Error)
	}
	d.complete(ctx, logger, job)
}

// terminal builds the closing record for a job that is stopped without a POST.
func (d *dispatcherService) terminal(job *domain.DeliveryJob, reason string) domain.DeliveryAttempt {
	a := newAttempt(*job)
	a.Outcome = domain.OutcomePermanentFailure
	a.Error = reason
	return a
}

func (d *dispatcherService) finish(ctx context.Context, logger *slog.Logger, job *domain.DeliveryJob, attempt domain.DeliveryAttempt) {
	attempt.Final = true
	d.record(ctx, logger, attempt)
	metrics.WebhookDeliveriesTotal.WithLabelValues(string(job.Trigger), string(attempt.Outcome)).Inc()
	logger.Info("delivery stopped", "reason", attempt.Error)
	d.complete(ctx, logger, job)
}

func (d *dispatcherService) record(ctx context.Context, logger *slog.Logger, attempt domain.DeliveryAttempt) {
	if d.attempts == nil {
		return
	}
	if err := d.attempts.Record(ctx, attempt); err != nil {
		logger.Warn("record delivery attempt failed", "err", err)
	}
}

func (d *dispatcherService) complete(ctx context.Context, logger *slog.Logger, job *domain.DeliveryJob) {
	if err := d.queue.Complete(ctx, job.ID); err != nil {
		logger.Warn("complete delivery job failed", "err", err)
	}
}

func (d *dispatcherService) retry(ctx context.Context, logger *slog.Logger, job *domain.DeliveryJob, delay time.Duration, lastErr string) {
	job.LastError = lastErr
	if err := d.queue.Retry(ctx, *job, delay); err != nil {
		// the lease will expire and the job is requeued
		logger.Warn("reschedule delivery failed", "err", err)
		return
	}
	logger.Debug("delivery rescheduled", "delay", delay)
}

// nextDelay applies the backoff policy and raises it to retryAfter, both capped
// at BackoffMax.
func (d *dispatcherService) nextDelay(job *domain.DeliveryJob, retryAfter time.Duration) time.Duration {
	d.rngMu.Lock()
	delay := backoff.Compute(d.cfg.BackoffPolicy, d.cfg.BackoffBase, d.cfg.BackoffMax, job.Attempts-1, d.rng)
	d.rngMu.Unlock()
	if retryAfter > delay {
		delay = retryAfter
	}
	if delay > d.cfg.BackoffMax {
		delay = d.cfg.BackoffMax
	}
	return delay
}

func (d *dispatcherService) DeliverOnce(ctx context.Context, job domain.DeliveryJob) (*domain.DeliveryAttempt, error) {
	if job.Attempts <= 0 {
		job.Attempts = 1
	}
	attempt, _, err := d.deliver(ctx, job)
	return &attempt, err
}

func newAttempt(job domain.DeliveryJob) domain.DeliveryAttempt {
	return domain.DeliveryAttempt{
		ID:             uuid.NewString(),
		SubscriptionID: job.SubscriptionID,
		ProjectID:      job.ProjectID,
		EventID:        job.EventID,
		JobID:          job.ID,
		Trigger:        job.Trigger,
		Payload:        string(job.Body),
		AttemptNumber:  job.Attempts,
		AttemptedAt:    time.Now().UTC(),
	}
}

// deliver performs one signed POST. The returned attempt always describes
// what happened; err is a *domain.DeliveryError or a
// *domain.FatalConfigurationError.
func (d *dispatcherService) deliver(ctx context.Context, job domain.DeliveryJob) (domain.DeliveryAttempt, time.Duration, error) {
	attempt := newAttempt(job)

	secret, err := d.sealer.Open(job.SealedSecret)
	if err != nil {
		return failAttempt(attempt, err), 0, err
	}
	sig, err := signature.Sign(secret, job.Body)
	if err != nil {
		return failAttempt(attempt, err), 0, err
	}

	ctx = tracing.ContextWithRemoteParent(ctx, job.TraceParent, job.TraceState)
	ctx, span := d.tracer.Start(ctx, "webhook.deliver",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("hookq.event_id", job.EventID),
			attribute.String("hookq.subscription_id", job.SubscriptionID),
			attribute.String("hookq.trigger", string(job.Trigger)),
			attribute.Int("hookq.attempt", job.Attempts),
		),
	)
	defer span.End()

	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, job.URL, bytes.NewReader(job.Body))
	if err != nil {
		derr := &domain.DeliveryError{Err: err}
		return failAttempt(attempt, derr), 0, derr
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(signature.HeaderSignature, sig)
	req.Header.Set(signature.HeaderEventID, job.EventID)
	req.Header.Set(signature.HeaderTrigger, string(job.Trigger))
	req.Header.Set(signature.HeaderAttempt, strconv.Itoa(job.Attempts))
	tracing.InjectHeaders(ctx, req.Header)

	start := time.Now()
	resp, err := d.client.Do(req)
	elapsed := time.Since(start)
	attempt.LatencyMs = elapsed.Milliseconds()
	if err != nil {
		derr := &domain.DeliveryError{Transient: true, Err: err}
		span.SetStatus(codes.Error, err.Error())
		d.observe(job, domain.OutcomeTransientFailure, elapsed)
		return failAttempt(attempt, derr), 0, derr
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	attempt.StatusCode = resp.StatusCode
	attempt.ResponseBody = string(body)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	derr := classify(resp.StatusCode)
	if derr == nil {
		attempt.Outcome = domain.OutcomeSuccess
		d.observe(job, attempt.Outcome, elapsed)
		return attempt, 0, nil
	}
	span.SetStatus(codes.Error, derr.Error())
	attempt = failAttempt(attempt, derr)
	d.observe(job, attempt.Outcome, elapsed)

	var retryAfter time.Duration
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	}
	return attempt, retryAfter, derr
}

func (d *dispatcherService) observe(job domain.DeliveryJob, outcome domain.DeliveryOutcome, elapsed time.Duration) {
	metrics.DeliveryAttemptsTotal.WithLabelValues(string(job.Trigger), string(outcome)).Inc()
	metrics.DeliveryLatencySeconds.WithLabelValues(string(job.Trigger), string(outcome)).Observe(elapsed.Seconds())
}

// classify maps an HTTP status to nil (delivered) or a DeliveryError.
func classify(status int) *domain.DeliveryError {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests, status >= 500:
		return &domain.DeliveryError{Transient: true, StatusCode: status}
	default:
		return &domain.DeliveryError{StatusCode: status}
	}
}

func failAttempt(a domain.DeliveryAttempt, err error) domain.DeliveryAttempt {
	a.Outcome = domain.OutcomePermanentFailure
	if domain.IsTransient(err) {
		a.Outcome = domain.OutcomeTransientFailure
	}
	a.Error = err.Error()
	return a
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
