package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/osvaldoandrade/hookq/internal/backoff"
	"github.com/osvaldoandrade/hookq/internal/metrics"
	"github.com/osvaldoandrade/hookq/internal/middleware"
	"github.com/osvaldoandrade/hookq/internal/providers"
	"github.com/osvaldoandrade/hookq/internal/repository"
	"github.com/osvaldoandrade/hookq/internal/secrets"
	"github.com/osvaldoandrade/hookq/internal/services"
	"github.com/osvaldoandrade/hookq/internal/tracing"
	"github.com/osvaldoandrade/hookq/pkg/auth"
	"github.com/osvaldoandrade/hookq/pkg/auth/static"
	"github.com/osvaldoandrade/hookq/pkg/config"
	"github.com/osvaldoandrade/hookq/pkg/persistence"
	_ "github.com/osvaldoandrade/hookq/pkg/persistence/memory"
	_ "github.com/osvaldoandrade/hookq/pkg/persistence/postgres"
	_ "github.com/osvaldoandrade/hookq/pkg/persistence/redis"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"
)

// devToken is accepted in env=dev when no auth provider is configured.
const devToken = "hookq-dev-token"

type Application struct {
	Config *config.Config
	Engine *gin.Engine
	Logger *slog.Logger
	TZ     *time.Location
	Redis  *redis.Client

	Validator auth.Validator
	Sealer    secrets.Sealer
	Attempts  persistence.AttemptStorage
	Queue     repository.DeliveryQueue

	Subscriptions services.SubscriptionService
	Notifier      services.NotifierService
	Dispatcher    services.DispatcherService
	Retention     services.AttemptRetentionService

	TracingShutdown tracing.ShutdownFunc

	deliveryClient *http.Client
}

// ApplicationOption configures the Application
type ApplicationOption func(*Application) error

// WithValidator sets a custom bearer token validator
func WithValidator(validator auth.Validator) ApplicationOption {
	return func(app *Application) error {
		app.Validator = validator
		return nil
	}
}

// WithRedisClient replaces the client built from redisAddr.
func WithRedisClient(client *redis.Client) ApplicationOption {
	return func(app *Application) error {
		app.Redis = client
		return nil
	}
}

// WithDeliveryClient sets the HTTP client used for outbound webhook requests.
func WithDeliveryClient(client *http.Client) ApplicationOption {
	return func(app *Application) error {
		app.deliveryClient = client
		return nil
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := new(slog.LevelVar)
	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler).With("service", "hookq", "env", cfg.Env)
}

func NewApplication(cfg *config.Config, opts ...ApplicationOption) (*Application, error) {
	app := &Application{Config: cfg}
	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.FixedZone("UTC", 0)
	}
	app.TZ = loc

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	app.Logger = logger

	shutdown, err := tracing.Setup(context.Background(), tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("tracing setup: %w", err)
	}
	app.TracingShutdown = shutdown

	if app.Redis == nil {
		app.Redis = providers.NewRedisProvider(cfg.RedisAddr, cfg.RedisPassword)
	}
	metrics.RegisterRedisCollector(app.Redis, logger)

	if app.Validator == nil {
		if app.Validator, err = newValidator(cfg, logger); err != nil {
			return nil, err
		}
	}
	if app.Sealer, err = newSealer(cfg, logger); err != nil {
		return nil, err
	}

	storeCfg, err := cfg.AttemptStoreConfig()
	if err != nil {
		return nil, err
	}
	app.Attempts, err = persistence.NewAttemptStorage(storeCfg, persistence.PluginConfig{
		HistoryLimit: cfg.AttemptHistoryLimit,
		Retention:    time.Duration(cfg.AttemptRetentionHours) * time.Hour,
		Redis:        app.Redis,
	})
	if err != nil {
		return nil, fmt.Errorf("attempt store %q: %w", storeCfg.Type, err)
	}

	policy, err := backoff.ParsePolicy(cfg.BackoffPolicy)
	if err != nil {
		return nil, err
	}

	subRepo := repository.NewSubscriptionRepository(app.Redis, loc)
	app.Queue = repository.NewDeliveryQueue(app.Redis, loc)
	events := repository.NewEventRepository(app.Redis, 0)
	matcher := services.NewMatcherService(subRepo, cfg.MatcherCacheSize, cfg.MatcherCacheTTL())

	app.Subscriptions = services.NewSubscriptionService(subRepo, matcher, app.Attempts, app.Sealer, logger, services.SubscriptionServiceOptions{
		MaxPerScope: cfg.MaxSubscriptionsPerScope,
	})
	app.Notifier = services.NewNotifierService(matcher, app.Queue, events, logger, cfg.DeliveryMaxAttempts)
	app.Dispatcher = services.NewDispatcherService(app.Queue, subRepo, app.Attempts, app.Sealer, logger, services.DispatcherConfig{
		Workers:         cfg.DispatchWorkers,
		Lease:           time.Duration(cfg.LeaseSeconds) * time.Second,
		Timeout:         time.Duration(cfg.DeliveryTimeoutSeconds) * time.Second,
		PromoteInterval: time.Duration(cfg.PromoteIntervalMs) * time.Millisecond,
		BackoffPolicy:   policy,
		BackoffBase:     time.Duration(cfg.BackoffBaseSeconds) * time.Second,
		BackoffMax:      time.Duration(cfg.BackoffMaxSeconds) * time.Second,
		HTTPClient:      app.deliveryClient,
	})
	app.Retention = services.NewAttemptRetentionService(app.Attempts, logger, cfg.RetentionIntervalSeconds, cfg.AttemptRetentionHours)

	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware(),
		middleware.LoggerMiddleware(logger),
		middleware.TracingMiddleware(cfg.Tracing.ServiceName),
	)
	app.Engine = engine

	return app, nil
}

func newValidator(cfg *config.Config, logger *slog.Logger) (auth.Validator, error) {
	if cfg.AuthProvider == "" {
		if cfg.Env != "dev" {
			return nil, fmt.Errorf("authProvider is required outside dev")
		}
		logger.Warn("no auth provider configured; accepting the dev token", "project", "dev")
		return static.NewValidatorFromJSON([]byte(`{"token":"` + devToken + `","projectId":"dev","role":"ADMIN"}`))
	}
	providerCfg, err := cfg.AuthProviderConfig()
	if err != nil {
		return nil, err
	}
	validator, err := auth.NewValidator(providerCfg)
	if err != nil {
		return nil, fmt.Errorf("auth provider %q: %w", providerCfg.Type, err)
	}
	return validator, nil
}

func newSealer(cfg *config.Config, logger *slog.Logger) (secrets.Sealer, error) {
	if cfg.SecretEncryptionKey == "" {
		if cfg.Env != "dev" {
			return nil, fmt.Errorf("secretEncryptionKey is required outside dev")
		}
		logger.Warn("secretEncryptionKey not set; webhook secrets are stored unsealed")
		return secrets.NewPlainSealer(), nil
	}
	return secrets.NewSealer(cfg.SecretEncryptionKey)
}

// RunBackground runs the dispatcher and the attempt retention loop until ctx
// is cancelled, then waits for in-flight deliveries.
func (app *Application) RunBackground(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.Dispatcher.Run(gctx) })
	g.Go(func() error {
		app.Retention.Start(gctx)
		return nil
	})
	return g.Wait()
}

// Close releases the shared clients. The HTTP server must already be stopped.
func (app *Application) Close(ctx context.Context) error {
	var firstErr error
	if app.Attempts != nil {
		if err := app.Attempts.Close(); err != nil {
			firstErr = err
		}
	}
	if app.TracingShutdown != nil {
		if err := app.TracingShutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if app.Redis != nil {
		if err := app.Redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
