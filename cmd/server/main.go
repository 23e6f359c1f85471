package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/osvaldoandrade/hookq/internal/providers"
	"github.com/osvaldoandrade/hookq/pkg/app"
	_ "github.com/osvaldoandrade/hookq/pkg/auth/jwks"   // Register JWKS auth provider
	_ "github.com/osvaldoandrade/hookq/pkg/auth/static" // Register static token auth provider (dev/local)
	"github.com/osvaldoandrade/hookq/pkg/config"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fatal(msg string, err error) {
	fmt.Fprintln(os.Stderr, "[ERROR] "+msg+":", err)
	os.Exit(1)
}

func main() {
	cfg, err := config.LoadConfigOptional(getenv("HOOKQ_CONFIG_PATH", ""))
	if err != nil {
		fatal("load config", err)
	}
	if err := cfg.Validate(); err != nil {
		fatal("invalid config", err)
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		fatal("init app", err)
	}
	if err := providers.PingRedis(context.Background(), application.Redis, 5*time.Second); err != nil {
		fatal("connect redis", err)
	}
	app.SetupMappings(application)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           application.Engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	background := make(chan error, 1)
	go func() { background <- application.RunBackground(ctx) }()

	go func() {
		application.Logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("http server", err)
		}
	}()

	<-ctx.Done()
	application.Logger.Info("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		application.Logger.Warn("http shutdown", "err", err)
	}

	// wait for in-flight deliveries, bounded by the same grace period
	select {
	case err := <-background:
		if err != nil {
			application.Logger.Warn("background workers stopped with error", "err", err)
		}
	case <-shutdownCtx.Done():
		application.Logger.Warn("dispatcher drain timed out")
	}

	if err := application.Close(shutdownCtx); err != nil {
		application.Logger.Warn("close resources", "err", err)
	}
}
