package bench

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/hookq/internal/services"
	"github.com/osvaldoandrade/hookq/pkg/app"
	_ "github.com/osvaldoandrade/hookq/pkg/auth/static" // Register static auth provider.
	"github.com/osvaldoandrade/hookq/pkg/config"
	"github.com/osvaldoandrade/hookq/pkg/domain"
)

const (
	benchProject = "bench-project"
	benchToken   = "bench-admin-token"
	benchKey     = "AAECAwQFBgcICQoLDA0ODxAREhMUFRYXGBkaGxwdHh8="
	benchHooks   = 10
)

func newBenchApp(b *testing.B) *app.Application {
	b.Helper()
	gin.SetMode(gin.ReleaseMode)

	mr, err := miniredis.Run()
	if err != nil {
		b.Fatalf("miniredis start: %v", err)
	}
	b.Cleanup(mr.Close)

	cfg, err := config.LoadConfigOptional("")
	if err != nil {
		b.Fatalf("load config: %v", err)
	}
	cfg.Env = "test"
	cfg.LogLevel = "error"
	cfg.RedisAddr = mr.Addr()
	cfg.AuthProvider = "static"
	cfg.AuthConfig = map[string]any{
		"token":     benchToken,
		"subject":   "bench",
		"projectId": benchProject,
		"role":      "ADMIN",
	}
	cfg.SecretEncryptionKey = benchKey
	cfg.AttemptStore.Type = "memory"
	if err := cfg.Validate(); err != nil {
		b.Fatalf("config validate: %v", err)
	}

	a, err := app.NewApplication(cfg)
	if err != nil {
		b.Fatalf("app init: %v", err)
	}
	app.SetupMappings(a)
	b.Cleanup(func() { _ = a.Close(context.Background()) })

	ctx := context.Background()
	for i := 0; i < benchHooks; i++ {
		_, err := a.Subscriptions.Create(ctx, services.CreateSubscriptionInput{
			ProjectID: benchProject,
			URL:       fmt.Sprintf("https://hooks.bench.local/%d", i),
			Triggers:  []string{string(domain.TriggerBotStateChange)},
		})
		if err != nil {
			b.Fatalf("create subscription %d: %v", i, err)
		}
	}
	return a
}

func doJSONRequest(b *testing.B, h http.Handler, method, path string, body []byte) (int, []byte) {
	b.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+benchToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w.Code, w.Body.Bytes()
}

// BenchmarkHTTP_EmitEvent measures the emit path with fan-out to benchHooks
// subscriptions. Jobs are left queued; no dispatcher runs.
func BenchmarkHTTP_EmitEvent(b *testing.B) {
	a := newBenchApp(b)
	body := []byte(`{"trigger":"bot.state_change","botId":"bot_1","data":{"state":"joined"}}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		status, resp := doJSONRequest(b, a.Engine, http.MethodPost, "/v1/hookq/events", body)
		if status != http.StatusAccepted {
			b.Fatalf("emit status %d body=%s", status, string(resp))
		}
	}
}

func BenchmarkNotifier_EmitClaimComplete(b *testing.B) {
	a := newBenchApp(b)
	ctx := context.Background()
	in := services.EmitInput{
		ProjectID: benchProject,
		Trigger:   string(domain.TriggerBotStateChange),
		Data:      []byte(`{"state":"joined"}`),
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		res, err := a.Notifier.Emit(ctx, in)
		if err != nil {
			b.Fatalf("Emit: %v", err)
		}
		if res.Matched != benchHooks {
			b.Fatalf("matched %d, want %d", res.Matched, benchHooks)
		}
		for j := 0; j < res.Matched; j++ {
			job, ok, err := a.Queue.Claim(ctx, "bench-worker", time.Minute)
			if err != nil || !ok {
				b.Fatalf("Claim: ok=%v err=%v", ok, err)
			}
			if err := a.Queue.Complete(ctx, job.ID); err != nil {
				b.Fatalf("Complete: %v", err)
			}
		}
	}
}
