package app

import (
	"context"
	"net/http"
	"time"

	"github.com/osvaldoandrade/hookq/internal/controllers"
	"github.com/osvaldoandrade/hookq/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupMappings(app *Application) {
	app.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	app.Engine.GET("/healthz", app.health)

	v1 := app.Engine.Group("/v1/hookq", middleware.AuthMiddleware(app.Validator, app.Config.Env == "dev"))
	{
		v1.GET("/triggers", controllers.NewListTriggersController().Handle)

		v1.POST("/webhooks", controllers.NewCreateWebhookController(app.Subscriptions).Handle)
		v1.GET("/webhooks", controllers.NewListWebhooksController(app.Subscriptions).Handle)
		v1.GET("/webhooks/:id", controllers.NewGetWebhookController(app.Subscriptions).Handle)
		v1.PATCH("/webhooks/:id", controllers.NewUpdateWebhookController(app.Subscriptions).Handle)
		v1.DELETE("/webhooks/:id", controllers.NewDeleteWebhookController(app.Subscriptions).Handle)
		v1.GET("/webhooks/:id/attempts", controllers.NewListAttemptsController(app.Subscriptions).Handle)

		admin := v1.Group("", middleware.RequireAdmin())
		admin.POST("/events", controllers.NewEmitEventController(app.Notifier).Handle)
		admin.GET("/admin/queue", controllers.NewQueueStatsController(app.Queue).Handle)
	}
}

func (app *Application) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := app.Redis.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "redis": err.Error()})
		return
	}
	if err := app.Attempts.Health(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "attemptStore": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
