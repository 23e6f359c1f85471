package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/hookq/internal/middleware"
	"github.com/osvaldoandrade/hookq/internal/services"

	"github.com/gin-gonic/gin"
)

type deleteWebhookController struct{ svc services.SubscriptionService }

func NewDeleteWebhookController(svc services.SubscriptionService) *deleteWebhookController {
	return &deleteWebhookController{svc: svc}
}

func (h *deleteWebhookController) Handle(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), middleware.ProjectID(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
