package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/hookq/internal/middleware"
	"github.com/osvaldoandrade/hookq/internal/services"

	"github.com/gin-gonic/gin"
)

type getWebhookController struct{ svc services.SubscriptionService }

func NewGetWebhookController(svc services.SubscriptionService) *getWebhookController {
	return &getWebhookController{svc}
}

func (h *getWebhookController) Handle(c *gin.Context) {
	sub, err := h.svc.Get(c.Request.Context(), middleware.ProjectID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub.Redacted())
}
