package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/hookq/internal/middleware"
	"github.com/osvaldoandrade/hookq/internal/services"
	"github.com/osvaldoandrade/hookq/pkg/domain"

	"github.com/gin-gonic/gin"
)

type listWebhooksController struct{ svc services.SubscriptionService }

func NewListWebhooksController(svc services.SubscriptionService) *listWebhooksController {
	return &listWebhooksController{svc: svc}
}

func (h *listWebhooksController) Handle(c *gin.Context) {
	items := []domain.Subscription{}
	for sub, err := range h.svc.List(c.Request.Context(), middleware.ProjectID(c)) {
		if err != nil {
			writeError(c, err)
			return
		}
		items = append(items, sub)
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}
