package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/hookq/internal/middleware"
	"github.com/osvaldoandrade/hookq/internal/services"

	"github.com/gin-gonic/gin"
)

type updateWebhookController struct{ svc services.SubscriptionService }

func NewUpdateWebhookController(svc services.SubscriptionService) *updateWebhookController {
	return &updateWebhookController{svc: svc}
}

// isActive is the only mutable field; URL and triggers are fixed at creation.
type updateWebhookReq struct {
	IsActive *bool `json:"isActive"`
}

func (h *updateWebhookController) Handle(c *gin.Context) {
	var req updateWebhookReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c)
		return
	}
	if req.IsActive == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "isActive is required"})
		return
	}
	sub, err := h.svc.SetActive(c.Request.Context(), middleware.ProjectID(c), c.Param("id"), *req.IsActive)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub.Redacted())
}
