package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/hookq/internal/middleware"
	"github.com/osvaldoandrade/hookq/internal/services"

	"github.com/gin-gonic/gin"
)

type createWebhookController struct{ svc services.SubscriptionService }

func NewCreateWebhookController(svc services.SubscriptionService) *createWebhookController {
	return &createWebhookController{svc: svc}
}

type createWebhookReq struct {
	URL      string   `json:"url"`
	Triggers []string `json:"triggers"`
	BotID    string   `json:"botId,omitempty"`
}

func (h *createWebhookController) Handle(c *gin.Context) {
	var req createWebhookReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c)
		return
	}
	created, err := h.svc.Create(c.Request.Context(), services.CreateSubscriptionInput{
		ProjectID: middleware.ProjectID(c),
		BotID:     req.BotID,
		URL:       req.URL,
		Triggers:  req.Triggers,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}
