package controllers

import (
	"net/http"
	"strconv"

	"github.com/osvaldoandrade/hookq/internal/middleware"
	"github.com/osvaldoandrade/hookq/internal/services"
	"github.com/osvaldoandrade/hookq/pkg/domain"

	"github.com/gin-gonic/gin"
)

const defaultAttemptsLimit = 50

type listAttemptsController struct{ svc services.SubscriptionService }

func NewListAttemptsController(svc services.SubscriptionService) *listAttemptsController {
	return &listAttemptsController{svc: svc}
}

func (h *listAttemptsController) Handle(c *gin.Context) {
	limit := defaultAttemptsLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	items, err := h.svc.Attempts(c.Request.Context(), middleware.ProjectID(c), c.Param("id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if items == nil {
		items = []domain.DeliveryAttempt{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}
