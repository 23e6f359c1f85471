package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/hookq/internal/repository"

	"github.com/gin-gonic/gin"
)

type queueStatsController struct{ queue repository.DeliveryQueue }

func NewQueueStatsController(queue repository.DeliveryQueue) *queueStatsController {
	return &queueStatsController{queue: queue}
}

func (h *queueStatsController) Handle(c *gin.Context) {
	out, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
