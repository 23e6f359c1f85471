package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/osvaldoandrade/hookq/internal/middleware"
	"github.com/osvaldoandrade/hookq/internal/services"

	"github.com/gin-gonic/gin"
)

type emitEventController struct{ svc services.NotifierService }

func NewEmitEventController(svc services.NotifierService) *emitEventController {
	return &emitEventController{svc: svc}
}

type emitEventReq struct {
	Trigger string          `json:"trigger"`
	BotID   string          `json:"botId,omitempty"`
	EventID string          `json:"eventId,omitempty"`
	Data    json.RawMessage `json:"data"`
}

func (h *emitEventController) Handle(c *gin.Context) {
	var req emitEventReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c)
		return
	}
	res, err := h.svc.Emit(c.Request.Context(), services.EmitInput{
		ProjectID: middleware.ProjectID(c),
		BotID:     req.BotID,
		Trigger:   req.Trigger,
		Data:      req.Data,
		EventID:   req.EventID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, res)
}
