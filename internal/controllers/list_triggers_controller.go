package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/hookq/pkg/domain"

	"github.com/gin-gonic/gin"
)

type listTriggersController struct{}

func NewListTriggersController() *listTriggersController {
	return &listTriggersController{}
}

func (h *listTriggersController) Handle(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":  domain.TriggerTypesVersion,
		"triggers": domain.SupportedTriggers,
	})
}
