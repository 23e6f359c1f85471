package controllers

import (
	"errors"
	"net/http"

	"github.com/osvaldoandrade/hookq/internal/middleware"
	"github.com/osvaldoandrade/hookq/pkg/domain"

	"github.com/gin-gonic/gin"
)

// writeError maps service errors onto HTTP statuses. Unexpected errors are
// logged and reported without internal detail.
func writeError(c *gin.Context, err error) {
	var ve *domain.ValidationError
	var nf *domain.NotFoundError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error()})
	case errors.As(err, &nf):
		c.JSON(http.StatusNotFound, gin.H{"error": nf.Error()})
	default:
		middleware.Logger(c).Error("request failed", "route", c.FullPath(), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func badBody(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
}
