// Package http expone la superficie REST del gateway: chat, introspección
// por usuario y el plano admin, sobre Gin.
package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/domain"
)

// writeError mapea la taxonomía de errores del dominio a códigos HTTP. Los
// detalles internos nunca viajan al cliente.
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
	case errors.Is(err, domain.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	case errors.Is(err, domain.ErrUserInactive):
		c.JSON(http.StatusForbidden, gin.H{"error": "user not active"})
	case errors.Is(err, domain.ErrBusy):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "a turn is already in flight for this user"})
	case errors.Is(err, domain.ErrServiceUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service unavailable"})
	default:
		if logger != nil {
			logger.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// pageParams lee limit/offset con defaults y techos sanos.
func pageParams(c *gin.Context, defaultLimit, maxLimit int) (int, int) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
	if err != nil || limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}
