package http

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const identityKey = "identity_user_id"

// zapLoggerMiddleware registra cada request con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}

// IdentityMiddleware valida el bearer token emitido por la plataforma y deja
// el user_id del claim en el contexto. El gateway no autentica usuarios; sólo
// verifica y propaga la identidad ya emitida.
func IdentityMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "identity not configured"})
			c.Abort()
			return
		}

		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			c.Abort()
			return
		}
		raw := strings.TrimSpace(header[len("Bearer "):])

		token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}
		userID, _ := claims["user_id"].(string)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "token has no user_id"})
			c.Abort()
			return
		}

		c.Set(identityKey, userID)
		c.Next()
	}
}

// IdentityFromContext devuelve el user_id autenticado del request.
func IdentityFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(identityKey)
	if !ok {
		return "", false
	}
	userID, ok := val.(string)
	return userID, ok
}

// requireSelf corta con 403 si la identidad del token no coincide con el
// usuario del path. El plano admin tiene su propio middleware.
func requireSelf(c *gin.Context) (string, bool) {
	userID := c.Param("user_id")
	identity, ok := IdentityFromContext(c)
	if !ok || identity != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "token does not match user"})
		c.Abort()
		return "", false
	}
	return userID, true
}

// AdminMiddleware verifica X-Admin-Token contra el hash bcrypt configurado.
// Sin hash configurado, el plano admin queda deshabilitado por completo.
func AdminMiddleware(tokenHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenHash == "" {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin plane disabled"})
			c.Abort()
			return
		}
		token := strings.TrimSpace(c.GetHeader("X-Admin-Token"))
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing admin token"})
			c.Abort()
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(token)); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid admin token"})
			c.Abort()
			return
		}
		c.Next()
	}
}
