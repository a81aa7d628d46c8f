package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouterConfig agrupa los secretos que el router necesita de la config.
type RouterConfig struct {
	IdentitySecret string
	AdminTokenHash string
	// Ping verifica el almacén relacional para /healthz; nil lo omite.
	Ping func(ctx context.Context) error
}

// NewRouter configura el router de Gin con middlewares y rutas base.
func NewRouter(
	logger *zap.Logger,
	cfg RouterConfig,
	chatH *ChatHandler,
	introspectH *IntrospectHandler,
	adminH *AdminHandler,
) *gin.Engine {
	r := gin.New()

	// Middlewares basicos: logging, recovery y JSON content-type.
	r.Use(zapLoggerMiddleware(logger), gin.Recovery(), jsonContentTypeMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		if cfg.Ping != nil {
			if err := cfg.Ping(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "store": "unreachable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Alta de usuarios: sin identidad previa, la plataforma llama aquí al
	// registrar una cuenta.
	r.POST("/users", chatH.CreateUser)

	// Todo lo demás por usuario exige el bearer token de la plataforma.
	users := r.Group("/users/:user_id", IdentityMiddleware(cfg.IdentitySecret))
	users.POST("/chat", chatH.PostMessage)
	users.GET("/proactive", chatH.EvaluateProactive)
	users.POST("/proactive", chatH.InitiateProactive)
	users.POST("/proactive/decline", chatH.DeclineProactive)
	users.GET("/personality", introspectH.GetPersonality)
	users.GET("/quirks", introspectH.GetQuirks)
	users.GET("/needs", introspectH.GetNeeds)
	users.GET("/history", introspectH.GetHistory)
	users.GET("/memories", introspectH.ListMemories)
	users.POST("/memories/search", introspectH.SearchMemories)
	users.GET("/memories/:memory_id", introspectH.GetMemory)

	// Plano admin: token dedicado, deshabilitado si no hay hash configurado.
	admin := r.Group("/admin", AdminMiddleware(cfg.AdminTokenHash))
	admin.GET("/stats", adminH.GetSystemStats)
	admin.GET("/users", adminH.ListUsers)
	admin.PUT("/users/:user_id/status", adminH.SetUserStatus)
	admin.PUT("/users/:user_id/proactive", adminH.SetProactive)
	admin.GET("/users/:user_id/stats", adminH.GetUserStats)
	admin.GET("/users/:user_id/incidents", adminH.GetUserIncidents)
	admin.POST("/users/:user_id/personality/reset", adminH.ResetPersonality)
	admin.GET("/jobs", adminH.ListJobs)
	admin.POST("/jobs/:name/run", adminH.RunJob)
	admin.POST("/memories/migrate", adminH.MigrateMemories)
	admin.POST("/memories/cleanup", adminH.CleanupMemories)

	return r
}
