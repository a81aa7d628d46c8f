package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/domain"
	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/repository"
	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/scheduler"
	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/vector"
)

// AdminUserStore es la vista administrativa sobre los perfiles.
type AdminUserStore interface {
	ListPaged(ctx context.Context, limit, offset int) ([]domain.UserProfile, error)
	Count(ctx context.Context) (int, error)
	SetStatus(ctx context.Context, userID, status string) error
	SetProactiveEnabled(ctx context.Context, userID string, enabled bool) error
}

// StatsReader agrega la historia de interacciones de un usuario.
type StatsReader interface {
	Stats(ctx context.Context, userID string, since time.Time) (repository.InteractionStats, error)
}

// IncidentReader lista incidentes de seguridad.
type IncidentReader interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.SecurityIncident, error)
}

// JobRunner expone el estado del scheduler y el disparo manual.
type JobRunner interface {
	Status() []scheduler.JobStatus
	RunNow(name string) error
}

// PersonalityResetter reconstruye el estado psicológico con defaults.
type PersonalityResetter interface {
	Reset(ctx context.Context, userID string) error
}

// MemoryAdminStore es el subconjunto del almacén vectorial que el plano
// admin opera: migración entre usuarios y limpieza de puntos débiles.
type MemoryAdminStore interface {
	Migrate(ctx context.Context, fromCollection, toCollection, fromUser, toUser string) (int, error)
	CleanupWeak(ctx context.Context, maxRecency, maxImportance float64) (int, error)
}

// ReflectionHistory expone la última corrida del job nocturno.
type ReflectionHistory interface {
	LastRun(ctx context.Context) (domain.ReflectionRun, bool, error)
}

// AdminHandler sirve el plano de operación; todas sus rutas pasan por el
// middleware de token admin.
type AdminHandler struct {
	logger    *zap.Logger
	users     AdminUserStore
	stats     StatsReader
	incidents IncidentReader
	jobs      JobRunner
	resetter  PersonalityResetter
	store     MemoryAdminStore
	runs      ReflectionHistory
}

func NewAdminHandler(
	logger *zap.Logger,
	users AdminUserStore,
	stats StatsReader,
	incidents IncidentReader,
	jobs JobRunner,
	resetter PersonalityResetter,
	store MemoryAdminStore,
	runs ReflectionHistory,
) *AdminHandler {
	return &AdminHandler{
		logger:    logger,
		users:     users,
		stats:     stats,
		incidents: incidents,
		jobs:      jobs,
		resetter:  resetter,
		store:     store,
		runs:      runs,
	}
}

// GetSystemStats maneja GET /admin/stats.
func (h *AdminHandler) GetSystemStats(c *gin.Context) {
	total, err := h.users.Count(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	body := gin.H{"total_users": total}
	if run, ok, err := h.runs.LastRun(c.Request.Context()); err == nil && ok {
		body["last_reflection"] = run
	}
	c.JSON(http.StatusOK, body)
}

// ListUsers maneja GET /admin/users.
func (h *AdminHandler) ListUsers(c *gin.Context) {
	limit, offset := pageParams(c, 50, 200)
	users, err := h.users.ListPaged(c.Request.Context(), limit, offset)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	total, err := h.users.Count(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "total": total, "limit": limit, "offset": offset})
}

// SetUserStatus maneja PUT /admin/users/:user_id/status.
func (h *AdminHandler) SetUserStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	switch req.Status {
	case domain.UserStatusActive, domain.UserStatusInactive, domain.UserStatusArchived:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
		return
	}
	if err := h.users.SetStatus(c.Request.Context(), c.Param("user_id"), req.Status); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": c.Param("user_id"), "status": req.Status})
}

// SetProactive maneja PUT /admin/users/:user_id/proactive.
func (h *AdminHandler) SetProactive(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := h.users.SetProactiveEnabled(c.Request.Context(), c.Param("user_id"), *req.Enabled); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": c.Param("user_id"), "proactive_enabled": *req.Enabled})
}

// GetUserStats maneja GET /admin/users/:user_id/stats.
func (h *AdminHandler) GetUserStats(c *gin.Context) {
	days := 30
	since := time.Now().UTC().AddDate(0, 0, -days)
	stats, err := h.stats.Stats(c.Request.Context(), c.Param("user_id"), since)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats, "window_days": days})
}

// GetUserIncidents maneja GET /admin/users/:user_id/incidents.
func (h *AdminHandler) GetUserIncidents(c *gin.Context) {
	limit, _ := pageParams(c, 50, 200)
	incidents, err := h.incidents.ListByUser(c.Request.Context(), c.Param("user_id"), limit)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"incidents": incidents})
}

// ResetPersonality maneja POST /admin/users/:user_id/personality/reset.
func (h *AdminHandler) ResetPersonality(c *gin.Context) {
	userID := c.Param("user_id")
	if err := h.resetter.Reset(c.Request.Context(), userID); err != nil {
		writeError(c, h.logger, err)
		return
	}
	h.logger.Info("personality reset", zap.String("user_id", userID))
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "reset": true})
}

// ListJobs maneja GET /admin/jobs.
func (h *AdminHandler) ListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": h.jobs.Status()})
}

// RunJob maneja POST /admin/jobs/:name/run.
func (h *AdminHandler) RunJob(c *gin.Context) {
	name := c.Param("name")
	if err := h.jobs.RunNow(name); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job"})
		return
	}
	h.logger.Info("job triggered manually", zap.String("job", name))
	c.JSON(http.StatusAccepted, gin.H{"job": name, "triggered": true})
}

// MigrateMemories maneja POST /admin/memories/migrate: mueve las colecciones
// de un usuario a otro identificador.
func (h *AdminHandler) MigrateMemories(c *gin.Context) {
	var req struct {
		FromUserID string `json:"from_user_id" binding:"required"`
		ToUserID   string `json:"to_user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	moved := 0
	for _, memType := range []string{domain.MemoryTypeEpisodic, domain.MemoryTypeSemantic} {
		from := vector.CollectionName(memType, req.FromUserID)
		to := vector.CollectionName(memType, req.ToUserID)
		n, err := h.store.Migrate(c.Request.Context(), from, to, req.FromUserID, req.ToUserID)
		if err != nil {
			writeError(c, h.logger, err)
			return
		}
		moved += n
	}
	h.logger.Info("memories migrated",
		zap.String("from", req.FromUserID), zap.String("to", req.ToUserID), zap.Int("moved", moved))
	c.JSON(http.StatusOK, gin.H{"moved": moved})
}

// CleanupMemories maneja POST /admin/memories/cleanup: borra puntos débiles.
func (h *AdminHandler) CleanupMemories(c *gin.Context) {
	var req struct {
		MaxRecency    float64 `json:"max_recency"`
		MaxImportance float64 `json:"max_importance"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if req.MaxRecency <= 0 {
		req.MaxRecency = 0.05
	}
	if req.MaxImportance <= 0 {
		req.MaxImportance = 0.2
	}
	removed, err := h.store.CleanupWeak(c.Request.Context(), req.MaxRecency, req.MaxImportance)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	h.logger.Info("weak memories removed", zap.Int("removed", removed))
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
