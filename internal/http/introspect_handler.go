package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/domain"
)

// PersonalityReader expone el estado psicológico de un usuario.
type PersonalityReader interface {
	Snapshot(ctx context.Context, userID string) (domain.PersonalitySnapshot, error)
}

// MemoryReader expone las memorias de un usuario.
type MemoryReader interface {
	SearchMMR(ctx context.Context, userID, query string, k int) ([]domain.ScoredMemory, error)
	List(ctx context.Context, userID, memType string, limit, offset int) ([]domain.Memory, error)
	GetByID(ctx context.Context, userID, memoryID string) (domain.Memory, error)
}

// HistoryReader expone el historial de interacciones.
type HistoryReader interface {
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.InteractionRecord, error)
}

// IntrospectHandler sirve las vistas de solo lectura por usuario.
type IntrospectHandler struct {
	logger      *zap.Logger
	personality PersonalityReader
	memories    MemoryReader
	history     HistoryReader
}

func NewIntrospectHandler(logger *zap.Logger, personality PersonalityReader, memories MemoryReader, history HistoryReader) *IntrospectHandler {
	return &IntrospectHandler{logger: logger, personality: personality, memories: memories, history: history}
}

// GetPersonality maneja GET /users/:user_id/personality.
func (h *IntrospectHandler) GetPersonality(c *gin.Context) {
	userID, ok := requireSelf(c)
	if !ok {
		return
	}
	snapshot, err := h.personality.Snapshot(c.Request.Context(), userID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// GetQuirks maneja GET /users/:user_id/quirks; sólo los activos.
func (h *IntrospectHandler) GetQuirks(c *gin.Context) {
	userID, ok := requireSelf(c)
	if !ok {
		return
	}
	snapshot, err := h.personality.Snapshot(c.Request.Context(), userID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quirks": snapshot.ActiveQuirks()})
}

// GetNeeds maneja GET /users/:user_id/needs.
func (h *IntrospectHandler) GetNeeds(c *gin.Context) {
	userID, ok := requireSelf(c)
	if !ok {
		return
	}
	snapshot, err := h.personality.Snapshot(c.Request.Context(), userID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"needs": snapshot.Needs, "urgent": snapshot.UrgentNeeds()})
}

// GetHistory maneja GET /users/:user_id/history.
func (h *IntrospectHandler) GetHistory(c *gin.Context) {
	userID, ok := requireSelf(c)
	if !ok {
		return
	}
	limit, offset := pageParams(c, 20, 100)
	records, err := h.history.ListByUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"interactions": records, "limit": limit, "offset": offset})
}

// ListMemories maneja GET /users/:user_id/memories?type=episodic.
func (h *IntrospectHandler) ListMemories(c *gin.Context) {
	userID, ok := requireSelf(c)
	if !ok {
		return
	}
	memType := c.DefaultQuery("type", domain.MemoryTypeEpisodic)
	limit, offset := pageParams(c, 20, 100)
	memories, err := h.memories.List(c.Request.Context(), userID, memType, limit, offset)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"memories": memories, "limit": limit, "offset": offset})
}

// SearchMemories maneja POST /users/:user_id/memories/search.
func (h *IntrospectHandler) SearchMemories(c *gin.Context) {
	userID, ok := requireSelf(c)
	if !ok {
		return
	}
	var req struct {
		Query string `json:"query" binding:"required"`
		K     int    `json:"k"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if req.K <= 0 || req.K > 50 {
		req.K = 5
	}

	started := time.Now()
	results, err := h.memories.SearchMMR(c.Request.Context(), userID, req.Query, req.K)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"results":    results,
		"elapsed_ms": time.Since(started).Milliseconds(),
	})
}

// GetMemory maneja GET /users/:user_id/memories/:memory_id.
func (h *IntrospectHandler) GetMemory(c *gin.Context) {
	userID, ok := requireSelf(c)
	if !ok {
		return
	}
	memory, err := h.memories.GetByID(c.Request.Context(), userID, c.Param("memory_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "memory not found"})
		return
	}
	c.JSON(http.StatusOK, memory)
}
