package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/service"
)

// ChatResponder procesa un turno de conversación completo.
type ChatResponder interface {
	Respond(ctx context.Context, req service.ChatRequest) (service.ChatResponse, error)
}

// ProactiveManager expone la iniciativa proactiva y su rechazo.
type ProactiveManager interface {
	Evaluate(ctx context.Context, userID string) (service.ProactiveDecision, error)
	Initiate(ctx context.Context, decision service.ProactiveDecision) (service.ChatResponse, error)
	Decline(ctx context.Context, userID string) error
}

// UserInitializer crea el estado completo de un usuario nuevo.
type UserInitializer interface {
	Init(ctx context.Context, userID, displayName string) error
}

// ChatHandler mantiene dependencias para los endpoints de conversación.
type ChatHandler struct {
	logger    *zap.Logger
	chat      ChatResponder
	proactive ProactiveManager
	users     UserInitializer
}

// NewChatHandler crea una instancia de ChatHandler con dependencias necesarias.
func NewChatHandler(logger *zap.Logger, chat ChatResponder, proactive ProactiveManager, users UserInitializer) *ChatHandler {
	return &ChatHandler{logger: logger, chat: chat, proactive: proactive, users: users}
}

// CreateUser maneja POST /users: inicialización idempotente con rollback.
func (h *ChatHandler) CreateUser(c *gin.Context) {
	var req struct {
		UserID      string `json:"user_id" binding:"required"`
		DisplayName string `json:"display_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid create user request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := h.users.Init(c.Request.Context(), req.UserID, req.DisplayName); err != nil {
		h.logger.Error("user init failed", zap.String("user_id", req.UserID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not initialize user"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user_id": req.UserID, "status": "active"})
}

// PostMessage maneja POST /users/:user_id/chat.
func (h *ChatHandler) PostMessage(c *gin.Context) {
	userID, ok := requireSelf(c)
	if !ok {
		return
	}
	var req struct {
		Message   string `json:"message" binding:"required"`
		SessionID string `json:"session_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid chat request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	resp, err := h.chat.Respond(c.Request.Context(), service.ChatRequest{
		UserID:    userID,
		SessionID: req.SessionID,
		Message:   req.Message,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// EvaluateProactive maneja GET /users/:user_id/proactive: puntúa sin iniciar.
func (h *ChatHandler) EvaluateProactive(c *gin.Context) {
	userID, ok := requireSelf(c)
	if !ok {
		return
	}
	decision, err := h.proactive.Evaluate(c.Request.Context(), userID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

// InitiateProactive maneja POST /users/:user_id/proactive: fuerza la
// iniciativa si el puntaje la habilita.
func (h *ChatHandler) InitiateProactive(c *gin.Context) {
	userID, ok := requireSelf(c)
	if !ok {
		return
	}
	decision, err := h.proactive.Evaluate(c.Request.Context(), userID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if !decision.ShouldInitiate {
		c.JSON(http.StatusOK, gin.H{"initiated": false, "decision": decision})
		return
	}
	resp, err := h.proactive.Initiate(c.Request.Context(), decision)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"initiated": true, "message": resp})
}

// DeclineProactive maneja POST /users/:user_id/proactive/decline.
func (h *ChatHandler) DeclineProactive(c *gin.Context) {
	userID, ok := requireSelf(c)
	if !ok {
		return
	}
	if err := h.proactive.Decline(c.Request.Context(), userID); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"declined": true})
}
