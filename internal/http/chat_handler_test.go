package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/domain"
	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/service"
)

type stubChat struct {
	resp service.ChatResponse
	err  error
	last service.ChatRequest
}

func (s *stubChat) Respond(_ context.Context, req service.ChatRequest) (service.ChatResponse, error) {
	s.last = req
	return s.resp, s.err
}

type stubProactive struct {
	decision  service.ProactiveDecision
	evalErr   error
	initResp  service.ChatResponse
	initErr   error
	initiated bool
	declined  bool
}

func (s *stubProactive) Evaluate(_ context.Context, userID string) (service.ProactiveDecision, error) {
	s.decision.UserID = userID
	return s.decision, s.evalErr
}

func (s *stubProactive) Initiate(_ context.Context, _ service.ProactiveDecision) (service.ChatResponse, error) {
	s.initiated = true
	return s.initResp, s.initErr
}

func (s *stubProactive) Decline(_ context.Context, _ string) error {
	s.declined = true
	return nil
}

type stubInit struct {
	err  error
	last string
}

func (s *stubInit) Init(_ context.Context, userID, _ string) error {
	s.last = userID
	return s.err
}

func setupChatRouter(chat *stubChat, proactive *stubProactive, init *stubInit) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewChatHandler(zap.NewNop(), chat, proactive, init)
	r.POST("/users", h.CreateUser)
	users := r.Group("/users/:user_id", IdentityMiddleware("secret"))
	users.POST("/chat", h.PostMessage)
	users.GET("/proactive", h.EvaluateProactive)
	users.POST("/proactive", h.InitiateProactive)
	users.POST("/proactive/decline", h.DeclineProactive)
	return r
}

func performAuthedRequest(t *testing.T, r http.Handler, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+signIdentityToken(t, "secret", userID))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestChatHandlerCreateUser_Success(t *testing.T) {
	init := &stubInit{}
	r := setupChatRouter(&stubChat{}, &stubProactive{}, init)

	rec := performAuthedRequest(t, r, http.MethodPost, "/users", "", map[string]string{
		"user_id":      "u1",
		"display_name": "Ana",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rec.Code)
	}
	if init.last != "u1" {
		t.Fatalf("expected init for u1, got %q", init.last)
	}
}

func TestChatHandlerCreateUser_MissingUserID(t *testing.T) {
	r := setupChatRouter(&stubChat{}, &stubProactive{}, &stubInit{})

	rec := performAuthedRequest(t, r, http.MethodPost, "/users", "", map[string]string{
		"display_name": "Ana",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestChatHandlerPostMessage_Success(t *testing.T) {
	chat := &stubChat{resp: service.ChatResponse{InteractionID: "i1", Text: "hola"}}
	r := setupChatRouter(chat, &stubProactive{}, &stubInit{})

	rec := performAuthedRequest(t, r, http.MethodPost, "/users/u1/chat", "u1", map[string]string{
		"message": "hola, ¿cómo estás?",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if chat.last.UserID != "u1" {
		t.Fatalf("expected request routed to u1, got %q", chat.last.UserID)
	}

	var resp service.ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Text != "hola" {
		t.Fatalf("expected text %q, got %q", "hola", resp.Text)
	}
}

func TestChatHandlerPostMessage_BusyMapsTo429(t *testing.T) {
	chat := &stubChat{err: domain.ErrBusy}
	r := setupChatRouter(chat, &stubProactive{}, &stubInit{})

	rec := performAuthedRequest(t, r, http.MethodPost, "/users/u1/chat", "u1", map[string]string{
		"message": "hola",
	})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rec.Code)
	}
}

func TestChatHandlerPostMessage_UnknownUserMapsTo404(t *testing.T) {
	chat := &stubChat{err: domain.ErrUserNotFound}
	r := setupChatRouter(chat, &stubProactive{}, &stubInit{})

	rec := performAuthedRequest(t, r, http.MethodPost, "/users/u1/chat", "u1", map[string]string{
		"message": "hola",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

func TestChatHandlerPostMessage_InternalErrorHidesDetail(t *testing.T) {
	chat := &stubChat{err: errors.New("pgx: connection refused")}
	r := setupChatRouter(chat, &stubProactive{}, &stubInit{})

	rec := performAuthedRequest(t, r, http.MethodPost, "/users/u1/chat", "u1", map[string]string{
		"message": "hola",
	})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rec.Code)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("pgx")) {
		t.Fatalf("internal detail leaked to client: %s", rec.Body.String())
	}
}

func TestChatHandlerPostMessage_RequiresMatchingIdentity(t *testing.T) {
	r := setupChatRouter(&stubChat{}, &stubProactive{}, &stubInit{})

	rec := performAuthedRequest(t, r, http.MethodPost, "/users/u2/chat", "u1", map[string]string{
		"message": "hola",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rec.Code)
	}
}

func TestChatHandlerInitiateProactive_BelowThreshold(t *testing.T) {
	proactive := &stubProactive{decision: service.ProactiveDecision{ShouldInitiate: false, Score: 0.4}}
	r := setupChatRouter(&stubChat{}, proactive, &stubInit{})

	rec := performAuthedRequest(t, r, http.MethodPost, "/users/u1/proactive", "u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if proactive.initiated {
		t.Fatalf("expected no initiation below threshold")
	}

	var resp struct {
		Initiated bool `json:"initiated"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Initiated {
		t.Fatalf("expected initiated=false")
	}
}

func TestChatHandlerInitiateProactive_AboveThreshold(t *testing.T) {
	proactive := &stubProactive{
		decision: service.ProactiveDecision{ShouldInitiate: true, Score: 0.8, Trigger: "need_based"},
		initResp: service.ChatResponse{InteractionID: "i2", Text: "pensaba en ti"},
	}
	r := setupChatRouter(&stubChat{}, proactive, &stubInit{})

	rec := performAuthedRequest(t, r, http.MethodPost, "/users/u1/proactive", "u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !proactive.initiated {
		t.Fatalf("expected initiation above threshold")
	}
}

func TestChatHandlerDeclineProactive(t *testing.T) {
	proactive := &stubProactive{}
	r := setupChatRouter(&stubChat{}, proactive, &stubInit{})

	rec := performAuthedRequest(t, r, http.MethodPost, "/users/u1/proactive/decline", "u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !proactive.declined {
		t.Fatalf("expected decline to be recorded")
	}
}
