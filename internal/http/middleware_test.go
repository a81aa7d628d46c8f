package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

func signIdentityToken(t *testing.T, secret, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": userID})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func identityRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/users/:user_id/ping", IdentityMiddleware(secret), func(c *gin.Context) {
		userID, ok := requireSelf(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": userID})
	})
	return r
}

func TestIdentityMiddleware_AllowsValidToken(t *testing.T) {
	r := identityRouter("secret")

	req := httptest.NewRequest(http.MethodGet, "/users/u1/ping", nil)
	req.Header.Set("Authorization", "Bearer "+signIdentityToken(t, "secret", "u1"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestIdentityMiddleware_RejectsMissingToken(t *testing.T) {
	r := identityRouter("secret")

	req := httptest.NewRequest(http.MethodGet, "/users/u1/ping", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestIdentityMiddleware_RejectsWrongSecret(t *testing.T) {
	r := identityRouter("secret")

	req := httptest.NewRequest(http.MethodGet, "/users/u1/ping", nil)
	req.Header.Set("Authorization", "Bearer "+signIdentityToken(t, "otro-secreto", "u1"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestIdentityMiddleware_RejectsTokenWithoutUserID(t *testing.T) {
	r := identityRouter("secret")

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1"})
	signed, err := token.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/users/u1/ping", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireSelf_RejectsCrossUserAccess(t *testing.T) {
	r := identityRouter("secret")

	// Token de u1 pidiendo datos de u2.
	req := httptest.NewRequest(http.MethodGet, "/users/u2/ping", nil)
	req.Header.Set("Authorization", "Bearer "+signIdentityToken(t, "secret", "u1"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func adminRouter(tokenHash string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin/ping", AdminMiddleware(tokenHash), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func TestAdminMiddleware_AllowsMatchingToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("admin-token"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash token: %v", err)
	}
	r := adminRouter(string(hash))

	req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
	req.Header.Set("X-Admin-Token", "admin-token")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAdminMiddleware_RejectsWrongToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("admin-token"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash token: %v", err)
	}
	r := adminRouter(string(hash))

	req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
	req.Header.Set("X-Admin-Token", "otro-token")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAdminMiddleware_DisabledWithoutHash(t *testing.T) {
	r := adminRouter("")

	req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
	req.Header.Set("X-Admin-Token", "cualquiera")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}
