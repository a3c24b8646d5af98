package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/domara/audit-engine/internal/auth"
	"github.com/domara/audit-engine/internal/config"
	"github.com/domara/audit-engine/internal/undo"
)

func testTokens(t *testing.T) *auth.TokenManager {
	t.Helper()

	m, err := auth.NewTokenManager(config.JWTConfig{
		Secret: "test-jwt-secret-that-is-32-chars!!",
		Issuer: "audit-engine",
		Expiry: time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to create token manager: %v", err)
	}
	return m
}

// authRouter wires the middleware in front of a probe handler that reports
// the identity it saw.
func authRouter(tokens *auth.TokenManager, optional bool) *gin.Engine {
	router := gin.New()
	if optional {
		router.Use(OptionalAuthMiddleware(tokens))
	} else {
		router.Use(AuthMiddleware(tokens))
	}
	router.GET("/probe", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id": CallerID(c).String(),
			"role":    string(CallerRole(c)),
		})
	})
	return router
}

// ---

func TestAuthMiddleware_ValidToken(t *testing.T) {
	tokens := testTokens(t)
	userID := uuid.New()

	token, err := tokens.Generate(userID, "admin@example.com", undo.RoleSupport)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	authRouter(tokens, false).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if body := w.Body.String(); !strings.Contains(body, userID.String()) || !strings.Contains(body, "support") {
		t.Errorf("unexpected identity payload: %s", body)
	}
}

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	w := httptest.NewRecorder()
	authRouter(testTokens(t), false).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestAuthMiddleware_MalformedHeader(t *testing.T) {
	for _, header := range []string{"Basic abc", "Bearer", "Bearer   "} {
		req := httptest.NewRequest(http.MethodGet, "/probe", nil)
		req.Header.Set("Authorization", header)
		w := httptest.NewRecorder()
		authRouter(testTokens(t), false).ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("header %q: expected 401, got %d", header, w.Code)
		}
	}
}

func TestAuthMiddleware_InvalidToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer not.a.jwt")
	w := httptest.NewRecorder()
	authRouter(testTokens(t), false).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestOptionalAuthMiddleware_Anonymous(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	w := httptest.NewRecorder()
	authRouter(testTokens(t), true).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body := w.Body.String(); !strings.Contains(body, uuid.Nil.String()) {
		t.Errorf("expected anonymous identity, got %s", body)
	}
}

func TestOptionalAuthMiddleware_ValidToken(t *testing.T) {
	tokens := testTokens(t)
	userID := uuid.New()

	token, err := tokens.Generate(userID, "admin@example.com", undo.RoleModerator)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	authRouter(tokens, true).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body := w.Body.String(); !strings.Contains(body, "moderator") {
		t.Errorf("expected moderator role, got %s", body)
	}
}
