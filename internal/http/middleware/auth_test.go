// README: Tests for Firebase auth middleware and restaurant access checks.
package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"kottu/internal/http/middleware"
	"kottu/internal/infra"
)

// stubVerifier is a test double for infra.TokenVerifier.
type stubVerifier struct {
	token *infra.StaffToken
	err   error
}

func (s *stubVerifier) VerifyIDToken(_ context.Context, _ string) (*infra.StaffToken, error) {
	return s.token, s.err
}

func staff(uid, tenant, role string) *stubVerifier {
	claims := map[string]interface{}{}
	if tenant != "" {
		claims["restaurant_id"] = tenant
	}
	if role != "" {
		claims["role"] = role
	}
	return &stubVerifier{token: &infra.StaffToken{UID: uid, Claims: claims}}
}

func newTestRouter(verifier infra.TokenVerifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Auth(verifier))
	r.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"uid":    middleware.CallerUID(c),
			"role":   middleware.CallerRole(c),
			"tenant": middleware.CallerTenant(c),
		})
	})
	r.GET("/restaurants/:restaurant_id/queue", middleware.TenantAccess("restaurant_id"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	r.POST("/restaurants/:restaurant_id/promotions", middleware.TenantAccess("restaurant_id"), middleware.RequireRole("manager"), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})
	return r
}

func do(r *gin.Engine, method, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth_MissingHeader(t *testing.T) {
	w := do(newTestRouter(staff("user1", "r1", "")), http.MethodGet, "/test", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuth_InvalidBearerPrefix(t *testing.T) {
	w := do(newTestRouter(staff("user1", "r1", "")), http.MethodGet, "/test", "Token sometoken")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuth_VerifierError(t *testing.T) {
	w := do(newTestRouter(&stubVerifier{err: errors.New("bad token")}), http.MethodGet, "/test", "Bearer invalidtoken")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuth_ValidToken_ClaimsPopulated(t *testing.T) {
	w := do(newTestRouter(staff("cook123", "r1", "kitchen")), http.MethodGet, "/test", "Bearer validtoken")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{"cook123", "kitchen", "r1"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in body, got %s", want, body)
		}
	}
}

func TestTenantAccess(t *testing.T) {
	tests := []struct {
		name     string
		verifier *stubVerifier
		path     string
		want     int
	}{
		{"own restaurant", staff("u1", "r1", "kitchen"), "/restaurants/r1/queue", http.StatusNoContent},
		{"other restaurant", staff("u1", "r1", "kitchen"), "/restaurants/r2/queue", http.StatusForbidden},
		{"no restaurant claim", staff("u1", "", "kitchen"), "/restaurants/r1/queue", http.StatusForbidden},
		{"admin anywhere", staff("root", "", "admin"), "/restaurants/r2/queue", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(newTestRouter(tt.verifier), http.MethodGet, tt.path, "Bearer x")
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	if w := do(newTestRouter(staff("u1", "r1", "kitchen")), http.MethodPost, "/restaurants/r1/promotions", "Bearer x"); w.Code != http.StatusForbidden {
		t.Errorf("kitchen role: expected 403, got %d", w.Code)
	}
	if w := do(newTestRouter(staff("u1", "r1", "manager")), http.MethodPost, "/restaurants/r1/promotions", "Bearer x"); w.Code != http.StatusCreated {
		t.Errorf("manager role: expected 201, got %d", w.Code)
	}
}
