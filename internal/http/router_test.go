package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"kottu/internal/infra"
)

type denyVerifier struct{}

func (denyVerifier) VerifyIDToken(context.Context, string) (*infra.StaffToken, error) {
	return nil, nil
}

func testRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(RouterDeps{
		Verifier:      denyVerifier{},
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		ValidateRPS:   1,
		ValidateBurst: 1,
	})
}

func TestHealth(t *testing.T) {
	w := httptest.NewRecorder()
	testRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestStaffRoutesRequireAuth(t *testing.T) {
	r := testRouter()
	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/restaurants/r1/orders/o1/advance"},
		{http.MethodPatch, "/api/restaurants/r1/orders/o1"},
		{http.MethodGet, "/api/restaurants/r1/kitchen/queue"},
		{http.MethodGet, "/api/restaurants/r1/live/kitchen"},
		{http.MethodGet, "/api/restaurants/r1/promotions"},
		{http.MethodPost, "/api/restaurants/r1/promotions/p1/activate"},
		{http.MethodGet, "/api/platform/live/metrics"},
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code, tc.path)
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"), tc.path)
	}
}

func TestCheckoutChecksAreRateLimited(t *testing.T) {
	r := testRouter()
	// The first request spends the burst; its handler rejects the empty body.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/restaurants/r1/checkout/validate-code", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/restaurants/r1/checkout/validate-code", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
