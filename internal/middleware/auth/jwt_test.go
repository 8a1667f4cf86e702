package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

func signedToken(t *testing.T, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"email": "owner@cantina.example",
		"role":  "owner",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func runMiddleware(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, *AuthUser) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var captured *AuthUser
	handler := JWTMiddleware(JWTConfig{Secret: testSecret, Logger: zap.NewNop()})(func(c echo.Context) error {
		user, err := GetUserFromContext(c)
		require.NoError(t, err)
		captured = user
		return c.NoContent(http.StatusOK)
	})

	require.NoError(t, handler(c))
	return rec, captured
}

func TestJWTMiddleware(t *testing.T) {
	tenantID := uuid.New()

	t.Run("valid token and tenant header pass through", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/current", nil)
		req.Header.Set("Authorization", "Bearer "+signedToken(t, testSecret))
		req.Header.Set("X-Tenant-Id", tenantID.String())

		rec, user := runMiddleware(t, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, user)
		assert.Equal(t, tenantID, user.TenantID)
		assert.Equal(t, "owner@cantina.example", user.Email)
	})

	t.Run("missing authorization header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/current", nil)
		req.Header.Set("X-Tenant-Id", tenantID.String())

		rec, user := runMiddleware(t, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Nil(t, user)
	})

	t.Run("token signed with the wrong secret", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/current", nil)
		req.Header.Set("Authorization", "Bearer "+signedToken(t, "other-secret"))
		req.Header.Set("X-Tenant-Id", tenantID.String())

		rec, _ := runMiddleware(t, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing tenant header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/current", nil)
		req.Header.Set("Authorization", "Bearer "+signedToken(t, testSecret))

		rec, _ := runMiddleware(t, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("tenant header must be a uuid", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/current", nil)
		req.Header.Set("Authorization", "Bearer "+signedToken(t, testSecret))
		req.Header.Set("X-Tenant-Id", "restaurant-42")

		rec, _ := runMiddleware(t, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("skip paths bypass validation", func(t *testing.T) {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		handler := JWTMiddleware(JWTConfig{
			Secret:    testSecret,
			Logger:    zap.NewNop(),
			SkipPaths: []string{"/health"},
		})(func(c echo.Context) error {
			return c.NoContent(http.StatusOK)
		})

		require.NoError(t, handler(c))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
