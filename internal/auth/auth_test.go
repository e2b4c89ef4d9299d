package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icf-orlp-cals-open/adapt-authoring/internal/identity"
)

const secret = "test-secret"

func newEcho() *echo.Echo {
	e := echo.New()
	e.Use(JWTMiddleware(secret, func(c echo.Context) bool {
		return c.Request().URL.Path == "/ping"
	}))
	e.GET("/me", func(c echo.Context) error {
		user, err := UserFromContext(c)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, user)
	})
	e.GET("/ping", func(c echo.Context) error {
		return c.String(http.StatusOK, "pong")
	})
	return e
}

func TestTokenRoundTrip(t *testing.T) {
	token, expiresAt, err := GenerateToken(secret, identity.User{ID: "u1", TenantID: "t1", Roles: []string{"user"}}, time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	newEcho().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"_id":"u1"`)
	assert.Contains(t, rec.Body.String(), `"tenantId":"t1"`)
}

func TestMissingTokenRejected(t *testing.T) {
	rec := httptest.NewRecorder()
	newEcho().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWrongSecretRejected(t *testing.T) {
	token, _, err := GenerateToken("other-secret", identity.User{ID: "u1"}, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	newEcho().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSkipperBypassesAuth(t *testing.T) {
	rec := httptest.NewRecorder()
	newEcho().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGenerateTokenValidates(t *testing.T) {
	_, _, err := GenerateToken("", identity.User{ID: "u1"}, time.Hour)
	assert.Error(t, err)
	_, _, err = GenerateToken(secret, identity.User{}, time.Hour)
	assert.ErrorIs(t, err, identity.ErrInvalidUser)
}
