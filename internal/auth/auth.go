// Package auth resolves the acting user from bearer JWTs.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"

	"github.com/icf-orlp-cals-open/adapt-authoring/internal/identity"
)

const contextKey = "user"

var ErrNoUser = errors.New("no authenticated user")

// Claims is the session token payload. Subject carries the user id.
type Claims struct {
	TenantID string   `json:"tenant_id,omitempty"`
	Email    string   `json:"email,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// JWTMiddleware validates HS256 bearer tokens; requests for which skipper returns true pass through.
func JWTMiddleware(secret string, skipper func(c echo.Context) bool) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		SigningKey:    []byte(secret),
		SigningMethod: jwt.SigningMethodHS256.Alg(),
		ContextKey:    contextKey,
		NewClaimsFunc: func(echo.Context) jwt.Claims {
			return new(Claims)
		},
		Skipper: func(c echo.Context) bool {
			if skipper == nil {
				return false
			}
			return skipper(c)
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing token")
		},
	})
}

// UserFromContext returns the acting user of an authenticated request.
func UserFromContext(c echo.Context) (identity.User, error) {
	token, ok := c.Get(contextKey).(*jwt.Token)
	if !ok || token == nil {
		return identity.User{}, echo.NewHTTPError(http.StatusUnauthorized, ErrNoUser.Error())
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return identity.User{}, echo.NewHTTPError(http.StatusUnauthorized, "unexpected token claims")
	}
	user := identity.User{
		ID:       strings.TrimSpace(claims.Subject),
		TenantID: strings.TrimSpace(claims.TenantID),
		Email:    claims.Email,
		Roles:    claims.Roles,
	}
	if err := user.Validate(); err != nil {
		return identity.User{}, echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	return user, nil
}

// GenerateToken issues a signed session token for user.
func GenerateToken(secret string, user identity.User, expiresIn time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(secret) == "" {
		return "", time.Time{}, fmt.Errorf("jwt secret is required")
	}
	if err := user.Validate(); err != nil {
		return "", time.Time{}, err
	}
	now := time.Now()
	expiresAt := now.Add(expiresIn)
	claims := Claims{
		TenantID: user.TenantID,
		Email:    user.Email,
		Roles:    user.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}
