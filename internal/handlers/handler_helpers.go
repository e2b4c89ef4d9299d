package handlers

import (
	"github.com/labstack/echo/v4"

	"github.com/icf-orlp-cals-open/adapt-authoring/internal/auth"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/identity"
)

// requireUser extracts the acting user from the request context.
func requireUser(c echo.Context) (identity.User, error) {
	return auth.UserFromContext(c)
}
