// Package identity describes the acting user a request runs as.
package identity

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidUser = errors.New("invalid user identity")

// Role constants carried in session tokens.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is the resolved acting user of a request.
type User struct {
	ID       string   `json:"_id"`
	TenantID string   `json:"tenantId"`
	Email    string   `json:"email,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

// HasRole reports whether the user carries role (case-insensitive).
func (u User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if strings.EqualFold(strings.TrimSpace(r), role) {
			return true
		}
	}
	return false
}

// Validate enforces a conservative ID charset so ids can be embedded in resource strings.
func (u User) Validate() error {
	if err := validateID("user id", u.ID); err != nil {
		return err
	}
	if u.TenantID == "" {
		return nil
	}
	return validateID("tenant id", u.TenantID)
}

func validateID(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%w: %s required", ErrInvalidUser, kind)
	}
	for _, r := range id {
		if r != '-' && r != '_' && (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return fmt.Errorf("%w: invalid %s", ErrInvalidUser, kind)
		}
	}
	return nil
}
