package auth

import (
	"fmt"
	"regexp"
	"time"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

// ValidIdentifier reports whether s may be used as an organization id or username.
func ValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// Organization is a tenant. Its ID never changes after creation.
type Organization struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// User is an account scoped to at most one organization.
type User struct {
	Username     string
	PasswordHash string
	Role         Role
	OrgID        string
	CreatedAt    time.Time
}

// Principal is the authenticated identity attached to a single request.
type Principal struct {
	Username string
	Role     Role
	OrgID    string
}

// PrincipalFromUser derives a principal from the current directory record.
func PrincipalFromUser(u *User) Principal {
	return Principal{Username: u.Username, Role: u.Role, OrgID: u.OrgID}
}

// Validate checks that only admins exist outside an organization.
func (p Principal) Validate() error {
	if p.Username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if !p.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidInput, p.Role)
	}
	if p.OrgID == "" && p.Role != RoleAdmin {
		return fmt.Errorf("%w: %v", ErrInvalidInput, errInvalidPrincipal)
	}
	return nil
}

// IsAdmin reports whether the principal holds the global admin role.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }
