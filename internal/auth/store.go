package auth

import "context"

// OrgFilter restricts ListOrganizations. An empty ID lists every organization.
type OrgFilter struct {
	ID string
}

// Directory describes persistence operations required by the auth subsystem.
// Implementations must enforce uniqueness of organization ids and usernames
// atomically and report violations as ErrConflict.
type Directory interface {
	GetUser(ctx context.Context, username string) (*User, error)
	CreateUser(ctx context.Context, u *User) error
	DeleteUser(ctx context.Context, username string) error
	ListUsers(ctx context.Context, orgID string) ([]*User, error)

	GetOrganization(ctx context.Context, orgID string) (*Organization, error)
	CreateOrganization(ctx context.Context, org *Organization) error
	ListOrganizations(ctx context.Context, filter OrgFilter) ([]*Organization, error)
}
