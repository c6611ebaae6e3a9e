// Package bootstrap provisions the initial administrator account.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tenantauth.org/internal/auth"
)

// Result describes what EnsureInitialAdmin did.
type Result int

const (
	Skipped Result = iota
	Exists
	Created
)

func (r Result) String() string {
	switch r {
	case Created:
		return "created"
	case Exists:
		return "exists"
	default:
		return "skipped"
	}
}

// EnsureInitialAdmin creates an organization-less admin named username when
// no such user exists. An empty password disables provisioning. Existing
// users are left untouched, whatever their role.
func EnsureInitialAdmin(ctx context.Context, dir auth.Directory, hasher auth.PasswordHasher, username, password string, logger logrus.FieldLogger) (Result, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	username = strings.TrimSpace(username)
	log := logger.WithField("username", username)

	if password == "" {
		log.Info("initial admin password not set; skipping bootstrap")
		return Skipped, nil
	}
	if !auth.ValidIdentifier(username) {
		return Skipped, fmt.Errorf("%w: initial admin username %q", auth.ErrInvalidInput, username)
	}

	if _, err := dir.GetUser(ctx, username); err == nil {
		log.Debug("initial admin already present")
		return Exists, nil
	} else if !errors.Is(err, auth.ErrNotFound) {
		return Skipped, fmt.Errorf("lookup initial admin: %w", err)
	}

	hash, err := hasher.Hash(password)
	if err != nil {
		return Skipped, fmt.Errorf("hash initial admin password: %w", err)
	}
	err = dir.CreateUser(ctx, &auth.User{
		Username:     username,
		PasswordHash: hash,
		Role:         auth.RoleAdmin,
		CreatedAt:    time.Now().UTC(),
	})
	switch {
	case err == nil:
		log.Info("initial admin created")
		return Created, nil
	case errors.Is(err, auth.ErrConflict):
		// another replica won the race
		return Exists, nil
	default:
		return Skipped, fmt.Errorf("create initial admin: %w", err)
	}
}
