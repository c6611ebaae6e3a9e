package auth

import "errors"

var (
	// ErrInvalidCredential indicates a bearer token failed verification or
	// names a user that no longer exists.
	ErrInvalidCredential = errors.New("auth: invalid credential")
	// ErrAuthFailure indicates a username/password pair did not match.
	ErrAuthFailure = errors.New("auth: authentication failed")
	// ErrPermissionDenied indicates the principal lacks the required role or org scope.
	ErrPermissionDenied = errors.New("auth: permission denied")
	ErrConflict         = errors.New("auth: already exists")
	ErrNotFound         = errors.New("auth: not found")
	ErrInvalidInput     = errors.New("auth: invalid input")
)

// Verification causes. They are always wrapped together with ErrInvalidCredential.
var (
	ErrTokenExpired     = errors.New("token expired")
	ErrMissingSubject   = errors.New("token subject missing")
	ErrMalformedToken   = errors.New("token malformed or signature invalid")
	errMissingSecret    = errors.New("auth: signing secret is not configured")
	errInvalidPrincipal = errors.New("principal without organization must be admin")
)
