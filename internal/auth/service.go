package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tenantauth.org/internal/audit"
)

// Login attempt outcomes reported to the LoginObserver.
const (
	LoginSucceeded = "success"
	LoginFailed    = "failed"
)

// LoginObserver is notified of every login or token authentication outcome.
type LoginObserver func(status string, role Role)

// Service combines token handling, password checks and directory operations
// behind role checks.
type Service struct {
	dir      Directory
	issuer   *Issuer
	hasher   PasswordHasher
	recorder *audit.Recorder
	logger   logrus.FieldLogger
	observe  LoginObserver
	now      func() time.Time

	// dummyHash is compared against when the username is unknown so the
	// response time does not reveal whether the account exists.
	dummyOnce sync.Once
	dummyHash string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithHasher overrides the password hasher.
func WithHasher(h PasswordHasher) ServiceOption {
	return func(s *Service) error {
		if h == nil {
			return errors.New("auth: hasher is nil")
		}
		s.hasher = h
		return nil
	}
}

// WithAuditRecorder sets the recorder receiving authentication events.
func WithAuditRecorder(r *audit.Recorder) ServiceOption {
	return func(s *Service) error {
		s.recorder = r
		return nil
	}
}

// WithLogger sets the service logger.
func WithLogger(l logrus.FieldLogger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.logger = l
		}
		return nil
	}
}

// WithLoginObserver registers a callback for login outcomes.
func WithLoginObserver(fn LoginObserver) ServiceOption {
	return func(s *Service) error {
		s.observe = fn
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(dir Directory, issuer *Issuer, opts ...ServiceOption) (*Service, error) {
	if dir == nil {
		return nil, errors.New("auth: directory is nil")
	}
	if issuer == nil {
		return nil, errors.New("auth: issuer is nil")
	}
	svc := &Service{
		dir:    dir,
		issuer: issuer,
		hasher: NewBcryptHasher(0),
		logger: logrus.StandardLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if svc.recorder == nil {
		svc.recorder = audit.NewRecorder(nil, svc.logger)
	}
	return svc, nil
}

// Issuer returns the token issuer used by the service.
func (s *Service) Issuer() *Issuer { return s.issuer }

// Hasher returns the password hasher used by the service.
func (s *Service) Hasher() PasswordHasher { return s.hasher }

func (s *Service) unknownUserHash() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash("tenantauth-unknown-user")
		if err != nil {
			s.logger.WithError(err).Warn("dummy password hash unavailable")
			return
		}
		s.dummyHash = h
	})
	return s.dummyHash
}

func (s *Service) observeLogin(status string, role Role) {
	if s.observe != nil {
		s.observe(status, role)
	}
}

// AuthenticateLogin checks a username/password pair. Both an unknown user and
// a wrong password yield ErrAuthFailure; only the audit detail differs.
func (s *Service) AuthenticateLogin(ctx context.Context, username, password string) (Principal, error) {
	username = strings.TrimSpace(username)
	user, err := s.dir.GetUser(ctx, username)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return Principal{}, err
		}
		_ = s.hasher.Verify(s.unknownUserHash(), password)
		s.recorder.Record(ctx, username, audit.EventLoginFailure, "unknown user")
		s.observeLogin(LoginFailed, "")
		return Principal{}, ErrAuthFailure
	}
	if err := s.hasher.Verify(user.PasswordHash, password); err != nil {
		s.recorder.Record(ctx, username, audit.EventLoginFailure, "incorrect password")
		s.observeLogin(LoginFailed, "")
		return Principal{}, ErrAuthFailure
	}
	s.recorder.Record(ctx, username, audit.EventLoginSuccess, "")
	s.observeLogin(LoginSucceeded, user.Role)
	return PrincipalFromUser(user), nil
}

// Login authenticates the pair and issues a token with the default lifetime.
func (s *Service) Login(ctx context.Context, username, password string) (Principal, Token, error) {
	p, err := s.AuthenticateLogin(ctx, username, password)
	if err != nil {
		return Principal{}, Token{}, err
	}
	tok, err := s.issuer.Issue(p, 0)
	if err != nil {
		return Principal{}, Token{}, fmt.Errorf("issue token: %w", err)
	}
	return p, tok, nil
}

// Authenticate verifies a bearer token and resolves the principal from the
// current directory record, so role or organization changes take effect on
// the next request. Every failure writes exactly one audit event.
func (s *Service) Authenticate(ctx context.Context, token string) (Principal, error) {
	claims, err := s.issuer.Verify(token)
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenExpired):
			s.recorder.Record(ctx, claims.Subject, audit.EventTokenExpire, "Invalid Token")
		case errors.Is(err, ErrMissingSubject):
			s.recorder.Record(ctx, "", audit.EventLoginFailure, "Invalid username")
		default:
			s.recorder.Record(ctx, "", audit.EventTokenInvalid, "Invalid Token")
		}
		s.observeLogin(LoginFailed, "")
		return Principal{}, ErrInvalidCredential
	}

	user, err := s.dir.GetUser(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.recorder.Record(ctx, claims.Subject, audit.EventLoginFailure, "Invalid username")
			s.observeLogin(LoginFailed, "")
			return Principal{}, ErrInvalidCredential
		}
		s.logger.WithError(err).WithField("username", claims.Subject).Warn("directory lookup failed during token authentication")
		return Principal{}, err
	}
	return PrincipalFromUser(user), nil
}

// CreateOrganization registers a new tenant. Only admins may call it.
func (s *Service) CreateOrganization(ctx context.Context, actor Principal, orgID, name string) (*Organization, error) {
	if !Authorize(actor, RoleAdmin) {
		return nil, ErrPermissionDenied
	}
	orgID = strings.TrimSpace(orgID)
	if !ValidIdentifier(orgID) {
		return nil, fmt.Errorf("%w: org_id must match [A-Za-z0-9_-]+", ErrInvalidInput)
	}
	org := &Organization{ID: orgID, Name: strings.TrimSpace(name), CreatedAt: s.now().UTC()}
	if err := s.dir.CreateOrganization(ctx, org); err != nil {
		return nil, err
	}
	s.recorder.Record(ctx, actor.Username, audit.EventOrgCreated, orgID)
	return org, nil
}

// ListOrganizations returns every organization for admins and only the
// caller's own organization otherwise.
func (s *Service) ListOrganizations(ctx context.Context, actor Principal) ([]*Organization, error) {
	if actor.IsAdmin() {
		return s.dir.ListOrganizations(ctx, OrgFilter{})
	}
	if actor.OrgID == "" {
		return []*Organization{}, nil
	}
	return s.dir.ListOrganizations(ctx, OrgFilter{ID: actor.OrgID})
}

// NewUser describes a user to create inside an organization.
type NewUser struct {
	Username string
	Password string
	Role     Role
}

// CreateUser adds a user to orgID. The actor must administer the organization
// and only admins may grant the admin role.
func (s *Service) CreateUser(ctx context.Context, actor Principal, orgID string, in NewUser) (*User, error) {
	if !IsOrgAdminOrSelf(actor, orgID) {
		return nil, ErrPermissionDenied
	}
	if !CanAssignRole(actor, in.Role) {
		if !in.Role.Valid() {
			return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, in.Role)
		}
		return nil, ErrPermissionDenied
	}
	username := strings.TrimSpace(in.Username)
	if !ValidIdentifier(username) {
		return nil, fmt.Errorf("%w: username must match [A-Za-z0-9_-]+", ErrInvalidInput)
	}
	if in.Password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	if _, err := s.dir.GetOrganization(ctx, orgID); err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &User{
		Username:     username,
		PasswordHash: hash,
		Role:         in.Role,
		OrgID:        orgID,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.dir.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	s.recorder.Record(ctx, actor.Username, audit.EventUserCreated, orgID+"/"+username)
	return user, nil
}

// ListUsers returns the users of orgID.
func (s *Service) ListUsers(ctx context.Context, actor Principal, orgID string) ([]*User, error) {
	if !IsOrgAdminOrSelf(actor, orgID) {
		return nil, ErrPermissionDenied
	}
	return s.dir.ListUsers(ctx, orgID)
}

// DeleteUser removes username from orgID. A user that exists in a different
// organization is reported as ErrNotFound.
func (s *Service) DeleteUser(ctx context.Context, actor Principal, orgID, username string) error {
	if !IsOrgAdminOrSelf(actor, orgID) {
		return ErrPermissionDenied
	}
	user, err := s.dir.GetUser(ctx, username)
	if err != nil {
		return err
	}
	if user.OrgID != orgID {
		return fmt.Errorf("%w: user %q is not in organization %q", ErrNotFound, username, orgID)
	}
	if err := s.dir.DeleteUser(ctx, username); err != nil {
		return err
	}
	s.recorder.Record(ctx, actor.Username, audit.EventUserDeleted, orgID+"/"+username)
	return nil
}
