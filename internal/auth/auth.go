package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultIssuer    = "tenantauth"
	DefaultTokenTTL  = time.Hour
	DefaultAlgorithm = "HS256"
	tokenTypeBearer  = "bearer"
)

// Claims represents JWT claims carried by a session token. OrgID is nil for
// admins without an organization so it serializes as JSON null.
type Claims struct {
	Role  string  `json:"role"`
	OrgID *string `json:"org_id"`
	jwt.RegisteredClaims
}

// Org returns the organization claim or an empty string.
func (c *Claims) Org() string {
	if c == nil || c.OrgID == nil {
		return ""
	}
	return *c.OrgID
}

// Token is a signed credential together with its validity window.
type Token struct {
	Value     string
	Type      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IssuerConfig holds signing parameters. It is built from the process
// configuration at startup and never read from the environment.
type IssuerConfig struct {
	Secret    string
	Algorithm string
	TTL       time.Duration
	Issuer    string
}

// Issuer signs and verifies session tokens.
type Issuer struct {
	secret []byte
	method jwt.SigningMethod
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// IssuerOption configures Issuer behavior.
type IssuerOption func(*Issuer)

// WithIssuerClock overrides the time source (useful for tests).
func WithIssuerClock(fn func() time.Time) IssuerOption {
	return func(i *Issuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// NewIssuer validates cfg and constructs an Issuer.
func NewIssuer(cfg IssuerConfig, opts ...IssuerOption) (*Issuer, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errMissingSecret
	}
	method, err := signingMethod(cfg.Algorithm)
	if err != nil {
		return nil, err
	}
	i := &Issuer{
		secret: []byte(cfg.Secret),
		method: method,
		ttl:    cfg.TTL,
		issuer: strings.TrimSpace(cfg.Issuer),
		now:    time.Now,
	}
	if i.ttl <= 0 {
		i.ttl = DefaultTokenTTL
	}
	if i.issuer == "" {
		i.issuer = DefaultIssuer
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

func signingMethod(alg string) (jwt.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwt.SigningMethodHS256, nil
	case "HS384":
		return jwt.SigningMethodHS384, nil
	case "HS512":
		return jwt.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("auth: unsupported signing algorithm %q", alg)
	}
}

// TTL returns the default token lifetime.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue signs a token for p. A non-positive ttl uses the configured default.
func (i *Issuer) Issue(p Principal, ttl time.Duration) (Token, error) {
	if err := p.Validate(); err != nil {
		return Token{}, err
	}
	if ttl <= 0 {
		ttl = i.ttl
	}
	iat := i.now().UTC().Truncate(time.Second)
	exp := iat.Add(ttl).Truncate(time.Second)

	claims := Claims{
		Role: p.Role.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   p.Username,
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	if p.OrgID != "" {
		org := p.OrgID
		claims.OrgID = &org
	}

	signed, err := jwt.NewWithClaims(i.method, claims).SignedString(i.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{Value: signed, Type: tokenTypeBearer, IssuedAt: iat, ExpiresAt: exp}, nil
}

// Verify checks the signature first and then the claims. Any failure wraps
// ErrInvalidCredential together with one of ErrTokenExpired,
// ErrMissingSubject or ErrMalformedToken. For expired tokens the returned
// claims are non-nil; their signature was verified before expiry was checked.
func (i *Issuer) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredential, ErrMalformedToken)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{i.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.now),
	)
	claims := &Claims{}
	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return claims, fmt.Errorf("%w: %w", ErrInvalidCredential, ErrTokenExpired)
	default:
		return nil, fmt.Errorf("%w: %w: %v", ErrInvalidCredential, ErrMalformedToken, err)
	}

	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredential, ErrMissingSubject)
	}
	if _, err := ParseRole(claims.Role); err != nil {
		return nil, fmt.Errorf("%w: %w: %v", ErrInvalidCredential, ErrMalformedToken, err)
	}
	return claims, nil
}
