package auth

import "context"

type ctxKey int

const principalKey ctxKey = iota

// ContextWithPrincipal returns a copy of ctx carrying p. The principal is
// stored by value so handlers cannot alter what later middleware sees.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the principal set by the authentication
// middleware. ok is false for unauthenticated requests.
func PrincipalFromContext(ctx context.Context) (p Principal, ok bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok = ctx.Value(principalKey).(Principal)
	return p, ok
}
