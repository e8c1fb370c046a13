package auth

import "context"

// AuthContext is the per-request resolution result: the authenticated
// principal plus the permissions resolved for its role. It is built once
// by the authentication middleware and threaded explicitly through the
// request; handlers never reach into ambient session state.
type AuthContext struct {
	Principal   Principal
	Permissions []Permission

	// SessionID is set when the request was resolved from a session
	// cookie rather than a bearer token.
	SessionID string
}

// HasPermission reports whether any resolved permission covers the
// resource/action pair against an empty request context. Permissions that
// declare conditions require the full guard path.
func (a *AuthContext) HasPermission(resource string, action Action) bool {
	if a == nil {
		return false
	}
	for _, p := range a.Permissions {
		if p.Allows(resource, action, nil) {
			return true
		}
	}
	return false
}

type authContextKey struct{}

// ContextWith attaches the resolution result to the request context.
func ContextWith(ctx context.Context, actx *AuthContext) context.Context {
	if actx == nil {
		return ctx
	}
	return context.WithValue(ctx, authContextKey{}, actx)
}

// FromContext extracts the resolution result, if the request was
// authenticated.
func FromContext(ctx context.Context) (*AuthContext, bool) {
	if ctx == nil {
		return nil, false
	}
	v, ok := ctx.Value(authContextKey{}).(*AuthContext)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}
