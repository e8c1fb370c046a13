package auth

import (
	"fmt"
	"path"
	"strings"
)

// RequestMeta is the request-context accessor handed to guards and audit
// entries: who called, from where, and any attributes condition matchers
// may inspect.
type RequestMeta struct {
	IP         string
	UserAgent  string
	Path       string
	Method     string
	Attributes map[string]string
}

// ConditionContext flattens the metadata into the key space condition
// matchers operate on.
func (m RequestMeta) ConditionContext() map[string]string {
	ctx := map[string]string{
		"ip":     m.IP,
		"path":   m.Path,
		"method": m.Method,
	}
	for k, v := range m.Attributes {
		ctx[k] = v
	}
	return ctx
}

// Decision is the outcome of a guard check.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Guard decides whether an authenticated request may proceed. Guards are
// composed into explicit pipelines by the HTTP layer; both the role gate
// and the permission gate must hold for a guarded route.
type Guard interface {
	Check(actx *AuthContext, req RequestMeta) Decision
}

// RoleGuard allows a request when the principal's role is in the allow
// list. Pure set membership; no inheritance between tiers.
type RoleGuard struct {
	allowed map[Role]struct{}
}

// AllowRoles builds a RoleGuard over the given tiers.
func AllowRoles(roles ...Role) RoleGuard {
	set := make(map[Role]struct{}, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return RoleGuard{allowed: set}
}

func (g RoleGuard) Check(actx *AuthContext, _ RequestMeta) Decision {
	if actx == nil {
		return deny("not authenticated")
	}
	if _, ok := g.allowed[actx.Principal.Role]; !ok {
		return deny(fmt.Sprintf("role %s is not allowed", actx.Principal.Role))
	}
	return allow()
}

// PermissionGuard allows a request when at least one of the principal's
// resolved permissions covers {resource, action} and all its declared
// conditions match the request context.
type PermissionGuard struct {
	Resource string
	Action   Action
}

// RequirePermission builds a PermissionGuard.
func RequirePermission(resource string, action Action) PermissionGuard {
	return PermissionGuard{Resource: resource, Action: action}
}

func (g PermissionGuard) Check(actx *AuthContext, req RequestMeta) Decision {
	if actx == nil {
		return deny("not authenticated")
	}
	condCtx := req.ConditionContext()
	for _, perm := range actx.Permissions {
		if perm.Allows(g.Resource, g.Action, condCtx) {
			return allow()
		}
	}
	return deny(fmt.Sprintf("no permission grants %s on %s", g.Action, g.Resource))
}

// Allows reports whether this permission covers the resource/action pair
// under the given request context. Inactive permissions never match.
func (p Permission) Allows(resource string, action Action, condCtx map[string]string) bool {
	if p.Status != "" && p.Status != StatusActive {
		return false
	}
	if p.Resource != ResourceAll && p.Resource != resource {
		return false
	}
	if !p.hasAction(action) {
		return false
	}
	return p.conditionsMatch(condCtx)
}

func (p Permission) hasAction(action Action) bool {
	for _, a := range p.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// conditionsMatch requires every declared condition to hold. A condition
// value is an exact string, a glob pattern, or a list of acceptable values.
func (p Permission) conditionsMatch(condCtx map[string]string) bool {
	for key, want := range p.Conditions {
		got, ok := condCtx[key]
		if !ok || got == "" {
			return false
		}
		if !matchCondition(want, got) {
			return false
		}
	}
	return true
}

func matchCondition(want any, got string) bool {
	switch w := want.(type) {
	case string:
		if strings.ContainsAny(w, "*?[") {
			ok, err := path.Match(w, got)
			return err == nil && ok
		}
		return w == got
	case []string:
		for _, candidate := range w {
			if candidate == got {
				return true
			}
		}
		return false
	case []any:
		for _, candidate := range w {
			if s, ok := candidate.(string); ok && s == got {
				return true
			}
		}
		return false
	default:
		return false
	}
}
