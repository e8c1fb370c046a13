package httpapi

import (
	"context"
	"net/http"

	"metasaas.org/internal/audit"
	"metasaas.org/internal/auth"
	"metasaas.org/internal/obs"
)

// ensureGuard runs a guard pipeline against the request and answers 401
// or 403 itself when any guard denies. Every denial is audited; allowed
// requests are audited by the handlers that act on them.
func (a *API) ensureGuard(w http.ResponseWriter, r *http.Request, guards ...auth.Guard) bool {
	actx, _ := auth.FromContext(r.Context())
	meta := requestMeta(r)
	for _, g := range guards {
		decision := g.Check(actx, meta)
		if decision.Allowed {
			continue
		}
		obs.IncAuthzDenial()
		entry := audit.Entry{
			Action:         "authz.deny",
			Category:       audit.CategoryAuth,
			Severity:       audit.SeverityWarning,
			Status:         audit.StatusFailed,
			TargetResource: r.URL.Path,
			Metadata: map[string]string{
				"method": r.Method,
				"reason": decision.Reason,
				"ip":     meta.IP,
			},
		}
		if actx != nil {
			entry.PrincipalID = actx.Principal.ID
		}
		a.audit(r.Context(), entry)

		if actx == nil {
			writeError(w, r, http.StatusUnauthorized, "authentication required")
		} else {
			writeError(w, r, http.StatusForbidden, decision.Reason)
		}
		return false
	}
	return true
}

func (a *API) audit(ctx context.Context, entry audit.Entry) {
	if a.recorder == nil {
		return
	}
	a.recorder.Record(ctx, entry)
}
