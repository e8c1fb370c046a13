package httpapi

import (
	"net/http"
	"strconv"

	"metasaas.org/internal/audit"
	"metasaas.org/internal/auth"
)

func (a *API) handleAuditList(w http.ResponseWriter, r *http.Request) {
	if a.auditLog == nil {
		writeError(w, r, http.StatusServiceUnavailable, "audit store unavailable")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensureGuard(w, r,
		auth.AllowRoles(auth.RoleAdmin, auth.RoleSuperadmin),
		auth.RequirePermission(auth.ResourceLogs, auth.ActionRead),
	) {
		return
	}

	f := audit.Filter{
		PrincipalID: r.URL.Query().Get("principal_id"),
		Category:    r.URL.Query().Get("category"),
		Status:      r.URL.Query().Get("status"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}

	entries, err := a.auditLog.List(r.Context(), f)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to read audit log")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
