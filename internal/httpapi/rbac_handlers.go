package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"metasaas.org/internal/audit"
	"metasaas.org/internal/auth"
)

type createRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type updateRoleRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
}

type setRolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

type createPermissionRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Resource    string         `json:"resource"`
	Actions     []auth.Action  `json:"actions"`
	Conditions  map[string]any `json:"conditions"`
}

type updatePermissionRequest struct {
	Description *string        `json:"description"`
	Resource    *string        `json:"resource"`
	Actions     []auth.Action  `json:"actions"`
	Conditions  map[string]any `json:"conditions"`
	Status      *string        `json:"status"`
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	if a.rbac == nil {
		writeError(w, r, http.StatusServiceUnavailable, "rbac service unavailable")
		return
	}
	switch r.Method {
	case http.MethodGet:
		if !a.ensureGuard(w, r, auth.RequirePermission(auth.ResourceRoles, auth.ActionRead)) {
			return
		}
		roles, err := a.rbac.ListRoles(r.Context())
		if err != nil {
			a.handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"roles": roles})

	case http.MethodPost:
		if !a.ensureGuard(w, r,
			auth.AllowRoles(auth.RoleAdmin, auth.RoleSuperadmin),
			auth.RequirePermission(auth.ResourceRoles, auth.ActionCreate),
		) {
			return
		}
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.rbac.CreateRole(r.Context(), auth.RoleRecord{
			Name:        req.Name,
			Description: req.Description,
		})
		if err != nil {
			a.handleAuthError(w, r, err)
			return
		}
		a.auditAction(r, "role.create", audit.CategoryRole, auth.ResourceRoles, role.ID)
		w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
		writeJSON(w, http.StatusCreated, role)

	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	if a.rbac == nil {
		writeError(w, r, http.StatusServiceUnavailable, "rbac service unavailable")
		return
	}
	parts := splitResource(r.URL.Path, "/v1/roles/")
	switch {
	case len(parts) == 1:
		a.handleRoleByID(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "permissions":
		a.handleRolePermissions(w, r, parts[0])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleRoleByID(w http.ResponseWriter, r *http.Request, roleID string) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensureGuard(w, r, auth.RequirePermission(auth.ResourceRoles, auth.ActionRead)) {
			return
		}
		role, err := a.rbac.GetRole(r.Context(), roleID)
		if err != nil {
			a.handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, role)

	case http.MethodPatch:
		if !a.ensureGuard(w, r,
			auth.AllowRoles(auth.RoleAdmin, auth.RoleSuperadmin),
			auth.RequirePermission(auth.ResourceRoles, auth.ActionUpdate),
		) {
			return
		}
		var req updateRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.rbac.UpdateRole(r.Context(), roleID, auth.RolePatch{
			Name:        req.Name,
			Description: req.Description,
			Status:      req.Status,
		})
		if err != nil {
			a.handleAuthError(w, r, err)
			return
		}
		a.auditAction(r, "role.update", audit.CategoryRole, auth.ResourceRoles, role.ID)
		writeJSON(w, http.StatusOK, role)

	case http.MethodDelete:
		if !a.ensureGuard(w, r,
			auth.AllowRoles(auth.RoleSuperadmin),
			auth.RequirePermission(auth.ResourceRoles, auth.ActionDelete),
		) {
			return
		}
		if err := a.rbac.DeleteRole(r.Context(), roleID); err != nil {
			a.handleAuthError(w, r, err)
			return
		}
		a.auditAction(r, "role.delete", audit.CategoryRole, auth.ResourceRoles, roleID)
		w.WriteHeader(http.StatusNoContent)

	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleRolePermissions(w http.ResponseWriter, r *http.Request, roleID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.ensureGuard(w, r,
		auth.AllowRoles(auth.RoleAdmin, auth.RoleSuperadmin),
		auth.RequirePermission(auth.ResourcePermissions, auth.ActionUpdate),
	) {
		return
	}
	var req setRolePermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.rbac.SetRolePermissions(r.Context(), roleID, req.Permissions); err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	a.auditAction(r, "role.permissions.set", audit.CategoryRole, auth.ResourceRoles, roleID)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if a.rbac == nil {
		writeError(w, r, http.StatusServiceUnavailable, "rbac service unavailable")
		return
	}
	switch r.Method {
	case http.MethodGet:
		if !a.ensureGuard(w, r, auth.RequirePermission(auth.ResourcePermissions, auth.ActionRead)) {
			return
		}
		perms, err := a.rbac.ListPermissions(r.Context())
		if err != nil {
			a.handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})

	case http.MethodPost:
		if !a.ensureGuard(w, r,
			auth.AllowRoles(auth.RoleAdmin, auth.RoleSuperadmin),
			auth.RequirePermission(auth.ResourcePermissions, auth.ActionCreate),
		) {
			return
		}
		var req createPermissionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		perm, err := a.rbac.CreatePermission(r.Context(), auth.Permission{
			Name:        req.Name,
			Description: req.Description,
			Resource:    req.Resource,
			Actions:     req.Actions,
			Conditions:  req.Conditions,
		})
		if err != nil {
			a.handleAuthError(w, r, err)
			return
		}
		a.auditAction(r, "permission.create", audit.CategoryPermission, auth.ResourcePermissions, perm.ID)
		w.Header().Set("Location", fmt.Sprintf("/v1/permissions/%s", perm.ID))
		writeJSON(w, http.StatusCreated, perm)

	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handlePermissionResource(w http.ResponseWriter, r *http.Request) {
	if a.rbac == nil {
		writeError(w, r, http.StatusServiceUnavailable, "rbac service unavailable")
		return
	}
	parts := splitResource(r.URL.Path, "/v1/permissions/")
	if len(parts) != 1 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	permID := parts[0]

	switch r.Method {
	case http.MethodGet:
		if !a.ensureGuard(w, r, auth.RequirePermission(auth.ResourcePermissions, auth.ActionRead)) {
			return
		}
		perm, err := a.rbac.GetPermission(r.Context(), permID)
		if err != nil {
			a.handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, perm)

	case http.MethodPatch:
		if !a.ensureGuard(w, r,
			auth.AllowRoles(auth.RoleAdmin, auth.RoleSuperadmin),
			auth.RequirePermission(auth.ResourcePermissions, auth.ActionUpdate),
		) {
			return
		}
		var req updatePermissionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		perm, err := a.rbac.UpdatePermission(r.Context(), permID, auth.PermissionPatch{
			Description: req.Description,
			Resource:    req.Resource,
			Actions:     req.Actions,
			Conditions:  req.Conditions,
			Status:      req.Status,
		})
		if err != nil {
			a.handleAuthError(w, r, err)
			return
		}
		a.auditAction(r, "permission.update", audit.CategoryPermission, auth.ResourcePermissions, perm.ID)
		writeJSON(w, http.StatusOK, perm)

	case http.MethodDelete:
		if !a.ensureGuard(w, r,
			auth.AllowRoles(auth.RoleSuperadmin),
			auth.RequirePermission(auth.ResourcePermissions, auth.ActionDelete),
		) {
			return
		}
		if err := a.rbac.DeletePermission(r.Context(), permID); err != nil {
			a.handleAuthError(w, r, err)
			return
		}
		a.auditAction(r, "permission.delete", audit.CategoryPermission, auth.ResourcePermissions, permID)
		w.WriteHeader(http.StatusNoContent)

	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) auditAction(r *http.Request, action, category, resource, targetID string) {
	entry := audit.Entry{
		Action:         action,
		Category:       category,
		TargetResource: resource,
		TargetID:       targetID,
		Metadata:       map[string]string{"ip": clientIP(r)},
	}
	if actx, ok := auth.FromContext(r.Context()); ok {
		entry.PrincipalID = actx.Principal.ID
	}
	a.audit(r.Context(), entry)
}

func splitResource(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}
