package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"metasaas.org/internal/auth"
	"metasaas.org/internal/tenant"
)

type submitApplicationRequest struct {
	TenantName   string `json:"tenant_name"`
	ContactEmail string `json:"contact_email"`
	Notes        string `json:"notes"`
}

func (a *API) handleApplications(w http.ResponseWriter, r *http.Request) {
	if a.tenants == nil {
		writeError(w, r, http.StatusServiceUnavailable, "application service unavailable")
		return
	}
	switch r.Method {
	case http.MethodGet:
		if !a.ensureGuard(w, r, auth.RequirePermission(auth.ResourceApplications, auth.ActionRead)) {
			return
		}
		actx, _ := auth.FromContext(r.Context())
		f := tenant.Filter{
			Status:      r.URL.Query().Get("status"),
			SubmittedBy: r.URL.Query().Get("submitted_by"),
		}
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, r, http.StatusBadRequest, "limit must be a non-negative integer")
				return
			}
			f.Limit = n
		}
		// Callers without update rights on applications only ever see
		// their own submissions.
		if actx != nil && !actx.HasPermission(auth.ResourceApplications, auth.ActionUpdate) {
			f.SubmittedBy = actx.Principal.ID
		}
		apps, err := a.tenants.List(r.Context(), f)
		if err != nil {
			a.handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"applications": apps})

	case http.MethodPost:
		if !a.ensureGuard(w, r, auth.RequirePermission(auth.ResourceApplications, auth.ActionCreate)) {
			return
		}
		actx, _ := auth.FromContext(r.Context())
		var req submitApplicationRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		in := tenant.SubmitInput{
			TenantName:   req.TenantName,
			ContactEmail: req.ContactEmail,
			Notes:        req.Notes,
		}
		if actx != nil {
			in.SubmittedBy = actx.Principal.ID
		}
		app, err := a.tenants.Submit(r.Context(), in)
		if err != nil {
			a.handleAuthError(w, r, err)
			return
		}
		w.Header().Set("Location", fmt.Sprintf("/v1/applications/%s", app.ID))
		writeJSON(w, http.StatusCreated, app)

	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleApplicationResource(w http.ResponseWriter, r *http.Request) {
	if a.tenants == nil {
		writeError(w, r, http.StatusServiceUnavailable, "application service unavailable")
		return
	}
	parts := splitResource(r.URL.Path, "/v1/applications/")
	switch {
	case len(parts) == 1:
		a.handleApplicationByID(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "approve":
		a.handleApplicationReview(w, r, parts[0], auth.ActionApprove)
	case len(parts) == 2 && parts[1] == "reject":
		a.handleApplicationReview(w, r, parts[0], auth.ActionReject)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleApplicationByID(w http.ResponseWriter, r *http.Request, appID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensureGuard(w, r, auth.RequirePermission(auth.ResourceApplications, auth.ActionRead)) {
		return
	}
	app, err := a.tenants.Get(r.Context(), appID)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	actx, _ := auth.FromContext(r.Context())
	if actx != nil && !actx.HasPermission(auth.ResourceApplications, auth.ActionUpdate) && app.SubmittedBy != actx.Principal.ID {
		writeError(w, r, http.StatusNotFound, "application not found")
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (a *API) handleApplicationReview(w http.ResponseWriter, r *http.Request, appID string, action auth.Action) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensureGuard(w, r,
		auth.AllowRoles(auth.RoleAdmin, auth.RoleSuperadmin),
		auth.RequirePermission(auth.ResourceApplications, action),
	) {
		return
	}
	actx, _ := auth.FromContext(r.Context())
	reviewerID := ""
	if actx != nil {
		reviewerID = actx.Principal.ID
	}

	var (
		app *tenant.Application
		err error
	)
	if action == auth.ActionApprove {
		app, err = a.tenants.Approve(r.Context(), appID, reviewerID)
	} else {
		app, err = a.tenants.Reject(r.Context(), appID, reviewerID)
	}
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}
