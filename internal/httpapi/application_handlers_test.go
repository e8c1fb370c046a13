package httpapi

import (
	"net/http"
	"net/url"
	"testing"

	"metasaas.org/internal/auth"
	"metasaas.org/internal/tenant"
)

func submitApplication(t *testing.T, api *apiClient, headers map[string]string, name string) tenant.Application {
	t.Helper()
	resp := api.post("/v1/applications", map[string]any{
		"tenant_name":   name,
		"contact_email": "ops@" + name + ".example.com",
	}, headers)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit %s: expected 201, got %d", name, resp.StatusCode)
	}
	return decode[tenant.Application](t, resp)
}

func TestApplicationSubmitAndGet(t *testing.T) {
	api := newTestAPI(t)
	api.seedUser("Ten", "ten@example.com", "tenant password 123", auth.RoleTenant)
	headers := api.bearer("ten@example.com", "tenant password 123")

	app := submitApplication(t, api, headers, "acme")
	if app.Status != tenant.StatusPending {
		t.Fatalf("status = %q, want pending", app.Status)
	}
	if app.SubmittedBy == "" {
		t.Fatalf("submitted_by not stamped from the caller")
	}

	got := api.get("/v1/applications/"+app.ID, nil, headers)
	fetched := decode[tenant.Application](t, got)
	if fetched.ID != app.ID {
		t.Fatalf("fetched id = %q", fetched.ID)
	}
}

func TestApplicationListScopedToTenant(t *testing.T) {
	api := newTestAPI(t)
	api.seedUser("One", "one@example.com", "tenant password 123", auth.RoleTenant)
	api.seedUser("Two", "two@example.com", "tenant password 123", auth.RoleTenant)

	oneHeaders := api.bearer("one@example.com", "tenant password 123")
	twoHeaders := api.bearer("two@example.com", "tenant password 123")

	submitApplication(t, api, oneHeaders, "acme")
	submitApplication(t, api, twoHeaders, "globex")

	resp := api.get("/v1/applications", nil, oneHeaders)
	payload := decode[struct {
		Applications []tenant.Application `json:"applications"`
	}](t, resp)
	if len(payload.Applications) != 1 {
		t.Fatalf("tenant sees %d applications, want own 1", len(payload.Applications))
	}
	if payload.Applications[0].TenantName != "acme" {
		t.Fatalf("tenant sees %q", payload.Applications[0].TenantName)
	}

	// A tenant cannot read another tenant's application even by id.
	other := api.get("/v1/applications/"+payload.Applications[0].ID, nil, twoHeaders)
	other.Body.Close()
	if other.StatusCode != http.StatusNotFound {
		t.Fatalf("cross-tenant get: expected 404, got %d", other.StatusCode)
	}

	// A caller whose permissions include updating applications is not
	// scoped to their own submissions.
	api.seedUser("Ops", "ops@example.com", "admin password 123", auth.RoleAdmin)
	resp = api.get("/v1/applications", nil, api.bearer("ops@example.com", "admin password 123"))
	all := decode[struct {
		Applications []tenant.Application `json:"applications"`
	}](t, resp)
	if len(all.Applications) != 2 {
		t.Fatalf("admin sees %d applications, want 2", len(all.Applications))
	}
}

func TestApplicationReviewFlow(t *testing.T) {
	api := newTestAPI(t)
	api.seedUser("Ten", "ten@example.com", "tenant password 123", auth.RoleTenant)
	api.seedUser("Ops", "ops@example.com", "admin password 123", auth.RoleAdmin)

	tenantHeaders := api.bearer("ten@example.com", "tenant password 123")
	adminHeaders := api.bearer("ops@example.com", "admin password 123")

	app := submitApplication(t, api, tenantHeaders, "acme")

	// The submitting tenant cannot review.
	denied := api.post("/v1/applications/"+app.ID+"/approve", nil, tenantHeaders)
	denied.Body.Close()
	if denied.StatusCode != http.StatusForbidden {
		t.Fatalf("tenant approve: expected 403, got %d", denied.StatusCode)
	}

	approved := api.post("/v1/applications/"+app.ID+"/approve", nil, adminHeaders)
	if approved.StatusCode != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d", approved.StatusCode)
	}
	reviewed := decode[tenant.Application](t, approved)
	if reviewed.Status != tenant.StatusApproved {
		t.Fatalf("status = %q, want approved", reviewed.Status)
	}
	if reviewed.ReviewedBy == "" || reviewed.ReviewedAt == nil {
		t.Fatalf("review stamp missing: %+v", reviewed)
	}

	// Terminal states accept no further review.
	again := api.post("/v1/applications/"+app.ID+"/reject", nil, adminHeaders)
	again.Body.Close()
	if again.StatusCode != http.StatusConflict {
		t.Fatalf("reject after approve: expected 409, got %d", again.StatusCode)
	}
}

func TestApplicationListFilters(t *testing.T) {
	api := newTestAPI(t)
	api.seedUser("Ten", "ten@example.com", "tenant password 123", auth.RoleTenant)
	api.seedUser("Ops", "ops@example.com", "admin password 123", auth.RoleAdmin)

	tenantHeaders := api.bearer("ten@example.com", "tenant password 123")
	adminHeaders := api.bearer("ops@example.com", "admin password 123")

	first := submitApplication(t, api, tenantHeaders, "acme")
	submitApplication(t, api, tenantHeaders, "globex")

	resp := api.post("/v1/applications/"+first.ID+"/approve", nil, adminHeaders)
	resp.Body.Close()

	list := api.get("/v1/applications", url.Values{"status": {tenant.StatusPending}}, adminHeaders)
	payload := decode[struct {
		Applications []tenant.Application `json:"applications"`
	}](t, list)
	if len(payload.Applications) != 1 || payload.Applications[0].TenantName != "globex" {
		t.Fatalf("pending filter returned %+v", payload.Applications)
	}

	bad := api.get("/v1/applications", url.Values{"limit": {"nope"}}, adminHeaders)
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit: expected 400, got %d", bad.StatusCode)
	}
}
