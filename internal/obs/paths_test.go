package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                "/",
		"/metrics":                        "/metrics",
		"/v1/auth/login":                  "/v1/auth/login",
		"/v1/roles/01ABCDEF":              "/v1/roles/:id",
		"/v1/roles/01ABCDEF/permissions":  "/v1/roles/:id/permissions",
		"/v1/permissions/01ABCDEF":        "/v1/permissions/:id",
		"/v1/applications/01AB/approve":   "/v1/applications/:id/approve",
		"/v1/applications/01AB/reject":    "/v1/applications/:id/reject",
		"/v1/applications/01AB/other":     "/v1/applications/01AB/other",
		"/v1/applications?status=pending": "/v1/applications",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
