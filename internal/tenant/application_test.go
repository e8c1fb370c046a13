package tenant

import (
	"context"
	"errors"
	"testing"
)

func newTestService(t *testing.T) (*Service, *InMemory) {
	t.Helper()
	store := NewInMemory()
	svc, err := NewService(store, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, store
}

func TestSubmitValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Submit(ctx, SubmitInput{ContactEmail: "a@b.com"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing name: got %v, want ErrInvalidInput", err)
	}
	if _, err := svc.Submit(ctx, SubmitInput{TenantName: "Acme", ContactEmail: "nope"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad email: got %v, want ErrInvalidInput", err)
	}

	app, err := svc.Submit(ctx, SubmitInput{TenantName: "Acme", ContactEmail: "Ops@Acme.COM", SubmittedBy: "u1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if app.Status != StatusPending {
		t.Fatalf("status = %q, want pending", app.Status)
	}
	if app.ContactEmail != "ops@acme.com" {
		t.Fatalf("email not normalized: %q", app.ContactEmail)
	}
}

func TestApproveAndRejectTransitions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	app, err := svc.Submit(ctx, SubmitInput{TenantName: "Acme", ContactEmail: "ops@acme.com", SubmittedBy: "u1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	approved, err := svc.Approve(ctx, app.ID, "admin-1")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != StatusApproved || approved.ReviewedBy != "admin-1" || approved.ReviewedAt == nil {
		t.Fatalf("unexpected application: %+v", approved)
	}

	// Terminal states accept no further review.
	if _, err := svc.Reject(ctx, app.ID, "admin-2"); !errors.Is(err, ErrBadStatus) {
		t.Fatalf("reject approved: got %v, want ErrBadStatus", err)
	}
	if _, err := svc.Approve(ctx, app.ID, "admin-2"); !errors.Is(err, ErrBadStatus) {
		t.Fatalf("re-approve: got %v, want ErrBadStatus", err)
	}
}

func TestListFilters(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a, _ := svc.Submit(ctx, SubmitInput{TenantName: "Acme", ContactEmail: "a@acme.com", SubmittedBy: "u1"})
	svc.Submit(ctx, SubmitInput{TenantName: "Globex", ContactEmail: "g@globex.com", SubmittedBy: "u2"})
	if _, err := svc.Reject(ctx, a.ID, "admin-1"); err != nil {
		t.Fatalf("reject: %v", err)
	}

	pending, err := svc.List(ctx, Filter{Status: StatusPending})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 1 || pending[0].TenantName != "Globex" {
		t.Fatalf("pending = %+v, want just Globex", pending)
	}

	mine, err := svc.List(ctx, Filter{SubmittedBy: "u1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != a.ID {
		t.Fatalf("by submitter = %+v, want just %s", mine, a.ID)
	}
}

func TestStatusTransitionTable(t *testing.T) {
	cases := []struct {
		from, to string
		ok       bool
	}{
		{StatusDraft, StatusPending, true},
		{StatusPending, StatusReview, true},
		{StatusPending, StatusApproved, true},
		{StatusPending, StatusRejected, true},
		{StatusReview, StatusApproved, true},
		{StatusReview, StatusRejected, true},
		{StatusApproved, StatusRejected, false},
		{StatusRejected, StatusApproved, false},
		{StatusDraft, StatusApproved, false},
		{StatusApproved, StatusPending, false},
	}
	for _, tc := range cases {
		if got := canTransition(tc.from, tc.to); got != tc.ok {
			t.Errorf("canTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}
