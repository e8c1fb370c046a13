// Package tenant manages onboarding applications: the workflow a
// prospective tenant goes through before getting an account, and the
// admin review queue that approves or rejects them.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"metasaas.org/internal/audit"
)

// Application statuses. Submitted applications sit in pending until an
// admin picks them up.
const (
	StatusDraft    = "draft"
	StatusPending  = "pending"
	StatusReview   = "review"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Sentinel errors for the application workflow.
var (
	ErrNotFound     = errors.New("tenant: application not found")
	ErrInvalidInput = errors.New("tenant: invalid input")
	ErrBadStatus    = errors.New("tenant: invalid status transition")
)

// transitions holds the allowed status moves. Terminal states have no
// outgoing edges.
var transitions = map[string][]string{
	StatusDraft:   {StatusPending},
	StatusPending: {StatusReview, StatusApproved, StatusRejected},
	StatusReview:  {StatusApproved, StatusRejected},
}

func canTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Application is one tenant onboarding request.
type Application struct {
	ID           string     `json:"id"`
	TenantName   string     `json:"tenant_name"`
	ContactEmail string     `json:"contact_email"`
	SubmittedBy  string     `json:"submitted_by"`
	Status       string     `json:"status"`
	Notes        string     `json:"notes,omitempty"`
	ReviewedBy   string     `json:"reviewed_by,omitempty"`
	ReviewedAt   *time.Time `json:"reviewed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Filter narrows List results.
type Filter struct {
	Status      string
	SubmittedBy string
	Limit       int
}

// Store persists applications.
type Store interface {
	Create(ctx context.Context, app *Application) error
	Find(ctx context.Context, id string) (*Application, error)
	List(ctx context.Context, f Filter) ([]Application, error)

	// UpdateStatus moves an application between states, recording the
	// reviewer for terminal moves. The expected current status guards
	// against concurrent reviews: the update only applies when the row
	// still carries it.
	UpdateStatus(ctx context.Context, id, from, to, reviewedBy string, at time.Time) (*Application, error)
}

// Auditor matches the audit recorder without importing its concrete type.
type Auditor interface {
	Record(ctx context.Context, entry audit.Entry)
}

// Service runs the onboarding workflow on top of a Store.
type Service struct {
	store   Store
	auditor Auditor
	now     func() time.Time
}

// NewService builds the workflow service. The auditor may be nil.
func NewService(store Store, auditor Auditor) (*Service, error) {
	if store == nil {
		return nil, errors.New("tenant: store is required")
	}
	return &Service{store: store, auditor: auditor, now: time.Now}, nil
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(fn func() time.Time) *Service {
	if fn != nil {
		s.now = fn
	}
	return s
}

// SubmitInput creates a pending application.
type SubmitInput struct {
	TenantName   string
	ContactEmail string
	SubmittedBy  string
	Notes        string
}

// Submit files a new application directly into pending.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*Application, error) {
	in.TenantName = strings.TrimSpace(in.TenantName)
	in.ContactEmail = strings.TrimSpace(strings.ToLower(in.ContactEmail))
	if in.TenantName == "" {
		return nil, fmt.Errorf("%w: tenant name is required", ErrInvalidInput)
	}
	if !strings.Contains(in.ContactEmail, "@") {
		return nil, fmt.Errorf("%w: valid contact email is required", ErrInvalidInput)
	}
	app := &Application{
		TenantName:   in.TenantName,
		ContactEmail: in.ContactEmail,
		SubmittedBy:  in.SubmittedBy,
		Status:       StatusPending,
		Notes:        in.Notes,
	}
	if err := s.store.Create(ctx, app); err != nil {
		return nil, err
	}
	s.audit(ctx, audit.Entry{
		PrincipalID:    in.SubmittedBy,
		Action:         "application.submit",
		Category:       audit.CategoryApplication,
		TargetResource: "applications",
		TargetID:       app.ID,
	})
	return app, nil
}

// Get returns one application.
func (s *Service) Get(ctx context.Context, id string) (*Application, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: application id is required", ErrInvalidInput)
	}
	return s.store.Find(ctx, id)
}

// List returns applications matching the filter.
func (s *Service) List(ctx context.Context, f Filter) ([]Application, error) {
	return s.store.List(ctx, f)
}

// Approve moves a pending or in-review application to approved.
func (s *Service) Approve(ctx context.Context, id, reviewerID string) (*Application, error) {
	return s.review(ctx, id, reviewerID, StatusApproved, "application.approve")
}

// Reject moves a pending or in-review application to rejected.
func (s *Service) Reject(ctx context.Context, id, reviewerID string) (*Application, error) {
	return s.review(ctx, id, reviewerID, StatusRejected, "application.reject")
}

func (s *Service) review(ctx context.Context, id, reviewerID, target, action string) (*Application, error) {
	app, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canTransition(app.Status, target) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrBadStatus, app.Status, target)
	}
	updated, err := s.store.UpdateStatus(ctx, app.ID, app.Status, target, reviewerID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.audit(ctx, audit.Entry{
		PrincipalID:    reviewerID,
		Action:         action,
		Category:       audit.CategoryApplication,
		TargetResource: "applications",
		TargetID:       app.ID,
		Metadata:       map[string]string{"from": app.Status, "to": target},
	})
	return updated, nil
}

func (s *Service) audit(ctx context.Context, entry audit.Entry) {
	if s.auditor == nil {
		return
	}
	s.auditor.Record(ctx, entry)
}
