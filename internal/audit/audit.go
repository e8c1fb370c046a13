package audit

import (
	"context"
	"log"
	"strings"
	"time"

	"metasaas.org/internal/ids"
	"metasaas.org/internal/obs"
)

// Categories group entries the way the admin UI filters them.
const (
	CategoryAuth        = "auth"
	CategoryUser        = "user"
	CategoryRole        = "role"
	CategoryPermission  = "permission"
	CategoryApplication = "application"
	CategoryTenant      = "tenant"
	CategorySystem      = "system"
)

// Severity levels for an entry.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome of the recorded action.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Entry is an append-only record of a security-relevant decision. Entries
// are never updated or deleted.
type Entry struct {
	ID             string            `json:"id"`
	PrincipalID    string            `json:"principal_id,omitempty"`
	Action         string            `json:"action"`
	Category       string            `json:"category"`
	Severity       string            `json:"severity"`
	TargetResource string            `json:"target_resource,omitempty"`
	TargetID       string            `json:"target_id,omitempty"`
	Status         string            `json:"status"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Filter narrows List results.
type Filter struct {
	PrincipalID string
	Category    string
	Status      string
	Limit       int
}

// Store appends and reads immutable entries.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) ([]Entry, error)
}

// Recorder writes audit entries best-effort: a failed write is logged
// locally and never surfaces to the caller. The request that triggered the
// entry must not fail because auditing did.
type Recorder struct {
	store  Store
	logger *log.Logger
	now    func() time.Time
}

// NewRecorder builds a Recorder over the given store. A nil store degrades
// to log-only recording.
func NewRecorder(store Store) *Recorder {
	return &Recorder{
		store:  store,
		logger: obs.Logger(),
		now:    time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (r *Recorder) WithClock(fn func() time.Time) *Recorder {
	if fn != nil {
		r.now = fn
	}
	return r
}

// Record fills entry defaults, persists the entry and mirrors it to the
// structured log. It never returns an error.
func (r *Recorder) Record(ctx context.Context, entry Entry) {
	if r == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now().UTC()
	}
	if entry.Severity == "" {
		entry.Severity = SeverityInfo
	}
	if entry.Status == "" {
		entry.Status = StatusSuccess
	}
	entry.Action = strings.TrimSpace(entry.Action)
	if entry.Action == "" {
		r.logger.Println(`{"type":"audit","level":"error","msg":"dropped entry without action"}`)
		return
	}

	obs.LogJSON(map[string]any{
		"ts":           entry.CreatedAt.Format(time.RFC3339Nano),
		"type":         "audit",
		"event":        entry.Action,
		"category":     entry.Category,
		"severity":     entry.Severity,
		"status":       entry.Status,
		"principal_id": entry.PrincipalID,
		"target":       entry.TargetResource,
		"target_id":    entry.TargetID,
	})

	if r.store == nil {
		return
	}
	if err := r.store.Append(ctx, &entry); err != nil {
		obs.LogJSON(map[string]any{
			"type":  "audit",
			"level": "error",
			"msg":   "audit append failed",
			"event": entry.Action,
			"error": err.Error(),
		})
	}
}

// List reads entries through the underlying store.
func (r *Recorder) List(ctx context.Context, filter Filter) ([]Entry, error) {
	if r == nil || r.store == nil {
		return nil, nil
	}
	return r.store.List(ctx, filter)
}
