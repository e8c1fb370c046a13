package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"metasaas.org/internal/obs"
)

type fakeStore struct {
	entries []Entry
	err     error
}

func (f *fakeStore) Append(_ context.Context, entry *Entry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeStore) List(_ context.Context, _ Filter) ([]Entry, error) {
	return f.entries, f.err
}

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetFlags(0)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(original) })
	return &buf
}

func TestRecordFillsDefaults(t *testing.T) {
	captureLog(t)
	store := &fakeStore{}
	rec := NewRecorder(store).WithClock(func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	})

	rec.Record(context.Background(), Entry{
		PrincipalID: "user-1",
		Action:      "auth.login",
		Category:    CategoryAuth,
	})

	if len(store.entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(store.entries))
	}
	got := store.entries[0]
	if got.ID == "" {
		t.Fatal("expected generated id")
	}
	if got.Severity != SeverityInfo || got.Status != StatusSuccess {
		t.Fatalf("defaults not applied: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to be set")
	}
}

func TestRecordSwallowsStoreFailure(t *testing.T) {
	buf := captureLog(t)
	rec := NewRecorder(&fakeStore{err: errors.New("disk full")})

	// Must not panic or propagate; Record has no error return by design.
	rec.Record(context.Background(), Entry{
		Action:   "auth.login",
		Category: CategoryAuth,
		Status:   StatusFailed,
	})

	out := buf.String()
	if !strings.Contains(out, "audit append failed") {
		t.Fatalf("expected local failure log, got: %s", out)
	}
}

func TestRecordEmitsStructuredLine(t *testing.T) {
	buf := captureLog(t)
	rec := NewRecorder(nil)

	rec.Record(context.Background(), Entry{
		PrincipalID:    "user-9",
		Action:         "authz.denied",
		Category:       CategoryAuth,
		Severity:       SeverityWarning,
		TargetResource: "applications",
		Status:         StatusFailed,
	})

	line := strings.TrimSpace(buf.String())
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" || entry["event"] != "authz.denied" {
		t.Fatalf("unexpected log entry: %v", entry)
	}
	if entry["severity"] != SeverityWarning || entry["status"] != StatusFailed {
		t.Fatalf("unexpected severity/status: %v", entry)
	}
}

func TestRecordDropsEntryWithoutAction(t *testing.T) {
	captureLog(t)
	store := &fakeStore{}
	rec := NewRecorder(store)

	rec.Record(context.Background(), Entry{Category: CategoryAuth})

	if len(store.entries) != 0 {
		t.Fatalf("expected entry to be dropped, got %d", len(store.entries))
	}
}
