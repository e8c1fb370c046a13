package tenant

import (
	"context"
	"sync"
	"time"

	"metasaas.org/internal/ids"
)

// InMemory is a mutex-guarded in-memory Store, suitable for tests and
// single-process setups.
type InMemory struct {
	mu   sync.Mutex
	apps map[string]*Application
}

func NewInMemory() *InMemory {
	return &InMemory{apps: map[string]*Application{}}
}

func (m *InMemory) Create(_ context.Context, app *Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if app.ID == "" {
		app.ID = ids.New()
	}
	now := time.Now().UTC()
	app.CreatedAt = now
	app.UpdatedAt = now
	clone := *app
	m.apps[app.ID] = &clone
	return nil
}

func (m *InMemory) Find(_ context.Context, id string) (*Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *app
	return &clone, nil
}

func (m *InMemory) List(_ context.Context, f Filter) ([]Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Application
	for _, app := range m.apps {
		if f.Status != "" && app.Status != f.Status {
			continue
		}
		if f.SubmittedBy != "" && app.SubmittedBy != f.SubmittedBy {
			continue
		}
		res = append(res, *app)
	}
	return res, nil
}

func (m *InMemory) UpdateStatus(_ context.Context, id, from, to, reviewedBy string, at time.Time) (*Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[id]
	if !ok || app.Status != from {
		return nil, ErrNotFound
	}
	app.Status = to
	app.ReviewedBy = reviewedBy
	stamped := at
	app.ReviewedAt = &stamped
	app.UpdatedAt = at
	clone := *app
	return &clone, nil
}
