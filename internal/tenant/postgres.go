package tenant

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"metasaas.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const applicationColumns = `id, tenant_name, contact_email, submitted_by, status, notes, reviewed_by, reviewed_at, created_at, updated_at`

func (s *PGStore) Create(ctx context.Context, app *Application) error {
	if app.ID == "" {
		app.ID = ids.New()
	}
	row := s.db.QueryRowContext(ctx,
		`insert into applications(id, tenant_name, contact_email, submitted_by, status, notes)
		 values($1,$2,$3,$4,$5,$6)
		 returning created_at, updated_at`,
		app.ID, app.TenantName, app.ContactEmail, app.SubmittedBy, app.Status, app.Notes,
	)
	return row.Scan(&app.CreatedAt, &app.UpdatedAt)
}

func (s *PGStore) Find(ctx context.Context, id string) (*Application, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+applicationColumns+` from applications where id=$1`, id)
	return scanApplication(row)
}

func (s *PGStore) List(ctx context.Context, f Filter) ([]Application, error) {
	where := []string{}
	args := []any{}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, "status=$"+strconv.Itoa(len(args)))
	}
	if f.SubmittedBy != "" {
		args = append(args, f.SubmittedBy)
		where = append(where, "submitted_by=$"+strconv.Itoa(len(args)))
	}
	query := `select ` + applicationColumns + ` from applications`
	if len(where) > 0 {
		query += ` where ` + strings.Join(where, " and ")
	}
	query += ` order by created_at desc`
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	query += ` limit $` + strconv.Itoa(len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Application
	for rows.Next() {
		var (
			app        Application
			reviewedBy sql.NullString
			reviewedAt sql.NullTime
		)
		if err := rows.Scan(&app.ID, &app.TenantName, &app.ContactEmail, &app.SubmittedBy,
			&app.Status, &app.Notes, &reviewedBy, &reviewedAt, &app.CreatedAt, &app.UpdatedAt); err != nil {
			return nil, err
		}
		applyReview(&app, reviewedBy, reviewedAt)
		res = append(res, app)
	}
	return res, rows.Err()
}

// UpdateStatus compares against the expected current status in the WHERE
// clause; two admins racing on the same application means one of them
// sees ErrNotFound and re-reads.
func (s *PGStore) UpdateStatus(ctx context.Context, id, from, to, reviewedBy string, at time.Time) (*Application, error) {
	row := s.db.QueryRowContext(ctx,
		`update applications
		 set status=$3, reviewed_by=$4, reviewed_at=$5, updated_at=now()
		 where id=$1 and status=$2
		 returning `+applicationColumns,
		id, from, to, reviewedBy, at,
	)
	return scanApplication(row)
}

func scanApplication(row *sql.Row) (*Application, error) {
	var (
		app        Application
		reviewedBy sql.NullString
		reviewedAt sql.NullTime
	)
	err := row.Scan(&app.ID, &app.TenantName, &app.ContactEmail, &app.SubmittedBy,
		&app.Status, &app.Notes, &reviewedBy, &reviewedAt, &app.CreatedAt, &app.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	applyReview(&app, reviewedBy, reviewedAt)
	return &app, nil
}

func applyReview(app *Application, reviewedBy sql.NullString, reviewedAt sql.NullTime) {
	if reviewedBy.Valid {
		app.ReviewedBy = reviewedBy.String
	}
	if reviewedAt.Valid {
		at := reviewedAt.Time
		app.ReviewedAt = &at
	}
}
