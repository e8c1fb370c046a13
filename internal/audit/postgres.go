package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
)

var _ Store = (*PGStore)(nil)

// PGStore persists audit entries in PostgreSQL. The table is append-only;
// no update or delete statements exist here.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Append(ctx context.Context, entry *Entry) error {
	meta, err := json.Marshal(entry.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into audit_log(id, principal_id, action, category, severity, target_resource, target_id, status, metadata, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		entry.ID, nullable(entry.PrincipalID), entry.Action, entry.Category, entry.Severity,
		nullable(entry.TargetResource), nullable(entry.TargetID), entry.Status, meta, entry.CreatedAt,
	)
	return err
}

func (s *PGStore) List(ctx context.Context, filter Filter) ([]Entry, error) {
	query := `select id, coalesce(principal_id,''), action, category, severity,
		coalesce(target_resource,''), coalesce(target_id,''), status, metadata, created_at
		from audit_log`
	var (
		conds []string
		args  []any
	)
	add := func(cond, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		conds = append(conds, cond+" = $"+strconv.Itoa(len(args)))
	}
	add("principal_id", filter.PrincipalID)
	add("category", filter.Category)
	add("status", filter.Status)
	if len(conds) > 0 {
		query += " where " + strings.Join(conds, " and ")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	args = append(args, limit)
	query += " order by created_at desc limit $" + strconv.Itoa(len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Entry
	for rows.Next() {
		var (
			e    Entry
			meta []byte
		)
		if err := rows.Scan(&e.ID, &e.PrincipalID, &e.Action, &e.Category, &e.Severity,
			&e.TargetResource, &e.TargetID, &e.Status, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(meta, &e.Metadata)
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
