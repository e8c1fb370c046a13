// Package migrate applies SQL schema migrations and idempotent seed
// files from disk. Applied files are tracked in a single ledger table so
// the admin schema and the RBAC seed data can be rolled forward together.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"metasaas.org/internal/obs"
)

const defaultLedgerTable = "schema_ledger"

// Ledger entry kinds.
const (
	KindMigration = "migration"
	KindSeed      = "seed"
)

// Applied is one ledger row.
type Applied struct {
	Name      string
	Kind      string
	AppliedAt time.Time
}

// Manager runs migrations and seeds against one database.
type Manager struct {
	db            *sql.DB
	migrationsDir string
	seedsDir      string
	ledgerTable   string
}

// Option configures Manager.
type Option func(*Manager)

// WithLedgerTable overrides the bookkeeping table name.
func WithLedgerTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.ledgerTable = name
		}
	}
}

// NewManager constructs a Manager reading SQL files from the given dirs.
func NewManager(db *sql.DB, migrationsDir, seedsDir string, opts ...Option) *Manager {
	m := &Manager{
		db:            db,
		migrationsDir: migrationsDir,
		seedsDir:      seedsDir,
		ledgerTable:   defaultLedgerTable,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies every pending .up.sql migration in lexical order.
func (m *Manager) Up(ctx context.Context) error {
	return m.run(ctx, KindMigration, m.migrationsDir, ".up.sql")
}

// Seed applies every pending seed file. Seed SQL must itself be written
// idempotently (on conflict do nothing); the ledger only prevents reruns
// of whole files.
func (m *Manager) Seed(ctx context.Context) error {
	return m.run(ctx, KindSeed, m.seedsDir, ".sql")
}

func (m *Manager) run(ctx context.Context, kind, dir, suffix string) error {
	if err := m.ensureLedger(ctx); err != nil {
		return err
	}
	done, err := m.appliedSet(ctx, kind)
	if err != nil {
		return err
	}
	files, err := collectSQL(dir, suffix)
	if err != nil {
		return err
	}
	for _, f := range files {
		if done[f.base] {
			continue
		}
		if err := m.execFile(ctx, f.path); err != nil {
			return fmt.Errorf("apply %s %s: %w", kind, f.base, err)
		}
		if _, err := m.db.ExecContext(ctx,
			fmt.Sprintf(`insert into %s(name, kind, applied_at) values($1,$2,$3)`, m.ledgerTable),
			f.base, kind, time.Now().UTC(),
		); err != nil {
			return err
		}
		obs.LogJSON(map[string]any{
			"level": "info",
			"msg":   "schema file applied",
			"kind":  kind,
			"file":  f.base,
		})
	}
	return nil
}

// Down rolls back the most recently applied migration using its
// .down.sql counterpart.
func (m *Manager) Down(ctx context.Context) error {
	if err := m.ensureLedger(ctx); err != nil {
		return err
	}
	applied, err := m.Status(ctx)
	if err != nil {
		return err
	}
	var last string
	for _, entry := range applied {
		if entry.Kind == KindMigration {
			last = entry.Name
		}
	}
	if last == "" {
		return errors.New("migrate: nothing to roll back")
	}
	downPath := filepath.Join(m.migrationsDir, strings.TrimSuffix(last, ".up.sql")+".down.sql")
	if _, err := os.Stat(downPath); err != nil {
		return fmt.Errorf("migrate: no down file for %s", last)
	}
	if err := m.execFile(ctx, downPath); err != nil {
		return fmt.Errorf("roll back %s: %w", last, err)
	}
	_, err = m.db.ExecContext(ctx,
		fmt.Sprintf(`delete from %s where name=$1 and kind=$2`, m.ledgerTable),
		last, KindMigration,
	)
	if err == nil {
		obs.LogJSON(map[string]any{
			"level": "info",
			"msg":   "migration rolled back",
			"file":  last,
		})
	}
	return err
}

// Status returns the ledger in application order.
func (m *Manager) Status(ctx context.Context) ([]Applied, error) {
	if err := m.ensureLedger(ctx); err != nil {
		return nil, err
	}
	rows, err := m.db.QueryContext(ctx,
		fmt.Sprintf(`select name, kind, applied_at from %s order by applied_at, name`, m.ledgerTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Applied
	for rows.Next() {
		var entry Applied
		if err := rows.Scan(&entry.Name, &entry.Kind, &entry.AppliedAt); err != nil {
			return nil, err
		}
		res = append(res, entry)
	}
	return res, rows.Err()
}

func (m *Manager) ensureLedger(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, fmt.Sprintf(`
		create table if not exists %s (
			name text not null,
			kind text not null,
			applied_at timestamptz not null default now(),
			primary key (name, kind)
		)`, m.ledgerTable))
	return err
}

func (m *Manager) appliedSet(ctx context.Context, kind string) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx,
		fmt.Sprintf(`select name from %s where kind=$1`, m.ledgerTable), kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		done[name] = true
	}
	return done, rows.Err()
}

// execFile runs one SQL file inside a transaction, statement by
// statement.
func (m *Manager) execFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range splitStatements(string(raw)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type sqlFile struct {
	base string
	path string
}

func collectSQL(dir, suffix string) ([]sqlFile, error) {
	if dir == "" {
		return nil, nil
	}
	var files []sqlFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), suffix) {
			files = append(files, sqlFile{base: d.Name(), path: path})
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].base < files[j].base })
	return files, nil
}

// splitStatements splits on semicolons outside single-quoted strings.
// Good enough for plain DDL and seed inserts; no dollar quoting.
func splitStatements(script string) []string {
	var (
		stmts    []string
		current  strings.Builder
		inString bool
	)
	for _, r := range script {
		current.WriteRune(r)
		switch r {
		case '\'':
			inString = !inString
		case ';':
			if !inString {
				stmts = append(stmts, current.String())
				current.Reset()
			}
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		stmts = append(stmts, current.String())
	}
	return stmts
}
