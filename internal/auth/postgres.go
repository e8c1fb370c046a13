package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"metasaas.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL. Lockout mutations run as
// single statements so concurrent login failures serialize on the row.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users() UserStore                 { return &pgUsers{db: s.db} }
func (s *PGStore) Roles() RoleStore                 { return &pgRoles{db: s.db} }
func (s *PGStore) Permissions() PermissionStore     { return &pgPermissions{db: s.db} }
func (s *PGStore) RefreshTokens() RefreshTokenStore { return &pgRefreshTokens{db: s.db} }

func translateUnique(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrConflict
	}
	return err
}

// User store ---------------------------------------------------------------
type pgUsers struct{ db *sql.DB }

const userColumns = `id, name, email, password_hash, role, status, failed_attempts, locked_until, last_login_at, created_at, updated_at`

func (s *pgUsers) Create(ctx context.Context, p *Principal) error {
	if p.ID == "" {
		p.ID = ids.New()
	}
	row := s.db.QueryRowContext(ctx,
		`insert into users(id, name, email, password_hash, role, status)
		 values($1,$2,$3,$4,$5,$6)
		 returning created_at, updated_at`,
		p.ID, p.Name, p.Email, p.PasswordHash, p.Role, p.Status,
	)
	if err := row.Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		return translateUnique(err)
	}
	return nil
}

func (s *pgUsers) FindByID(ctx context.Context, id string) (*Principal, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id)
	return scanPrincipal(row)
}

func (s *pgUsers) FindByEmail(ctx context.Context, email string) (*Principal, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where lower(email)=lower($1)`, email)
	return scanPrincipal(row)
}

func (s *pgUsers) Update(ctx context.Context, id string, patch UserPatch) (*Principal, error) {
	set := []string{"updated_at=now()"}
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		set = append(set, column+"=$"+strconv.Itoa(len(args)))
	}
	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.Email != nil {
		add("email", *patch.Email)
	}
	if patch.PasswordHash != nil {
		add("password_hash", *patch.PasswordHash)
	}
	if patch.Role != nil {
		add("role", *patch.Role)
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	row := s.db.QueryRowContext(ctx,
		`update users set `+strings.Join(set, ", ")+` where id=$1 returning `+userColumns,
		args...,
	)
	p, err := scanPrincipal(row)
	if err != nil {
		return nil, translateUnique(err)
	}
	return p, nil
}

// RecordLoginFailure runs the whole lockout transition as one statement:
// a live lock leaves the row untouched, an expired lock restarts the
// counter at 1, otherwise the counter increments and the lock engages
// when the new count reaches the threshold. All CASE expressions see the
// pre-update row, which is what makes concurrent failures safe.
func (s *pgUsers) RecordLoginFailure(ctx context.Context, id string, cmd FailureCommand) (LockoutResult, error) {
	row := s.db.QueryRowContext(ctx,
		`update users set
		   failed_attempts = case
		     when locked_until is null then failed_attempts + 1
		     when locked_until <= now() then 1
		     else failed_attempts
		   end,
		   locked_until = case
		     when locked_until is null and failed_attempts + 1 >= $2 then $3
		     when locked_until is null then null
		     when locked_until <= now() then null
		     else locked_until
		   end,
		   updated_at = now()
		 where id=$1
		 returning failed_attempts, locked_until`,
		id, cmd.Threshold, cmd.LockUntil,
	)
	var (
		result LockoutResult
		locked sql.NullTime
	)
	if err := row.Scan(&result.FailedAttempts, &locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LockoutResult{}, ErrNotFound
		}
		return LockoutResult{}, err
	}
	if locked.Valid {
		until := locked.Time
		result.LockedUntil = &until
	}
	return result, nil
}

func (s *pgUsers) RecordLoginSuccess(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update users set failed_attempts=0, locked_until=null, last_login_at=$2, updated_at=now() where id=$1`,
		id, at,
	)
	return err
}

func (s *pgUsers) SetResetToken(ctx context.Context, id, digest string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update users set reset_token_digest=$2, reset_token_expires_at=$3, updated_at=now() where id=$1`,
		id, digest, expiresAt,
	)
	return err
}

func (s *pgUsers) FindByResetToken(ctx context.Context, digest string, now time.Time) (*Principal, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where reset_token_digest=$1 and reset_token_expires_at > $2`,
		digest, now,
	)
	return scanPrincipal(row)
}

func (s *pgUsers) CompletePasswordReset(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password_hash=$2, reset_token_digest=null, reset_token_expires_at=null, updated_at=now() where id=$1`,
		id, passwordHash,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPrincipal(row *sql.Row) (*Principal, error) {
	var (
		p         Principal
		locked    sql.NullTime
		lastLogin sql.NullTime
	)
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.PasswordHash, &p.Role, &p.Status,
		&p.FailedAttempts, &locked, &lastLogin, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if locked.Valid {
		until := locked.Time
		p.LockedUntil = &until
	}
	if lastLogin.Valid {
		at := lastLogin.Time
		p.LastLoginAt = &at
	}
	return &p, nil
}

// Role store ---------------------------------------------------------------
type pgRoles struct{ db *sql.DB }

const roleColumns = `id, name, description, is_system, status, created_at, updated_at`

func (s *pgRoles) Create(ctx context.Context, role *RoleRecord) error {
	if role.ID == "" {
		role.ID = ids.New()
	}
	row := s.db.QueryRowContext(ctx,
		`insert into roles(id, name, description, is_system, status)
		 values($1,$2,$3,$4,$5)
		 returning created_at, updated_at`,
		role.ID, role.Name, role.Description, role.IsSystem, role.Status,
	)
	if err := row.Scan(&role.CreatedAt, &role.UpdatedAt); err != nil {
		return translateUnique(err)
	}
	return nil
}

func (s *pgRoles) FindByID(ctx context.Context, id string) (*RoleRecord, error) {
	row := s.db.QueryRowContext(ctx, `select `+roleColumns+` from roles where id=$1`, id)
	return scanRole(row)
}

func (s *pgRoles) FindByName(ctx context.Context, name string) (*RoleRecord, error) {
	row := s.db.QueryRowContext(ctx, `select `+roleColumns+` from roles where name=$1`, name)
	return scanRole(row)
}

func (s *pgRoles) List(ctx context.Context) ([]RoleRecord, error) {
	rows, err := s.db.QueryContext(ctx, `select `+roleColumns+` from roles order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []RoleRecord
	for rows.Next() {
		var role RoleRecord
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.IsSystem,
			&role.Status, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, role)
	}
	return res, rows.Err()
}

func (s *pgRoles) Update(ctx context.Context, id string, patch RolePatch) (*RoleRecord, error) {
	set := []string{"updated_at=now()"}
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		set = append(set, column+"=$"+strconv.Itoa(len(args)))
	}
	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	row := s.db.QueryRowContext(ctx,
		`update roles set `+strings.Join(set, ", ")+` where id=$1 returning `+roleColumns,
		args...,
	)
	role, err := scanRole(row)
	if err != nil {
		return nil, translateUnique(err)
	}
	return role, nil
}

func (s *pgRoles) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from roles where id=$1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgRoles) SetPermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id=$1`, roleID); err != nil {
		return err
	}
	for _, permID := range permissionIDs {
		if _, err := tx.ExecContext(ctx,
			`insert into role_permissions(role_id, permission_id) values($1,$2) on conflict do nothing`,
			roleID, permID,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func scanRole(row *sql.Row) (*RoleRecord, error) {
	var role RoleRecord
	err := row.Scan(&role.ID, &role.Name, &role.Description, &role.IsSystem,
		&role.Status, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &role, nil
}

// Permission store ---------------------------------------------------------
type pgPermissions struct{ db *sql.DB }

const permissionColumns = `id, name, description, resource, actions, conditions, is_system, status, created_at, updated_at`

func (s *pgPermissions) Create(ctx context.Context, perm *Permission) error {
	if perm.ID == "" {
		perm.ID = ids.New()
	}
	actions, _ := json.Marshal(perm.Actions)
	conditions, _ := json.Marshal(perm.Conditions)
	row := s.db.QueryRowContext(ctx,
		`insert into permissions(id, name, description, resource, actions, conditions, is_system, status)
		 values($1,$2,$3,$4,$5,$6,$7,$8)
		 returning created_at, updated_at`,
		perm.ID, perm.Name, perm.Description, perm.Resource, actions, conditions, perm.IsSystem, perm.Status,
	)
	if err := row.Scan(&perm.CreatedAt, &perm.UpdatedAt); err != nil {
		return translateUnique(err)
	}
	return nil
}

func (s *pgPermissions) FindByID(ctx context.Context, id string) (*Permission, error) {
	row := s.db.QueryRowContext(ctx, `select `+permissionColumns+` from permissions where id=$1`, id)
	return scanPermission(row)
}

func (s *pgPermissions) FindByName(ctx context.Context, name string) (*Permission, error) {
	row := s.db.QueryRowContext(ctx, `select `+permissionColumns+` from permissions where name=$1`, name)
	return scanPermission(row)
}

func (s *pgPermissions) List(ctx context.Context) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx, `select `+permissionColumns+` from permissions order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

func (s *pgPermissions) Update(ctx context.Context, id string, patch PermissionPatch) (*Permission, error) {
	set := []string{"updated_at=now()"}
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		set = append(set, column+"=$"+strconv.Itoa(len(args)))
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.Resource != nil {
		add("resource", *patch.Resource)
	}
	if patch.Actions != nil {
		actions, _ := json.Marshal(patch.Actions)
		add("actions", actions)
	}
	if patch.Conditions != nil {
		conditions, _ := json.Marshal(patch.Conditions)
		add("conditions", conditions)
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	row := s.db.QueryRowContext(ctx,
		`update permissions set `+strings.Join(set, ", ")+` where id=$1 returning `+permissionColumns,
		args...,
	)
	perm, err := scanPermission(row)
	if err != nil {
		return nil, translateUnique(err)
	}
	return perm, nil
}

func (s *pgPermissions) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from permissions where id=$1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgPermissions) ForRoleName(ctx context.Context, roleName string) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx,
		`select p.id, p.name, p.description, p.resource, p.actions, p.conditions, p.is_system, p.status, p.created_at, p.updated_at
		 from permissions p
		 join role_permissions rp on rp.permission_id = p.id
		 join roles r on r.id = rp.role_id
		 where r.name=$1
		 order by p.name`, roleName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

func (s *pgPermissions) Ensure(ctx context.Context, perms []Permission) error {
	for _, p := range perms {
		if p.ID == "" {
			p.ID = ids.New()
		}
		actions, _ := json.Marshal(p.Actions)
		conditions, _ := json.Marshal(p.Conditions)
		if _, err := s.db.ExecContext(ctx,
			`insert into permissions(id, name, description, resource, actions, conditions, is_system, status)
			 values($1,$2,$3,$4,$5,$6,$7,$8)
			 on conflict (name) do nothing`,
			p.ID, p.Name, p.Description, p.Resource, actions, conditions, p.IsSystem, p.Status,
		); err != nil {
			return err
		}
	}
	return nil
}

func scanPermission(row *sql.Row) (*Permission, error) {
	var (
		p          Permission
		actions    []byte
		conditions []byte
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Resource, &actions, &conditions,
		&p.IsSystem, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := decodePermissionJSON(&p, actions, conditions); err != nil {
		return nil, err
	}
	return &p, nil
}

func collectPermissions(rows *sql.Rows) ([]Permission, error) {
	var res []Permission
	for rows.Next() {
		var (
			p          Permission
			actions    []byte
			conditions []byte
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Resource, &actions, &conditions,
			&p.IsSystem, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if err := decodePermissionJSON(&p, actions, conditions); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func decodePermissionJSON(p *Permission, actions, conditions []byte) error {
	if len(actions) > 0 {
		if err := json.Unmarshal(actions, &p.Actions); err != nil {
			return fmt.Errorf("permission %s: decode actions: %w", p.ID, err)
		}
	}
	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &p.Conditions); err != nil {
			return fmt.Errorf("permission %s: decode conditions: %w", p.ID, err)
		}
	}
	return nil
}

// Refresh token store ------------------------------------------------------
type pgRefreshTokens struct{ db *sql.DB }

func (s *pgRefreshTokens) Create(ctx context.Context, tok *RefreshToken) error {
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	row := s.db.QueryRowContext(ctx,
		`insert into refresh_tokens(id, user_id, token_hash, expires_at)
		 values($1,$2,$3,$4)
		 returning created_at`,
		tok.ID, tok.UserID, tok.TokenHash, tok.ExpiresAt,
	)
	return row.Scan(&tok.CreatedAt)
}

func (s *pgRefreshTokens) Find(ctx context.Context, id string) (*RefreshToken, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, user_id, token_hash, expires_at, created_at, revoked from refresh_tokens where id=$1`, id)
	var tok RefreshToken
	if err := row.Scan(&tok.ID, &tok.UserID, &tok.TokenHash, &tok.ExpiresAt, &tok.CreatedAt, &tok.Revoked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &tok, nil
}

func (s *pgRefreshTokens) Revoke(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `update refresh_tokens set revoked=true where id=$1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgRefreshTokens) RevokeAllForUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked=true where user_id=$1 and not revoked`, userID)
	return err
}
