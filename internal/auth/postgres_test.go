package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func newMockStore(t *testing.T) (*PGStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPGStore(db), mock
}

func TestPGUsersFindByEmail(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "name", "email", "password_hash", "role", "status",
		"failed_attempts", "locked_until", "last_login_at", "created_at", "updated_at",
	}).AddRow("u1", "Ada", "ada@example.com", "$2a$10$hash", "admin", "active", 2, nil, nil, now, now)
	mock.ExpectQuery(`select .* from users where lower\(email\)=lower\(\$1\)`).
		WithArgs("ADA@example.com").
		WillReturnRows(rows)

	u, err := store.Users().FindByEmail(context.Background(), "ADA@example.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if u.ID != "u1" || u.Role != RoleAdmin || u.FailedAttempts != 2 {
		t.Fatalf("unexpected principal: %+v", u)
	}
	if u.LockedUntil != nil || u.LastLoginAt != nil {
		t.Fatalf("null timestamps must scan as nil")
	}

	mock.ExpectQuery(`select .* from users where lower\(email\)=lower\(\$1\)`).
		WithArgs("ghost@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	if _, err := store.Users().FindByEmail(context.Background(), "ghost@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGUsersCreateTranslatesUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`insert into users`).
		WithArgs(sqlmock.AnyArg(), "Ada", "ada@example.com", sqlmock.AnyArg(), "admin", "active").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"})

	err := store.Users().Create(context.Background(), &Principal{
		Name: "Ada", Email: "ada@example.com", PasswordHash: "x", Role: RoleAdmin, Status: StatusActive,
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGRecordLoginFailure(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	cmd := DefaultLockoutPolicy().FailureCommand(now)

	mock.ExpectQuery(`update users set`).
		WithArgs("u1", cmd.Threshold, cmd.LockUntil).
		WillReturnRows(sqlmock.NewRows([]string{"failed_attempts", "locked_until"}).AddRow(3, nil))

	result, err := store.Users().RecordLoginFailure(context.Background(), "u1", cmd)
	if err != nil {
		t.Fatalf("RecordLoginFailure: %v", err)
	}
	if result.FailedAttempts != 3 || result.LockedUntil != nil {
		t.Fatalf("unexpected result: %+v", result)
	}

	// The crossing failure reports the lock back in the same round trip.
	mock.ExpectQuery(`update users set`).
		WithArgs("u1", cmd.Threshold, cmd.LockUntil).
		WillReturnRows(sqlmock.NewRows([]string{"failed_attempts", "locked_until"}).AddRow(5, cmd.LockUntil))

	result, err = store.Users().RecordLoginFailure(context.Background(), "u1", cmd)
	if err != nil {
		t.Fatalf("RecordLoginFailure: %v", err)
	}
	if !result.JustLocked(cmd) {
		t.Fatalf("expected JustLocked, got %+v", result)
	}

	mock.ExpectQuery(`update users set`).
		WithArgs("ghost", cmd.Threshold, cmd.LockUntil).
		WillReturnRows(sqlmock.NewRows([]string{"failed_attempts", "locked_until"}))
	if _, err := store.Users().RecordLoginFailure(context.Background(), "ghost", cmd); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGUsersUpdateBuildsPartialSet(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	name := "Renamed"
	status := StatusSuspended
	rows := sqlmock.NewRows([]string{
		"id", "name", "email", "password_hash", "role", "status",
		"failed_attempts", "locked_until", "last_login_at", "created_at", "updated_at",
	}).AddRow("u1", "Renamed", "ada@example.com", "$2a$10$hash", "admin", "suspended", 0, nil, nil, now, now)
	mock.ExpectQuery(`update users set updated_at=now\(\), name=\$2, status=\$3 where id=\$1`).
		WithArgs("u1", name, status).
		WillReturnRows(rows)

	u, err := store.Users().Update(context.Background(), "u1", UserPatch{Name: &name, Status: &status})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if u.Name != "Renamed" || u.Status != StatusSuspended {
		t.Fatalf("unexpected principal: %+v", u)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGPermissionsForRoleName(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "name", "description", "resource", "actions", "conditions",
		"is_system", "status", "created_at", "updated_at",
	}).
		AddRow("p1", "manage_all", "", "*", []byte(`["manage"]`), []byte(`{}`), true, StatusActive, now, now).
		AddRow("p2", "view_logs", "", "logs", []byte(`["read","export"]`), nil, true, StatusActive, now, now)
	mock.ExpectQuery(`(?s)from permissions p.*join role_permissions rp.*join roles r.*where r\.name=\$1`).
		WithArgs("admin").
		WillReturnRows(rows)

	perms, err := store.Permissions().ForRoleName(context.Background(), "admin")
	if err != nil {
		t.Fatalf("ForRoleName: %v", err)
	}
	if len(perms) != 2 {
		t.Fatalf("got %d permissions, want 2", len(perms))
	}
	if perms[0].Resource != ResourceAll || len(perms[0].Actions) != 1 || perms[0].Actions[0] != ActionManage {
		t.Fatalf("actions not decoded: %+v", perms[0])
	}
	if len(perms[1].Actions) != 2 {
		t.Fatalf("actions not decoded: %+v", perms[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGRolesSetPermissionsRunsInTx(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`delete from role_permissions where role_id=\$1`).
		WithArgs("r1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`insert into role_permissions`).
		WithArgs("r1", "p1").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`insert into role_permissions`).
		WithArgs("r1", "p2").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := store.Roles().SetPermissions(context.Background(), "r1", []string{"p1", "p2"}); err != nil {
		t.Fatalf("SetPermissions: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGRefreshTokens(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`insert into refresh_tokens`).
		WithArgs(sqlmock.AnyArg(), "u1", "digest", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))

	tok := &RefreshToken{UserID: "u1", TokenHash: "digest", ExpiresAt: now.Add(time.Hour)}
	if err := store.RefreshTokens().Create(context.Background(), tok); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if tok.ID == "" {
		t.Fatalf("expected generated token id")
	}

	mock.ExpectExec(`update refresh_tokens set revoked=true where user_id=\$1 and not revoked`).
		WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 3))
	if err := store.RefreshTokens().RevokeAllForUser(context.Background(), "u1"); err != nil {
		t.Fatalf("RevokeAllForUser: %v", err)
	}

	mock.ExpectExec(`update refresh_tokens set revoked=true where id=\$1`).
		WithArgs("ghost").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.RefreshTokens().Revoke(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
