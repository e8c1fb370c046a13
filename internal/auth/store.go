package auth

import (
	"context"
	"time"
)

// Store aggregates the persistence surfaces the auth subsystem needs. The
// backing store's own concurrency control (atomic updates, unique
// constraints) is the sole synchronization mechanism; no in-process locks
// guard this state.
type Store interface {
	Users() UserStore
	Roles() RoleStore
	Permissions() PermissionStore
	RefreshTokens() RefreshTokenStore
}

// UserPatch describes a partial principal update. Password carries an
// already-hashed value; hashing happens in the service exactly once per
// password change, never on unrelated field updates.
type UserPatch struct {
	Name         *string
	Email        *string
	PasswordHash *string
	Role         *Role
	Status       *string
}

// UserStore manages principal records. Email lookup is case-insensitive
// and creation is protected by a uniqueness constraint: of two concurrent
// creates with the same email exactly one survives, the other observes
// ErrConflict.
type UserStore interface {
	Create(ctx context.Context, p *Principal) error
	FindByID(ctx context.Context, id string) (*Principal, error)
	FindByEmail(ctx context.Context, email string) (*Principal, error)
	Update(ctx context.Context, id string, patch UserPatch) (*Principal, error)

	// RecordLoginFailure applies a lockout failure command as one atomic
	// statement and reports the resulting counter and lock. Concurrent
	// failures must serialize at the storage layer; read-modify-write is
	// not acceptable here.
	RecordLoginFailure(ctx context.Context, id string, cmd FailureCommand) (LockoutResult, error)

	// RecordLoginSuccess resets the counter, clears any lock and stamps
	// the last login time.
	RecordLoginSuccess(ctx context.Context, id string, at time.Time) error

	// SetResetToken stores the sha256 digest of a single-use password
	// reset token together with its expiry.
	SetResetToken(ctx context.Context, id, digest string, expiresAt time.Time) error

	// FindByResetToken resolves an unexpired reset token digest.
	FindByResetToken(ctx context.Context, digest string, now time.Time) (*Principal, error)

	// CompletePasswordReset swaps in the new hash and invalidates the
	// reset token in the same statement.
	CompletePasswordReset(ctx context.Context, id, passwordHash string) error
}

// RolePatch describes a partial role update.
type RolePatch struct {
	Name        *string
	Description *string
	Status      *string
}

// RoleStore manages role records and their permission sets.
type RoleStore interface {
	Create(ctx context.Context, role *RoleRecord) error
	FindByID(ctx context.Context, id string) (*RoleRecord, error)
	FindByName(ctx context.Context, name string) (*RoleRecord, error)
	List(ctx context.Context) ([]RoleRecord, error)
	Update(ctx context.Context, id string, patch RolePatch) (*RoleRecord, error)
	Delete(ctx context.Context, id string) error
	SetPermissions(ctx context.Context, roleID string, permissionIDs []string) error
}

// PermissionPatch describes a partial permission update.
type PermissionPatch struct {
	Description *string
	Resource    *string
	Actions     []Action
	Conditions  map[string]any
	Status      *string
}

// PermissionStore manages the permission catalog.
type PermissionStore interface {
	Create(ctx context.Context, perm *Permission) error
	FindByID(ctx context.Context, id string) (*Permission, error)
	FindByName(ctx context.Context, name string) (*Permission, error)
	List(ctx context.Context) ([]Permission, error)
	Update(ctx context.Context, id string, patch PermissionPatch) (*Permission, error)
	Delete(ctx context.Context, id string) error

	// ForRoleName resolves the permission set assigned to a role tier.
	ForRoleName(ctx context.Context, roleName string) ([]Permission, error)

	// Ensure upserts seed permissions by name without touching existing
	// records' identity.
	Ensure(ctx context.Context, perms []Permission) error
}

// RefreshTokenStore manages revocable refresh tokens. A principal holds at
// most one active token: issuing a new one revokes all prior tokens.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	Find(ctx context.Context, id string) (*RefreshToken, error)
	Revoke(ctx context.Context, id string) error
	RevokeAllForUser(ctx context.Context, userID string) error
}
