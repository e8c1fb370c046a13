package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// RBACService manages the role and permission catalog. Records flagged
// IsSystem are seed data: immutable after creation no matter who asks.
type RBACService struct {
	roles RoleStore
	perms PermissionStore
}

// NewRBACService builds the catalog service.
func NewRBACService(roles RoleStore, perms PermissionStore) (*RBACService, error) {
	if roles == nil || perms == nil {
		return nil, errors.New("rbac: role and permission stores are required")
	}
	return &RBACService{roles: roles, perms: perms}, nil
}

// EnsureSeed installs the system permissions and ties them to the three
// role tiers. Safe to run repeatedly.
func (s *RBACService) EnsureSeed(ctx context.Context) error {
	if err := s.perms.Ensure(ctx, SystemPermissions()); err != nil {
		return fmt.Errorf("ensure system permissions: %w", err)
	}
	for roleName, permNames := range SystemRoles() {
		role, err := s.roles.FindByName(ctx, roleName)
		if errors.Is(err, ErrNotFound) {
			role = &RoleRecord{
				Name:        roleName,
				Description: roleName + " system role",
				IsSystem:    true,
				Status:      StatusActive,
			}
			if cerr := s.roles.Create(ctx, role); cerr != nil {
				if !errors.Is(cerr, ErrConflict) {
					return fmt.Errorf("create system role %s: %w", roleName, cerr)
				}
				// Lost a concurrent seed race; pick up the winner.
				if role, err = s.roles.FindByName(ctx, roleName); err != nil {
					return err
				}
			}
		} else if err != nil {
			return err
		}
		ids := make([]string, 0, len(permNames))
		for _, name := range permNames {
			perm, err := s.perms.FindByName(ctx, name)
			if err != nil {
				return fmt.Errorf("resolve seed permission %s: %w", name, err)
			}
			ids = append(ids, perm.ID)
		}
		if err := s.roles.SetPermissions(ctx, role.ID, ids); err != nil {
			return fmt.Errorf("seed permissions for role %s: %w", roleName, err)
		}
	}
	return nil
}

// CreatePermission validates and stores a new permission.
func (s *RBACService) CreatePermission(ctx context.Context, perm Permission) (*Permission, error) {
	perm.Name = strings.TrimSpace(strings.ToLower(perm.Name))
	if perm.Name == "" {
		return nil, fmt.Errorf("%w: permission name is required", ErrInvalidInput)
	}
	if !ValidResource(perm.Resource) {
		return nil, fmt.Errorf("%w: unknown resource %q", ErrInvalidInput, perm.Resource)
	}
	if len(perm.Actions) == 0 {
		return nil, fmt.Errorf("%w: at least one action is required", ErrInvalidInput)
	}
	for _, a := range perm.Actions {
		if !ValidAction(a) {
			return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidInput, a)
		}
	}
	if perm.Status == "" {
		perm.Status = StatusActive
	}
	// Operator-created permissions are never system records.
	perm.IsSystem = false
	if err := s.perms.Create(ctx, &perm); err != nil {
		return nil, err
	}
	return &perm, nil
}

// GetPermission returns one permission by id.
func (s *RBACService) GetPermission(ctx context.Context, id string) (*Permission, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: permission id is required", ErrInvalidInput)
	}
	return s.perms.FindByID(ctx, id)
}

// ListPermissions returns the catalog.
func (s *RBACService) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.perms.List(ctx)
}

// UpdatePermission patches a permission. System permissions fail with
// ErrSystemRecord regardless of the caller's role.
func (s *RBACService) UpdatePermission(ctx context.Context, id string, patch PermissionPatch) (*Permission, error) {
	existing, err := s.GetPermission(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.IsSystem {
		return nil, ErrSystemRecord
	}
	if patch.Resource != nil && !ValidResource(*patch.Resource) {
		return nil, fmt.Errorf("%w: unknown resource %q", ErrInvalidInput, *patch.Resource)
	}
	for _, a := range patch.Actions {
		if !ValidAction(a) {
			return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidInput, a)
		}
	}
	if patch.Status != nil && *patch.Status != StatusActive && *patch.Status != StatusInactive {
		return nil, fmt.Errorf("%w: unsupported status %q", ErrInvalidInput, *patch.Status)
	}
	return s.perms.Update(ctx, id, patch)
}

// DeletePermission removes a non-system permission.
func (s *RBACService) DeletePermission(ctx context.Context, id string) error {
	existing, err := s.GetPermission(ctx, id)
	if err != nil {
		return err
	}
	if existing.IsSystem {
		return ErrSystemRecord
	}
	return s.perms.Delete(ctx, id)
}

// CreateRole validates and stores a new role.
func (s *RBACService) CreateRole(ctx context.Context, role RoleRecord) (*RoleRecord, error) {
	role.Name = strings.TrimSpace(role.Name)
	if role.Name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	if role.Status == "" {
		role.Status = StatusActive
	}
	role.IsSystem = false
	if err := s.roles.Create(ctx, &role); err != nil {
		return nil, err
	}
	return &role, nil
}

// GetRole returns a role with its permission set resolved.
func (s *RBACService) GetRole(ctx context.Context, id string) (*RoleRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	role, err := s.roles.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	perms, err := s.perms.ForRoleName(ctx, role.Name)
	if err != nil {
		return nil, err
	}
	role.Permissions = perms
	return role, nil
}

// ListRoles returns every role.
func (s *RBACService) ListRoles(ctx context.Context) ([]RoleRecord, error) {
	return s.roles.List(ctx)
}

// UpdateRole patches a role. System roles fail with ErrSystemRecord.
func (s *RBACService) UpdateRole(ctx context.Context, id string, patch RolePatch) (*RoleRecord, error) {
	existing, err := s.roles.FindByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if existing.IsSystem {
		return nil, ErrSystemRecord
	}
	if patch.Name != nil {
		trimmed := strings.TrimSpace(*patch.Name)
		if trimmed == "" {
			return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
		}
		patch.Name = &trimmed
	}
	return s.roles.Update(ctx, existing.ID, patch)
}

// DeleteRole removes a non-system role.
func (s *RBACService) DeleteRole(ctx context.Context, id string) error {
	existing, err := s.roles.FindByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if existing.IsSystem {
		return ErrSystemRecord
	}
	return s.roles.Delete(ctx, existing.ID)
}

// SetRolePermissions replaces a role's permission set. System roles fail
// with ErrSystemRecord: the tier-to-seed-permission mapping is fixed.
func (s *RBACService) SetRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	existing, err := s.roles.FindByID(ctx, strings.TrimSpace(roleID))
	if err != nil {
		return err
	}
	if existing.IsSystem {
		return ErrSystemRecord
	}
	deduped := make([]string, 0, len(permissionIDs))
	seen := make(map[string]struct{}, len(permissionIDs))
	for _, id := range permissionIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if _, err := s.perms.FindByID(ctx, id); err != nil {
			return fmt.Errorf("permission %s: %w", id, err)
		}
		deduped = append(deduped, id)
	}
	return s.roles.SetPermissions(ctx, existing.ID, deduped)
}
