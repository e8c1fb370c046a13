package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"metasaas.org/internal/ids"
)

// InMemory is a mutex-guarded in-memory Store, suitable for tests and
// single-process setups. The mutex provides the per-operation atomicity
// a SQL backend gives per statement.
type InMemory struct {
	mu  sync.Mutex
	now func() time.Time

	users     map[string]*Principal
	roles     map[string]*RoleRecord
	perms     map[string]*Permission
	rolePerms map[string][]string
	tokens    map[string]*RefreshToken
	resets    map[string]resetRecord
}

type resetRecord struct {
	userID    string
	expiresAt time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{
		now:       time.Now,
		users:     map[string]*Principal{},
		roles:     map[string]*RoleRecord{},
		perms:     map[string]*Permission{},
		rolePerms: map[string][]string{},
		tokens:    map[string]*RefreshToken{},
		resets:    map[string]resetRecord{},
	}
}

func (m *InMemory) Users() UserStore                 { return memUsers{m} }
func (m *InMemory) Roles() RoleStore                 { return memRoles{m} }
func (m *InMemory) Permissions() PermissionStore     { return memPerms{m} }
func (m *InMemory) RefreshTokens() RefreshTokenStore { return memTokens{m} }

type memUsers struct{ s *InMemory }

func (u memUsers) Create(_ context.Context, p *Principal) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	for _, existing := range u.s.users {
		if strings.EqualFold(existing.Email, p.Email) {
			return ErrConflict
		}
	}
	if p.ID == "" {
		p.ID = ids.New()
	}
	now := u.s.now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	clone := *p
	u.s.users[p.ID] = &clone
	return nil
}

func (u memUsers) FindByID(_ context.Context, id string) (*Principal, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	p, ok := u.s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (u memUsers) FindByEmail(_ context.Context, email string) (*Principal, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	for _, p := range u.s.users {
		if strings.EqualFold(p.Email, email) {
			clone := *p
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (u memUsers) Update(_ context.Context, id string, patch UserPatch) (*Principal, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	p, ok := u.s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if patch.Email != nil {
		for otherID, other := range u.s.users {
			if otherID != id && strings.EqualFold(other.Email, *patch.Email) {
				return nil, ErrConflict
			}
		}
		p.Email = *patch.Email
	}
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.PasswordHash != nil {
		p.PasswordHash = *patch.PasswordHash
	}
	if patch.Role != nil {
		p.Role = *patch.Role
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	p.UpdatedAt = u.s.now().UTC()
	clone := *p
	return &clone, nil
}

func (u memUsers) RecordLoginFailure(_ context.Context, id string, cmd FailureCommand) (LockoutResult, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	p, ok := u.s.users[id]
	if !ok {
		return LockoutResult{}, ErrNotFound
	}
	*p = cmd.Apply(*p, u.s.now().UTC())
	result := LockoutResult{FailedAttempts: p.FailedAttempts}
	if p.LockedUntil != nil {
		until := *p.LockedUntil
		result.LockedUntil = &until
	}
	return result, nil
}

func (u memUsers) RecordLoginSuccess(_ context.Context, id string, at time.Time) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	p, ok := u.s.users[id]
	if !ok {
		return ErrNotFound
	}
	p.FailedAttempts = 0
	p.LockedUntil = nil
	stamp := at.UTC()
	p.LastLoginAt = &stamp
	return nil
}

func (u memUsers) SetResetToken(_ context.Context, id, digest string, expiresAt time.Time) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	if _, ok := u.s.users[id]; !ok {
		return ErrNotFound
	}
	// A fresh request supersedes any prior token for the account.
	for d, rec := range u.s.resets {
		if rec.userID == id {
			delete(u.s.resets, d)
		}
	}
	u.s.resets[digest] = resetRecord{userID: id, expiresAt: expiresAt}
	return nil
}

func (u memUsers) FindByResetToken(_ context.Context, digest string, now time.Time) (*Principal, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	rec, ok := u.s.resets[digest]
	if !ok || now.After(rec.expiresAt) {
		return nil, ErrNotFound
	}
	p, ok := u.s.users[rec.userID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (u memUsers) CompletePasswordReset(_ context.Context, id, passwordHash string) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	p, ok := u.s.users[id]
	if !ok {
		return ErrNotFound
	}
	p.PasswordHash = passwordHash
	p.UpdatedAt = u.s.now().UTC()
	for d, rec := range u.s.resets {
		if rec.userID == id {
			delete(u.s.resets, d)
		}
	}
	return nil
}

type memRoles struct{ s *InMemory }

func (r memRoles) Create(_ context.Context, role *RoleRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.roles {
		if existing.Name == role.Name {
			return ErrConflict
		}
	}
	if role.ID == "" {
		role.ID = ids.New()
	}
	now := r.s.now().UTC()
	role.CreatedAt = now
	role.UpdatedAt = now
	clone := *role
	r.s.roles[role.ID] = &clone
	return nil
}

func (r memRoles) FindByID(_ context.Context, id string) (*RoleRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	role, ok := r.s.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *role
	return &clone, nil
}

func (r memRoles) FindByName(_ context.Context, name string) (*RoleRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, role := range r.s.roles {
		if role.Name == name {
			clone := *role
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (r memRoles) List(_ context.Context) ([]RoleRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]RoleRecord, 0, len(r.s.roles))
	for _, role := range r.s.roles {
		out = append(out, *role)
	}
	return out, nil
}

func (r memRoles) Update(_ context.Context, id string, patch RolePatch) (*RoleRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	role, ok := r.s.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	if patch.Name != nil {
		// Mirrors the unique index on roles.name.
		for otherID, other := range r.s.roles {
			if otherID != id && other.Name == *patch.Name {
				return nil, ErrConflict
			}
		}
		role.Name = *patch.Name
	}
	if patch.Description != nil {
		role.Description = *patch.Description
	}
	if patch.Status != nil {
		role.Status = *patch.Status
	}
	role.UpdatedAt = r.s.now().UTC()
	clone := *role
	return &clone, nil
}

func (r memRoles) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.roles[id]; !ok {
		return ErrNotFound
	}
	delete(r.s.roles, id)
	delete(r.s.rolePerms, id)
	return nil
}

func (r memRoles) SetPermissions(_ context.Context, roleID string, permissionIDs []string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.roles[roleID]; !ok {
		return ErrNotFound
	}
	r.s.rolePerms[roleID] = append([]string(nil), permissionIDs...)
	return nil
}

type memPerms struct{ s *InMemory }

func (p memPerms) Create(_ context.Context, perm *Permission) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	for _, existing := range p.s.perms {
		if existing.Name == perm.Name {
			return ErrConflict
		}
	}
	if perm.ID == "" {
		perm.ID = ids.New()
	}
	now := p.s.now().UTC()
	perm.CreatedAt = now
	perm.UpdatedAt = now
	clone := *perm
	p.s.perms[perm.ID] = &clone
	return nil
}

func (p memPerms) FindByID(_ context.Context, id string) (*Permission, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	perm, ok := p.s.perms[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *perm
	return &clone, nil
}

func (p memPerms) FindByName(_ context.Context, name string) (*Permission, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	for _, perm := range p.s.perms {
		if perm.Name == name {
			clone := *perm
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (p memPerms) List(_ context.Context) ([]Permission, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	out := make([]Permission, 0, len(p.s.perms))
	for _, perm := range p.s.perms {
		out = append(out, *perm)
	}
	return out, nil
}

func (p memPerms) Update(_ context.Context, id string, patch PermissionPatch) (*Permission, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	perm, ok := p.s.perms[id]
	if !ok {
		return nil, ErrNotFound
	}
	if patch.Description != nil {
		perm.Description = *patch.Description
	}
	if patch.Resource != nil {
		perm.Resource = *patch.Resource
	}
	if patch.Actions != nil {
		perm.Actions = append([]Action(nil), patch.Actions...)
	}
	if patch.Conditions != nil {
		perm.Conditions = patch.Conditions
	}
	if patch.Status != nil {
		perm.Status = *patch.Status
	}
	perm.UpdatedAt = p.s.now().UTC()
	clone := *perm
	return &clone, nil
}

func (p memPerms) Delete(_ context.Context, id string) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	if _, ok := p.s.perms[id]; !ok {
		return ErrNotFound
	}
	delete(p.s.perms, id)
	return nil
}

func (p memPerms) ForRoleName(_ context.Context, roleName string) ([]Permission, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	var roleID string
	for id, role := range p.s.roles {
		if role.Name == roleName {
			roleID = id
			break
		}
	}
	if roleID == "" {
		return nil, nil
	}
	var out []Permission
	for _, permID := range p.s.rolePerms[roleID] {
		if perm, ok := p.s.perms[permID]; ok {
			out = append(out, *perm)
		}
	}
	return out, nil
}

func (p memPerms) Ensure(_ context.Context, perms []Permission) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	for _, perm := range perms {
		exists := false
		for _, existing := range p.s.perms {
			if existing.Name == perm.Name {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		if perm.ID == "" {
			perm.ID = ids.New()
		}
		now := p.s.now().UTC()
		perm.CreatedAt = now
		perm.UpdatedAt = now
		clone := perm
		p.s.perms[perm.ID] = &clone
	}
	return nil
}

type memTokens struct{ s *InMemory }

func (t memTokens) Create(_ context.Context, tok *RefreshToken) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	tok.CreatedAt = t.s.now().UTC()
	clone := *tok
	t.s.tokens[tok.ID] = &clone
	return nil
}

func (t memTokens) Find(_ context.Context, id string) (*RefreshToken, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	tok, ok := t.s.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *tok
	return &clone, nil
}

func (t memTokens) Revoke(_ context.Context, id string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	tok, ok := t.s.tokens[id]
	if !ok {
		return ErrNotFound
	}
	tok.Revoked = true
	return nil
}

func (t memTokens) RevokeAllForUser(_ context.Context, userID string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, tok := range t.s.tokens {
		if tok.UserID == userID {
			tok.Revoked = true
		}
	}
	return nil
}

func (t memTokens) activeCount(userID string) int {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	n := 0
	for _, tok := range t.s.tokens {
		if tok.UserID == userID && !tok.Revoked {
			n++
		}
	}
	return n
}
