package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"metasaas.org/internal/audit"
	"metasaas.org/internal/ids"
	"metasaas.org/internal/obs"
)

const (
	defaultRefreshTTL = 7 * 24 * time.Hour
	defaultResetTTL   = time.Hour
)

// Auditor records security-relevant decisions. Implementations must be
// best-effort: Record never returns an error and never blocks the request
// outcome.
type Auditor interface {
	Record(ctx context.Context, entry audit.Entry)
}

// Mailer is the mail-sending collaborator consumed by the password reset
// flow.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Service implements credential verification, the lockout state machine,
// token issuance and the password reset flow. One Service instance covers
// every role tier; there is no per-role duplication of lockout logic.
type Service struct {
	store   Store
	hasher  Hasher
	tokens  *TokenIssuer
	lockout LockoutPolicy
	auditor Auditor
	mailer  Mailer

	refreshTTL time.Duration
	resetTTL   time.Duration
	now        func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithHasher overrides the password hasher.
func WithHasher(h Hasher) ServiceOption {
	return func(s *Service) error {
		s.hasher = h
		return nil
	}
}

// WithLockoutPolicy overrides the lockout thresholds.
func WithLockoutPolicy(p LockoutPolicy) ServiceOption {
	return func(s *Service) error {
		if p.Threshold < 1 || p.Duration <= 0 {
			return errors.New("auth: invalid lockout policy")
		}
		s.lockout = p
		return nil
	}
}

// WithAuditor wires the audit recorder.
func WithAuditor(a Auditor) ServiceOption {
	return func(s *Service) error {
		s.auditor = a
		return nil
	}
}

// WithMailer wires the mail collaborator used by password resets.
func WithMailer(m Mailer) ServiceOption {
	return func(s *Service) error {
		s.mailer = m
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithResetTTL configures password reset token lifetime.
func WithResetTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.resetTTL = ttl
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs the auth service. The token issuer is mandatory;
// everything else has sane defaults.
func NewService(store Store, tokens *TokenIssuer, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token issuer is required")
	}
	svc := &Service{
		store:      store,
		hasher:     NewHasher(0),
		tokens:     tokens,
		lockout:    DefaultLockoutPolicy(),
		refreshTTL: defaultRefreshTTL,
		resetTTL:   defaultResetTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// TokenPair is the credential bundle returned by Login and Refresh.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// RegisterInput creates a new principal. Role defaults to tenant.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Role     Role
}

// Register creates a principal, hashing the password exactly once.
func (s *Service) Register(ctx context.Context, in RegisterInput, meta RequestMeta) (*Principal, error) {
	in.Name = strings.TrimSpace(in.Name)
	email := normalizeEmail(in.Email)
	if in.Name == "" || email == "" {
		return nil, fmt.Errorf("%w: name and email are required", ErrInvalidInput)
	}
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	role := in.Role
	if role == "" {
		role = RoleTenant
	} else {
		var err error
		if role, err = ParseRole(string(role)); err != nil {
			return nil, err
		}
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	principal := &Principal{
		Name:         in.Name,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Status:       StatusActive,
	}
	if err := s.store.Users().Create(ctx, principal); err != nil {
		return nil, err
	}
	s.audit(ctx, audit.Entry{
		PrincipalID:    principal.ID,
		Action:         "auth.register",
		Category:       audit.CategoryAuth,
		TargetResource: ResourceUsers,
		TargetID:       principal.ID,
		Metadata:       metaFields(meta),
	})
	return principal, nil
}

// Login verifies credentials gated by the lockout policy, and on success
// issues a token pair. The lock check runs before password verification:
// a locked account rejects immediately so the counter cannot grow without
// bound.
func (s *Service) Login(ctx context.Context, email, password string, meta RequestMeta) (TokenPair, *AuthContext, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return TokenPair{}, nil, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}

	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.ObserveLogin("invalid_credentials")
			s.auditLoginFailure(ctx, "", meta, "unknown email")
			return TokenPair{}, nil, ErrInvalidCredentials
		}
		return TokenPair{}, nil, err
	}

	if user.Status != StatusActive {
		obs.ObserveLogin("inactive")
		s.auditLoginFailure(ctx, user.ID, meta, "account not active")
		return TokenPair{}, nil, ErrAccountInactive
	}

	now := s.now().UTC()
	if s.lockout.State(*user, now) == Locked {
		obs.ObserveLogin("locked")
		s.auditLoginFailure(ctx, user.ID, meta, "account locked")
		return TokenPair{}, nil, ErrAccountLocked
	}

	if err := s.hasher.Verify(user.PasswordHash, password); err != nil {
		if !errors.Is(err, ErrInvalidCredentials) {
			return TokenPair{}, nil, err
		}
		cmd := s.lockout.FailureCommand(now)
		result, ferr := s.store.Users().RecordLoginFailure(ctx, user.ID, cmd)
		if ferr != nil {
			return TokenPair{}, nil, ferr
		}
		obs.ObserveLogin("invalid_credentials")
		s.auditLoginFailure(ctx, user.ID, meta, "wrong password")
		if result.JustLocked(cmd) {
			obs.IncLockout()
			s.audit(ctx, audit.Entry{
				PrincipalID:    user.ID,
				Action:         "auth.lockout",
				Category:       audit.CategoryAuth,
				Severity:       audit.SeverityWarning,
				TargetResource: ResourceUsers,
				TargetID:       user.ID,
				Status:         audit.StatusFailed,
				Metadata:       metaFields(meta),
			})
		}
		return TokenPair{}, nil, ErrInvalidCredentials
	}

	if err := s.store.Users().RecordLoginSuccess(ctx, user.ID, now); err != nil {
		return TokenPair{}, nil, err
	}
	*user = s.lockout.OnSuccess(*user, now)

	actx, err := s.resolve(ctx, user)
	if err != nil {
		return TokenPair{}, nil, err
	}
	pair, err := s.mintTokens(ctx, *user, now)
	if err != nil {
		return TokenPair{}, nil, err
	}

	obs.ObserveLogin("success")
	s.audit(ctx, audit.Entry{
		PrincipalID:    user.ID,
		Action:         "auth.login",
		Category:       audit.CategoryAuth,
		TargetResource: ResourceUsers,
		TargetID:       user.ID,
		Metadata:       metaFields(meta),
	})
	return pair, actx, nil
}

// Authenticate resolves a bearer access token to an AuthContext. Pure
// signature verification first, then a status-checked principal load.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*AuthContext, error) {
	identity, err := s.tokens.Verify(accessToken)
	if err != nil {
		return nil, err
	}
	return s.ResolvePrincipal(ctx, identity.ID)
}

// ResolvePrincipal loads a principal by id and resolves its permission
// set. Shared by the bearer token and session cookie strategies so both
// produce the same resolution result.
func (s *Service) ResolvePrincipal(ctx context.Context, id string) (*AuthContext, error) {
	user, err := s.store.Users().FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if user.Status != StatusActive {
		return nil, ErrAccountInactive
	}
	return s.resolve(ctx, user)
}

// Refresh rotates a refresh token: the presented token is revoked and a
// fresh pair is issued. A principal keeps a single active refresh token.
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta RequestMeta) (TokenPair, *AuthContext, error) {
	tokenID, secret, err := splitRefreshToken(refreshToken)
	if err != nil {
		return TokenPair{}, nil, ErrTokenMalformed
	}

	tokens := s.store.RefreshTokens()
	record, err := tokens.Find(ctx, tokenID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, nil, ErrTokenMalformed
		}
		return TokenPair{}, nil, err
	}
	now := s.now().UTC()
	if record.Revoked || now.After(record.ExpiresAt) {
		return TokenPair{}, nil, ErrTokenExpired
	}
	if !digestEqual(record.TokenHash, secret) {
		// A mismatched secret against a live token id is suspicious;
		// burn the token.
		_ = tokens.Revoke(ctx, record.ID)
		return TokenPair{}, nil, ErrTokenSignature
	}

	actx, err := s.ResolvePrincipal(ctx, record.UserID)
	if err != nil {
		return TokenPair{}, nil, err
	}

	pair, err := s.mintTokens(ctx, actx.Principal, now)
	if err != nil {
		return TokenPair{}, nil, err
	}
	s.audit(ctx, audit.Entry{
		PrincipalID:    actx.Principal.ID,
		Action:         "auth.token.refresh",
		Category:       audit.CategoryAuth,
		TargetResource: ResourceUsers,
		TargetID:       actx.Principal.ID,
		Metadata:       metaFields(meta),
	})
	return pair, actx, nil
}

// UpdateUserInput patches profile fields. Password, when set, is hashed
// exactly once here; other field updates never touch the stored hash.
type UpdateUserInput struct {
	Name     *string
	Email    *string
	Password *string
	Status   *string
	Role     *Role
}

// UpdateUser applies a partial update to a principal.
func (s *Service) UpdateUser(ctx context.Context, id string, in UpdateUserInput) (*Principal, error) {
	patch := UserPatch{Name: in.Name}
	if in.Email != nil {
		email := normalizeEmail(*in.Email)
		if email == "" || !strings.Contains(email, "@") {
			return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
		}
		patch.Email = &email
	}
	if in.Status != nil {
		if !ValidStatus(*in.Status) {
			return nil, fmt.Errorf("%w: unsupported status %q", ErrInvalidInput, *in.Status)
		}
		patch.Status = in.Status
	}
	if in.Role != nil {
		role, err := ParseRole(string(*in.Role))
		if err != nil {
			return nil, err
		}
		patch.Role = &role
	}
	if in.Password != nil {
		hash, err := s.hasher.Hash(*in.Password)
		if err != nil {
			return nil, err
		}
		patch.PasswordHash = &hash
	}
	return s.store.Users().Update(ctx, id, patch)
}

// RequestPasswordReset mints a single-use reset token for the account and
// mails it. The outcome is indistinguishable to the caller whether or not
// the email exists; account enumeration is handled here, not at the HTTP
// layer.
func (s *Service) RequestPasswordReset(ctx context.Context, email string, meta RequestMeta) error {
	email = normalizeEmail(email)
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Same observable outcome as the happy path.
			return nil
		}
		return err
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return err
	}
	token := hex.EncodeToString(raw)
	digest := sha256Hex(token)
	expiresAt := s.now().UTC().Add(s.resetTTL)
	if err := s.store.Users().SetResetToken(ctx, user.ID, digest, expiresAt); err != nil {
		return err
	}

	if s.mailer != nil {
		subject := "Password reset instructions"
		body := fmt.Sprintf(
			"A password reset was requested for your account.\n\nReset token: %s\n\nThe token expires in %s. If you did not request this, ignore this message.",
			token, s.resetTTL,
		)
		if err := s.mailer.Send(ctx, user.Email, subject, body); err != nil {
			obs.LogJSON(map[string]any{
				"level": "error",
				"msg":   "password reset mail failed",
				"error": err.Error(),
			})
		}
	}

	s.audit(ctx, audit.Entry{
		PrincipalID:    user.ID,
		Action:         "auth.password.reset_requested",
		Category:       audit.CategoryAuth,
		TargetResource: ResourceUsers,
		TargetID:       user.ID,
		Metadata:       metaFields(meta),
	})
	return nil
}

// CompletePasswordReset validates a reset token, re-hashes the new
// password and invalidates the token. All refresh tokens for the account
// are revoked.
func (s *Service) CompletePasswordReset(ctx context.Context, token, newPassword string, meta RequestMeta) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidInput)
	}
	now := s.now().UTC()
	user, err := s.store.Users().FindByResetToken(ctx, sha256Hex(token), now)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: invalid or expired reset token", ErrInvalidInput)
		}
		return err
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.Users().CompletePasswordReset(ctx, user.ID, hash); err != nil {
		return err
	}
	_ = s.store.RefreshTokens().RevokeAllForUser(ctx, user.ID)

	s.audit(ctx, audit.Entry{
		PrincipalID:    user.ID,
		Action:         "auth.password.reset",
		Category:       audit.CategoryAuth,
		TargetResource: ResourceUsers,
		TargetID:       user.ID,
		Metadata:       metaFields(meta),
	})
	return nil
}

func (s *Service) resolve(ctx context.Context, user *Principal) (*AuthContext, error) {
	perms, err := s.store.Permissions().ForRoleName(ctx, string(user.Role))
	if err != nil {
		return nil, err
	}
	return &AuthContext{Principal: *user, Permissions: perms}, nil
}

func (s *Service) mintTokens(ctx context.Context, user Principal, now time.Time) (TokenPair, error) {
	accessToken, accessExp, err := s.tokens.Issue(user)
	if err != nil {
		return TokenPair{}, err
	}

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return TokenPair{}, err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	record := &RefreshToken{
		ID:        ids.New(),
		UserID:    user.ID,
		TokenHash: sha256Hex(secret),
		ExpiresAt: now.Add(s.refreshTTL),
	}

	// Single active refresh token per principal: revoke before create.
	tokens := s.store.RefreshTokens()
	if err := tokens.RevokeAllForUser(ctx, user.ID); err != nil {
		return TokenPair{}, err
	}
	if err := tokens.Create(ctx, record); err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     record.ID + "." + secret,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: record.ExpiresAt,
	}, nil
}

func (s *Service) audit(ctx context.Context, entry audit.Entry) {
	if s.auditor == nil {
		return
	}
	s.auditor.Record(ctx, entry)
}

func (s *Service) auditLoginFailure(ctx context.Context, principalID string, meta RequestMeta, reason string) {
	fields := metaFields(meta)
	fields["reason"] = reason
	s.audit(ctx, audit.Entry{
		PrincipalID:    principalID,
		Action:         "auth.login",
		Category:       audit.CategoryAuth,
		Severity:       audit.SeverityWarning,
		TargetResource: ResourceUsers,
		TargetID:       principalID,
		Status:         audit.StatusFailed,
		Metadata:       fields,
	})
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func sha256Hex(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

func digestEqual(storedHash, secret string) bool {
	// Compare digests; sha256 of the attacker-supplied secret makes the
	// comparison effectively constant-time with respect to the stored
	// value.
	return storedHash == sha256Hex(secret)
}

func metaFields(meta RequestMeta) map[string]string {
	fields := map[string]string{}
	if meta.IP != "" {
		fields["ip"] = meta.IP
	}
	if meta.UserAgent != "" {
		fields["user_agent"] = meta.UserAgent
	}
	if meta.Path != "" {
		fields["path"] = meta.Path
	}
	if meta.Method != "" {
		fields["method"] = meta.Method
	}
	return fields
}
