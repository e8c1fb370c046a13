package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenIdentity is the verified payload of an access token: the principal
// id and the role snapshotted at issuance.
type TokenIdentity struct {
	ID   string
	Role Role
}

// Claims carried by access tokens.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and validates signed, time-bound access tokens. It is
// pure computation; verification performs no I/O. The secret and TTL come
// from the injected configuration, never from ambient state.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer builds an issuer. The TTL defaults to 24 hours when zero.
func NewTokenIssuer(secret, issuer string, ttl time.Duration) (*TokenIssuer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: token secret is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// WithClock overrides the time source, for tests.
func (i *TokenIssuer) WithClock(fn func() time.Time) *TokenIssuer {
	if fn != nil {
		i.now = fn
	}
	return i
}

// TTL returns the configured access token lifetime.
func (i *TokenIssuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs an HS256 token carrying {id, role} for the principal.
func (i *TokenIssuer) Issue(p Principal) (string, time.Time, error) {
	if strings.TrimSpace(p.ID) == "" {
		return "", time.Time{}, fmt.Errorf("%w: principal id is required", ErrInvalidInput)
	}
	now := i.now().UTC()
	expiresAt := now.Add(i.ttl)
	claims := Claims{
		Role: string(p.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature, expiry and issuer, and returns the identity the
// token was bound to. Failure modes are distinguishable: ErrTokenMalformed,
// ErrTokenSignature, ErrTokenExpired.
func (i *TokenIssuer) Verify(token string) (TokenIdentity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return TokenIdentity{}, ErrTokenMalformed
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrTokenSignature
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return i.now().UTC() }))
	if err != nil {
		return TokenIdentity{}, classifyTokenError(err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return TokenIdentity{}, ErrTokenMalformed
	}
	if i.issuer != "" && claims.Issuer != i.issuer {
		return TokenIdentity{}, ErrTokenMalformed
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return TokenIdentity{}, ErrTokenMalformed
	}
	role, err := ParseRole(claims.Role)
	if err != nil {
		return TokenIdentity{}, ErrTokenMalformed
	}
	return TokenIdentity{ID: claims.Subject, Role: role}, nil
}

func classifyTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, ErrTokenSignature):
		return ErrTokenSignature
	default:
		return ErrTokenMalformed
	}
}
