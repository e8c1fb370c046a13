// Package session binds browser cookies to principals. Sessions are the
// second authentication strategy next to bearer tokens: an opaque id
// stored server-side, with a rolling expiry refreshed on use.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports an unknown or expired session id.
var ErrNotFound = errors.New("session: not found")

// Session is the server-side record behind a session cookie. It carries
// only identifiers; permissions are resolved fresh on every request.
type Session struct {
	ID          string    `json:"id"`
	PrincipalID string    `json:"principal_id"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Store persists sessions.
type Store interface {
	// Create mints a session for the principal with a fresh opaque id.
	Create(ctx context.Context, principalID, role string) (*Session, error)

	// Get resolves a live session. Expired or unknown ids return
	// ErrNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// Touch extends the session's expiry by the configured TTL.
	Touch(ctx context.Context, id string) error

	// Delete destroys the session. Deleting an unknown id is not an
	// error; logout must be idempotent.
	Delete(ctx context.Context, id string) error
}
