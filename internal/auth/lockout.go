package auth

import "time"

// LockState is the lockout state of a principal at a point in time.
type LockState int

const (
	// Unlocked: no active lock, attempts below the threshold.
	Unlocked LockState = iota
	// Locked: the lock window is still open; logins are rejected before
	// the password is even verified, so the counter cannot grow unbounded.
	Locked
	// ExpiredLock: a lock was set but its window has elapsed. Treated as
	// unlocked; the next failure restarts the counter at 1.
	ExpiredLock
)

func (s LockState) String() string {
	switch s {
	case Locked:
		return "locked"
	case ExpiredLock:
		return "expired_lock"
	default:
		return "unlocked"
	}
}

// LockoutPolicy computes lock transitions from a principal's attempt
// history. It is pure: decisions are values, and the store applies them
// with atomic statements. Lock expiry is evaluated lazily at read time;
// there is no background timer.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// DefaultLockoutPolicy mirrors the fixed policy constants: five failures,
// one hour lock.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{Threshold: 5, Duration: time.Hour}
}

// State classifies the principal at instant now. The lock timestamp is the
// source of truth; the counter alone never locks an account.
func (p LockoutPolicy) State(pr Principal, now time.Time) LockState {
	if pr.LockedUntil == nil {
		return Unlocked
	}
	if now.Before(*pr.LockedUntil) {
		return Locked
	}
	return ExpiredLock
}

// FailureCommand describes the store mutation for one failed credential
// check. The store executes it as a single atomic statement: increment the
// counter (or restart it at 1 when the previous lock already expired) and
// set LockUntil if the post-increment count reaches Threshold. A failure
// against a live lock is a no-op. Computing the crossing inside the
// statement is what keeps concurrent failures from losing updates.
type FailureCommand struct {
	Threshold int
	LockUntil time.Time
}

// FailureCommand builds the mutation for a failure observed at now.
func (p LockoutPolicy) FailureCommand(now time.Time) FailureCommand {
	return FailureCommand{
		Threshold: p.Threshold,
		LockUntil: now.Add(p.Duration).UTC(),
	}
}

// LockoutResult is the store's view of the row after a failure command.
type LockoutResult struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

// JustLocked reports whether this failure is the one that set the lock.
func (r LockoutResult) JustLocked(cmd FailureCommand) bool {
	return r.LockedUntil != nil && r.FailedAttempts == cmd.Threshold
}

// Apply runs the command against an in-memory principal value and returns
// the updated copy. Storage backends with real atomicity implement the
// same transition in SQL; this form exists for the policy's unit tests and
// for in-memory stores.
func (cmd FailureCommand) Apply(pr Principal, now time.Time) Principal {
	if pr.LockedUntil != nil {
		if now.Before(*pr.LockedUntil) {
			// Attempts against a live lock do not count; the counter
			// cannot overshoot the threshold however many arrive in
			// parallel.
			return pr
		}
		pr.FailedAttempts = 1
		pr.LockedUntil = nil
		return pr
	}
	pr.FailedAttempts++
	if pr.FailedAttempts >= cmd.Threshold {
		until := cmd.LockUntil
		pr.LockedUntil = &until
	}
	return pr
}

// OnSuccess returns the principal reset after a successful credential
// check: counter zeroed, lock cleared, last login stamped.
func (p LockoutPolicy) OnSuccess(pr Principal, now time.Time) Principal {
	pr.FailedAttempts = 0
	pr.LockedUntil = nil
	at := now.UTC()
	pr.LastLoginAt = &at
	return pr
}
