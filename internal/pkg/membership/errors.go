package membership

import (
	"errors"
	"fmt"
)

// ErrMemberNotFound is returned by Store.Get when no record exists for the
// purchase email.
var ErrMemberNotFound = errors.New("member not found")

// ValidationError rejects an event before any store mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StoreError wraps a persistence failure. Callers should treat the whole
// operation as retryable.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("member store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// AuthError wraps a credential exchange or identity resolution failure and
// aborts the identity-link operation.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("discord %s failed: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RoleMutationError wraps a capability grant/revoke or guild-join failure.
// It is never fatal to the member-record merge; handlers log it and expose
// it through SyncResult.
type RoleMutationError struct {
	Op  string
	Err error
}

func (e *RoleMutationError) Error() string {
	return fmt.Sprintf("role mutation %s failed: %v", e.Op, e.Err)
}

func (e *RoleMutationError) Unwrap() error { return e.Err }
