// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
)

// Common sentinels across store/service/transport layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument indicates a malformed request (unknown sync type, empty id, bad batch).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrReference indicates a parent/predecessor/id reference that resolves neither
	// through the commit session nor the entry store.
	ErrReference = errors.New("unresolved reference")

	// ErrInternalInvariant indicates the store could not keep one of its invariants
	// (for example sibling ordering headroom is exhausted even after renumbering).
	ErrInternalInvariant = errors.New("internal invariant violated")

	// ErrResourceExhausted indicates a bounded retry loop gave up (id generation).
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")
)

// ReferenceError describes which reference of a proposed entry failed to resolve.
type ReferenceError struct {
	Field string // id, parent_id or insert_after_item_id
	ID    string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("unresolved %s %q", e.Field, e.ID)
}

// Is makes errors.Is(err, ErrReference) hold for every ReferenceError.
func (e *ReferenceError) Is(target error) bool {
	return target == ErrReference
}
