package licensing

import "errors"

// Error kinds shared by the entitlement core. Mutators wrap these so callers
// can branch with errors.Is; check/validate operations encode absence as a
// reason string instead of an error.
var (
	// ErrNotFound marks an absent license, user, or API key
	ErrNotFound = errors.New("not found")

	// ErrBusinessRule marks an illegal state transition, such as renewing
	// an active license or exceeding the per-plan key quota
	ErrBusinessRule = errors.New("business rule violation")

	// ErrUnauthorized marks an operation attempted on another user's license
	ErrUnauthorized = errors.New("unauthorized")
)
