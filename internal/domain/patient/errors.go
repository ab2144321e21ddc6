package patient

import "errors"

// Expected business outcomes. Handlers map these to HTTP statuses; anything
// else propagating out of the store is a dependency failure and is never
// retried here.
var (
	// ErrNotFound means no record exists for the given identifier.
	ErrNotFound = errors.New("patient not found")

	// ErrConflict means a unique business key collided: either the MRN retry
	// budget was exhausted or a duplicate row was rejected by a constraint.
	ErrConflict = errors.New("patient conflict")

	// ErrPreconditionFailed means the caller's version token is stale; the
	// record was left completely unchanged.
	ErrPreconditionFailed = errors.New("version token mismatch")

	// ErrValidation means the input was rejected before touching the store.
	// The wrapping message names the offending field.
	ErrValidation = errors.New("validation failed")
)
