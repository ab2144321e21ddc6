package patient

import (
	"context"

	"github.com/google/uuid"

	"github.com/medregistry/registry/internal/domain/audit"
)

// Repository is the transactional patient store. Implementations own the
// transaction boundary of each operation: create and update run atomically,
// audit entries are appended inside the same transaction, and sealed fields
// never leave an implementation un-unsealed.
type Repository interface {
	// Create allocates an MRN, seals sensitive fields, and inserts the row in
	// one transaction. MRN collisions under concurrency are retried a bounded
	// number of times before surfacing ErrConflict.
	Create(ctx context.Context, p *Patient, meta audit.Meta) error

	// GetByID returns the unsealed record or ErrNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	// Update compares the current version token against expectedToken under a
	// row lock, writes only the changed columns, and returns the fresh record.
	// A stale token aborts with ErrPreconditionFailed and no write.
	Update(ctx context.Context, id uuid.UUID, changes UpdateInput, expectedToken string, meta audit.Meta) (*Patient, error)

	// Search returns one page of unsealed matches in ascending id order.
	Search(ctx context.Context, q SearchQuery) (*SearchResult, error)
}
