package sync

import "context"

// DeletionPolicy decides how entities that were not seen during a run are
// removed. Every Syncher needs one: there is no implicit hard delete.
type DeletionPolicy[T any] interface {
	// IsDeleted reports whether obj already counts as deleted and should
	// not be a deletion candidate.
	IsDeleted(obj T) bool
	// MayDelete returns false to veto the deletion of obj.
	MayDelete(ctx context.Context, obj T) (bool, error)
	// Delete removes obj and reports whether a deletion actually happened.
	Delete(ctx context.Context, obj T) (bool, error)
}
