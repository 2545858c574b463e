package replace

import (
	"context"
	"log/slog"

	"github.com/hyperengineering/linkedevents/internal/types"
)

// Step looks for a replacement of a deleted place. It returns nil when it
// found no unambiguous candidate.
type Step func(ctx context.Context, deleted *types.Place) (*types.Place, error)

// Chain is an ordered list of lookup steps, from most to least trusted.
type Chain []Step

// Find returns the first replacement any step finds.
func (c Chain) Find(ctx context.Context, deleted *types.Place) (*types.Place, error) {
	for _, step := range c {
		by, err := step(ctx, deleted)
		if err != nil {
			return nil, err
		}
		if by != nil {
			return by, nil
		}
	}
	return nil, nil
}

// SameSource matches live places of the deleted place's own source.
func SameSource(s PlaceStore) Step {
	return func(ctx context.Context, deleted *types.Place) (*types.Place, error) {
		return matchByName(ctx, s, deleted, deleted.DataSourceID, false)
	}
}

// FromSource matches places of another source. With includeDeleted, a
// deleted candidate is accepted when no single live one exists; it is
// revived by the replacement.
func FromSource(s PlaceStore, dataSourceID string, includeDeleted bool) Step {
	return func(ctx context.Context, deleted *types.Place) (*types.Place, error) {
		by, err := matchByName(ctx, s, deleted, dataSourceID, false)
		if by != nil || err != nil || !includeDeleted {
			return by, err
		}
		return matchByName(ctx, s, deleted, dataSourceID, true)
	}
}

// ImportFunc imports the places of one source with the given name.
type ImportFunc func(ctx context.Context, name string) error

// ImportThen runs an on-demand import scoped to the deleted place's name and
// then retries with next. A failed import is logged and counts as no match.
func ImportThen(importFn ImportFunc, next Step) Step {
	return func(ctx context.Context, deleted *types.Place) (*types.Place, error) {
		name := displayName(deleted.Name)
		if name == "" {
			return nil, nil
		}
		if err := importFn(ctx, name); err != nil {
			slog.Warn("on-demand place import failed",
				"component", "replace",
				"place", deleted.ID,
				"name", name,
				"error", err,
			)
			return nil, nil
		}
		return next(ctx, deleted)
	}
}

// matchByName returns the only place of dataSourceID whose name equals the
// deleted place's name, ignoring case. Ambiguous matches count as none.
func matchByName(ctx context.Context, s PlaceStore, deleted *types.Place, dataSourceID string, includeDeleted bool) (*types.Place, error) {
	name := displayName(deleted.Name)
	if name == "" {
		return nil, nil
	}
	candidates, err := s.FindPlacesByName(ctx, dataSourceID, name, includeDeleted)
	if err != nil {
		return nil, err
	}
	candidates = without(candidates, deleted.ID)
	if len(candidates) != 1 {
		if len(candidates) > 1 {
			slog.Debug("ambiguous replacement candidates",
				"component", "replace",
				"place", deleted.ID,
				"source", dataSourceID,
				"candidates", len(candidates),
			)
		}
		return nil, nil
	}
	return candidates[0], nil
}
