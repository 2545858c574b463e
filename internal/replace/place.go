// Package replace implements the deletion policies importers hand to a
// syncher. Places with events are not simply deleted: a replacement is
// looked up through a chain of sources and the events are moved to it.
package replace

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hyperengineering/linkedevents/internal/metrics"
	modelsync "github.com/hyperengineering/linkedevents/internal/sync"
	"github.com/hyperengineering/linkedevents/internal/types"
)

// PlaceStore is the persistence the place policies need.
type PlaceStore interface {
	SoftDeletePlace(ctx context.Context, id string) (bool, error)
	CountPlaceEvents(ctx context.Context, placeID string) (int, error)
	FindPlacesByName(ctx context.Context, dataSourceID, name string, includeDeleted bool) ([]*types.Place, error)
	ReplacePlace(ctx context.Context, replaceID, byID string) (int, error)
}

// PlacePolicy soft-deletes places and finds replacements for those that
// still have events.
type PlacePolicy struct {
	store PlaceStore
	chain Chain
	remap bool
}

var _ modelsync.DeletionPolicy[*types.Place] = (*PlacePolicy)(nil)

// PlaceOption configures a PlacePolicy.
type PlaceOption func(*PlacePolicy)

// WithChain sets the replacement lookup steps, tried in order.
func WithChain(steps ...Step) PlaceOption {
	return func(p *PlacePolicy) { p.chain = steps }
}

// WithRemap makes already deleted places deletion candidates again, so
// their events are remapped on this run.
func WithRemap(remap bool) PlaceOption {
	return func(p *PlacePolicy) { p.remap = remap }
}

// NewPlacePolicy creates a policy over s. Without a chain it only matches
// live places of the same source.
func NewPlacePolicy(s PlaceStore, opts ...PlaceOption) *PlacePolicy {
	p := &PlacePolicy{store: s}
	for _, opt := range opts {
		opt(p)
	}
	if p.chain == nil {
		p.chain = Chain{SameSource(s)}
	}
	return p
}

// IsDeleted reports the soft-delete flag, or false in remap mode.
func (p *PlacePolicy) IsDeleted(place *types.Place) bool {
	if p.remap {
		return false
	}
	return place.Deleted
}

// MayDelete never vetoes.
func (p *PlacePolicy) MayDelete(context.Context, *types.Place) (bool, error) {
	return true, nil
}

// Delete soft-deletes the place. When events still point at it, the chain
// is walked until a step finds an unambiguous replacement; if none does,
// the events are left in place and a warning is logged.
func (p *PlacePolicy) Delete(ctx context.Context, place *types.Place) (bool, error) {
	deleted, err := p.store.SoftDeletePlace(ctx, place.ID)
	if err != nil {
		return false, err
	}
	if !deleted && !p.remap {
		return false, nil
	}
	place.MarkDeleted()

	n, err := p.store.CountPlaceEvents(ctx, place.ID)
	if err != nil {
		return true, err
	}
	if n == 0 {
		return true, nil
	}

	by, err := p.chain.Find(ctx, place)
	if err != nil {
		return true, fmt.Errorf("find replacement for %s: %w", place.ID, err)
	}
	if by == nil {
		metrics.PlaceReplacements.WithLabelValues("unresolved").Inc()
		slog.Warn("deleted place has events and no unambiguous replacement",
			"component", "replace",
			"place", place.ID,
			"name", displayName(place.Name),
			"events", n,
		)
		return true, nil
	}

	moved, err := p.store.ReplacePlace(ctx, place.ID, by.ID)
	if err != nil {
		return true, err
	}
	place.ReplacedBy = by.ID
	metrics.PlaceReplacements.WithLabelValues("replaced").Inc()
	slog.Info("place replaced",
		"component", "replace",
		"place", place.ID,
		"replaced_by", by.ID,
		"events_moved", moved,
	)
	return true, nil
}

// ReinstatePlace is called when a place comes back after deletion: a place
// of fromSource with the same name is replaced by it. It reports whether a
// place was replaced.
func ReinstatePlace(ctx context.Context, s PlaceStore, by *types.Place, fromSource string) (bool, error) {
	candidates, err := s.FindPlacesByName(ctx, fromSource, displayName(by.Name), true)
	if err != nil {
		return false, fmt.Errorf("find places replaced by %s: %w", by.ID, err)
	}
	candidates = without(candidates, by.ID)
	if len(candidates) != 1 {
		return false, nil
	}
	old := candidates[0]
	if old.ReplacedBy == by.ID {
		return false, nil
	}
	moved, err := s.ReplacePlace(ctx, old.ID, by.ID)
	if err != nil {
		return false, err
	}
	slog.Info("reinstated place replaces lower-trust place",
		"component", "replace",
		"place", old.ID,
		"replaced_by", by.ID,
		"events_moved", moved,
	)
	return true, nil
}

// displayName is the name used for matching, in language preference order.
func displayName(name types.Translated) string {
	for _, lang := range []string{types.LangFinnish, types.LangSwedish, types.LangEnglish} {
		if v := name.Get(lang); v != "" {
			return v
		}
	}
	return ""
}

func without(places []*types.Place, id string) []*types.Place {
	out := places[:0:0]
	for _, p := range places {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}
