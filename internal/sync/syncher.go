// Package sync reconciles the entities of one import run against the
// entities already stored for the same source.
//
// A Syncher is seeded with the stored entities, marked with every entity the
// run touches, and finished once. Finish deletes what was seeded but never
// marked, through a DeletionPolicy.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/hyperengineering/linkedevents/internal/types"
)

// DefaultChunkSize is the page size used while seeding.
const DefaultChunkSize = 10000

// Safety guard thresholds: a Finish deleting more than minGuardedDeletions
// entities and more than maxDeletionRatio of the tracked set is refused
// unless forced.
const (
	minGuardedDeletions = 5
	maxDeletionRatio    = 0.2
)

// Seeder pages through stored entities ordered by id. It returns an empty
// page when exhausted.
type Seeder[T any] func(ctx context.Context, afterID string, limit int) ([]T, error)

type state int

const (
	stateAccumulating state = iota
	stateFinished
)

// Result summarises one session.
type Result struct {
	Seeded     int
	Marked     int
	Created    int
	Changed    int
	Unchanged  int
	Deleted    int
	DeletedIDs []string
}

// Option configures a Syncher.
type Option func(*options)

type options struct {
	name      string
	chunkSize int
}

// WithName labels log lines of the session.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithChunkSize overrides DefaultChunkSize.
func WithChunkSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

// Syncher tracks one reconciliation session. It is not safe for concurrent
// use; a run feeds it sequentially.
type Syncher[T any] struct {
	name   string
	idFn   func(T) string
	policy DeletionPolicy[T]

	objs   map[string]T
	found  map[string]bool
	state  state
	result Result
}

// New seeds a session from seeder in chunks. idFn derives the tracking key
// of an entity.
func New[T any](ctx context.Context, seeder Seeder[T], idFn func(T) string, policy DeletionPolicy[T], opts ...Option) (*Syncher[T], error) {
	if policy == nil {
		return nil, ErrNoPolicy
	}
	o := options{name: "entities", chunkSize: DefaultChunkSize}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Syncher[T]{
		name:   o.name,
		idFn:   idFn,
		policy: policy,
		objs:   make(map[string]T),
		found:  make(map[string]bool),
	}

	if seeder != nil {
		after := ""
		for {
			page, err := seeder(ctx, after, o.chunkSize)
			if err != nil {
				return nil, fmt.Errorf("seed %s: %w", s.name, err)
			}
			for _, obj := range page {
				s.objs[idFn(obj)] = obj
			}
			if len(page) < o.chunkSize {
				break
			}
			after = cursorOf(page[len(page)-1], idFn)
		}
	}
	s.result.Seeded = len(s.objs)

	slog.Debug("syncher seeded",
		"component", "syncher",
		"syncher", s.name,
		"seeded", s.result.Seeded,
	)
	return s, nil
}

// Mark records obj as seen in this run. Marking the same id twice fails
// with ErrAlreadyMarked without touching the session. The marked instance
// replaces the seeded snapshot on purpose: it carries the state the upsert
// just saved, so Get and Finish see that rather than the stale seed.
func (s *Syncher[T]) Mark(obj T) error {
	if s.state == stateFinished {
		return ErrFinished
	}
	id := s.idFn(obj)
	if s.found[id] {
		return fmt.Errorf("mark %s %s: %w", s.name, id, ErrAlreadyMarked)
	}

	s.objs[id] = obj
	s.found[id] = true
	s.result.Marked++

	if tr, ok := any(obj).(interface{ Tracked() *types.Tracking }); ok {
		switch t := tr.Tracked(); {
		case t.Created:
			s.result.Created++
		case t.Changed:
			s.result.Changed++
		default:
			s.result.Unchanged++
		}
	}
	return nil
}

// Get returns the tracked entity for id, seeded or marked.
func (s *Syncher[T]) Get(id string) (T, bool) {
	obj, ok := s.objs[id]
	return obj, ok
}

// IsMarked reports whether id was marked in this session.
func (s *Syncher[T]) IsMarked(id string) bool {
	return s.found[id]
}

// Len returns the number of tracked entities.
func (s *Syncher[T]) Len() int {
	return len(s.objs)
}

// Candidates returns the ids that Finish would currently try to delete,
// in id order.
func (s *Syncher[T]) Candidates() []string {
	var ids []string
	for id, obj := range s.objs {
		if s.found[id] || s.policy.IsDeleted(obj) {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Finish deletes every tracked entity that was not marked. It is terminal:
// the session cannot be used afterwards, even when Finish fails.
//
// The safety guard and the policy veto are evaluated for all candidates
// before anything is deleted, so ErrTooManyDeletions and ErrDeletionVetoed
// leave the store untouched.
func (s *Syncher[T]) Finish(ctx context.Context, force bool) (*Result, error) {
	if s.state == stateFinished {
		return nil, ErrFinished
	}
	s.state = stateFinished

	candidates := s.Candidates()
	clear(s.found)

	total := len(s.objs)
	if len(candidates) > minGuardedDeletions &&
		float64(len(candidates)) > float64(total)*maxDeletionRatio && !force {
		slog.Error("refusing mass deletion",
			"component", "syncher",
			"syncher", s.name,
			"candidates", len(candidates),
			"total", total,
		)
		return nil, fmt.Errorf("%s: %d of %d would be deleted: %w",
			s.name, len(candidates), total, ErrTooManyDeletions)
	}

	for _, id := range candidates {
		ok, err := s.policy.MayDelete(ctx, s.objs[id])
		if err != nil {
			return nil, fmt.Errorf("check deletion of %s %s: %w", s.name, id, err)
		}
		if !ok {
			return nil, fmt.Errorf("%s %s: %w", s.name, id, ErrDeletionVetoed)
		}
	}

	res := s.result
	for _, id := range candidates {
		if err := ctx.Err(); err != nil {
			return &res, err
		}
		deleted, err := s.policy.Delete(ctx, s.objs[id])
		if err != nil {
			return &res, fmt.Errorf("delete %s %s: %w", s.name, id, err)
		}
		if !deleted {
			continue
		}
		res.Deleted++
		res.DeletedIDs = append(res.DeletedIDs, id)
		slog.Info("deleted entity",
			"component", "syncher",
			"syncher", s.name,
			"id", id,
		)
	}

	slog.Info("syncher finished",
		"component", "syncher",
		"syncher", s.name,
		"seeded", res.Seeded,
		"marked", res.Marked,
		"deleted", res.Deleted,
		"forced", force,
	)
	return &res, nil
}

// cursorOf returns the keyset cursor of obj. Seeders page by entity id,
// which may differ from the tracking key.
func cursorOf[T any](obj T, idFn func(T) string) string {
	if e, ok := any(obj).(interface{ EntityID() string }); ok {
		return e.EntityID()
	}
	return idFn(obj)
}

// EntityID is the default idFn for stored entities.
func EntityID[T interface{ EntityID() string }](obj T) string {
	return obj.EntityID()
}
